package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/hylla/herbchain/internal/adapters/storage/ledgertest"
)

func TestLedgerSuite(t *testing.T) {
	dsn := os.Getenv("HERBCHAIN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HERBCHAIN_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, &ledgertest.Suite{
		NewBackend: func() (ledgertest.Backend, func(), error) {
			ctx := context.Background()
			store, err := Open(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			if _, err := store.DB().ExecContext(ctx, `TRUNCATE record_parents, change_events, code_counters, records, actors RESTART IDENTITY`); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
			return store, func() { _ = store.Close() }, nil
		},
	})
}
