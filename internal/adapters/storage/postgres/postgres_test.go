package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDialectUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert record: %w", &pgconn.PgError{Code: uniqueViolationCode})
	if !isUniqueViolation(wrapped) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation classified as unique")
	}
	if isUniqueViolation(errors.New("duplicate key")) {
		t.Fatal("plain error classified as unique")
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestOpenMigratesLiveDatabase(t *testing.T) {
	dsn := os.Getenv("HERBCHAIN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HERBCHAIN_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}
