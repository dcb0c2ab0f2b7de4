// Package sqlite binds the SQL ledger to an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hylla/herbchain/internal/adapters/storage/sqlstore"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Dialect describes SQLite for the shared SQL ledger. Transact calls are serialized in process;
// single-record commits rely on BEGIN IMMEDIATE and the busy timeout instead.
var Dialect = sqlstore.Dialect{
	Name:               "sqlite",
	EventIDColumn:      "INTEGER PRIMARY KEY AUTOINCREMENT",
	SerializeInProcess: true,
}

// Open opens or creates a database file at path and migrates it.
func Open(path string) (*sqlstore.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return open("file:"+path, "journal_mode(WAL)")
}

// OpenInMemory opens a private in-memory database on a single connection. Shared-cache
// databases report table locks instead of waiting on the busy timeout.
func OpenInMemory() (*sqlstore.Store, error) {
	return open("file:herbchain-"+uuid.NewString()+"?mode=memory&cache=shared", "")
}

func open(base, journal string) (*sqlstore.Store, error) {
	dsn := base + separator(base) + pragmas(journal)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if journal == "" {
		db.SetMaxOpenConns(1)
	}
	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func pragmas(journal string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if journal != "" {
		q.Add("_pragma", journal)
	}
	q.Set("_txlock", "immediate")
	return q.Encode()
}

func separator(base string) string {
	if strings.Contains(base, "?") {
		return "&"
	}
	return "?"
}
