package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

var (
	_ app.Ledger     = (*Store)(nil)
	_ app.ActorStore = (*Store)(nil)
)

// Store is a SQL-backed ledger and actor store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	writeMu sync.Mutex
}

// New wraps an open database handle. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Transact runs fn inside one database transaction that excludes every other Transact call.
func (s *Store) Transact(ctx context.Context, fn func(app.LedgerTx) error) error {
	if s.dialect.SerializeInProcess {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	return s.inTx(ctx, s.dialect.TxLockStatement, fn)
}

// CommitSwap replaces one record at expectedVersion and logs event in one transaction. It takes
// no ledger-wide lock: the versioned UPDATE is the only point of contention.
func (s *Store) CommitSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record, event domain.ChangeEvent) (domain.Record, error) {
	var out domain.Record
	err := s.inTx(ctx, "", func(tx app.LedgerTx) error {
		stored, err := tx.CompareAndSwap(ctx, id, expectedVersion, next)
		if err != nil {
			return err
		}
		event.Version = stored.Version
		out = stored
		return tx.AppendChangeEvent(ctx, event)
	})
	return out, err
}

func (s *Store) inTx(ctx context.Context, lockStatement string, fn func(app.LedgerTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if lockStatement != "" {
		if _, err = tx.ExecContext(ctx, lockStatement); err != nil {
			return fmt.Errorf("acquire ledger lock: %w", err)
		}
	}
	if err = fn(&view{store: s, q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) reader() *view {
	return &view{store: s, q: s.db}
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id string) (domain.Record, error) {
	return s.reader().Get(ctx, id)
}

// FindByCode returns the record carrying code.
func (s *Store) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	return s.reader().FindByCode(ctx, code)
}

// FindByParent returns the records that reference id.
func (s *Store) FindByParent(ctx context.Context, id string) ([]domain.Record, error) {
	return s.reader().FindByParent(ctx, id)
}

// List returns records matching filter.
func (s *Store) List(ctx context.Context, filter app.RecordFilter) ([]domain.Record, error) {
	return s.reader().List(ctx, filter)
}

// Put stores a new record in its own transaction.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.inTx(ctx, "", func(tx app.LedgerTx) error {
		stored, err := tx.Put(ctx, rec)
		out = stored
		return err
	})
	return out, err
}

// CompareAndSwap replaces a record in its own transaction.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.inTx(ctx, "", func(tx app.LedgerTx) error {
		stored, err := tx.CompareAndSwap(ctx, id, expectedVersion, next)
		out = stored
		return err
	})
	return out, err
}

// AppendChangeEvent appends one event.
func (s *Store) AppendChangeEvent(ctx context.Context, event domain.ChangeEvent) error {
	return s.reader().AppendChangeEvent(ctx, event)
}

// NextSequence increments one counter. The upsert is a single atomic statement.
func (s *Store) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	return s.reader().NextSequence(ctx, prefix, year)
}

// ListChangeEvents returns the newest events first.
func (s *Store) ListChangeEvents(ctx context.Context, recordID string, limit int) ([]domain.ChangeEvent, error) {
	query := `
		SELECT id, record_id, kind, operation, intent, from_status, to_status, version, actor_id, metadata_json, occurred_at
		FROM change_events
	`
	args := []any{}
	if recordID != "" {
		query += ` WHERE record_id = ?`
		args = append(args, recordID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list change events: %w", err)
	}
	defer rows.Close()

	out := []domain.ChangeEvent{}
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			kind        string
			op          string
			from        string
			to          string
			metadataRaw string
			occurredRaw string
		)
		if err := rows.Scan(&event.ID, &event.RecordID, &kind, &op, &event.Intent, &from, &to, &event.Version, &event.ActorID, &metadataRaw, &occurredRaw); err != nil {
			return nil, err
		}
		event.Kind = domain.RecordKind(kind)
		event.Operation = domain.ChangeOperation(op)
		event.FromStatus = domain.Status(from)
		event.ToStatus = domain.Status(to)
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change event metadata: %w", err)
		}
		event.OccurredAt = parseTS(occurredRaw)
		out = append(out, event)
	}
	return out, rows.Err()
}

// CreateActor registers an actor.
func (s *Store) CreateActor(ctx context.Context, actor domain.Actor) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO actors(id, name, role, company, license, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), actor.ID, actor.Name, string(actor.Role), actor.Company, actor.License, ts(actor.RegisteredAt))
	if s.dialect.uniqueViolation(err) {
		return fmt.Errorf("%w: actor %s", domain.ErrDuplicate, actor.ID)
	}
	if err != nil {
		return fmt.Errorf("insert actor: %w", err)
	}
	return nil
}

// GetActor returns one actor.
func (s *Store) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, name, role, company, license, registered_at FROM actors WHERE id = ?
	`), id)
	actor, err := scanActor(row)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", id, err)
	}
	return actor, nil
}

// ListActors returns every actor ordered by id.
func (s *Store) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, company, license, registered_at FROM actors ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()
	out := []domain.Actor{}
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

// view implements app.LedgerTx over a querier.
type view struct {
	store *Store
	q     querier
}

const recordColumns = `r.id, r.kind, r.code, r.status, r.version, r.owner_id, r.payload_json, r.created_at, r.updated_at`

func (v *view) rebind(query string) string {
	return v.store.dialect.rebind(query)
}

func (v *view) Get(ctx context.Context, id string) (domain.Record, error) {
	return v.one(ctx, `SELECT `+recordColumns+` FROM records r WHERE r.id = ?`, strings.TrimSpace(id))
}

func (v *view) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	return v.one(ctx, `SELECT `+recordColumns+` FROM records r WHERE r.code = ?`, strings.TrimSpace(code))
}

func (v *view) FindByParent(ctx context.Context, id string) ([]domain.Record, error) {
	return v.many(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		JOIN record_parents p ON p.record_id = r.id
		WHERE p.parent_id = ?
		ORDER BY r.created_at ASC, r.id ASC
	`, strings.TrimSpace(id))
}

func (v *view) List(ctx context.Context, filter app.RecordFilter) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r WHERE 1 = 1`
	args := []any{}
	if filter.Kind != "" {
		query += ` AND r.kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND r.status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND r.owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY r.created_at ASC, r.id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return v.many(ctx, query, args...)
}

func (v *view) one(ctx context.Context, query string, args ...any) (domain.Record, error) {
	rec, err := scanRecord(v.q.QueryRowContext(ctx, v.rebind(query), args...))
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %v: %w", args[0], err)
	}
	if err := v.loadParents(ctx, &rec); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// many drains the result set before loading parents, since some drivers allow one open result per connection.
func (v *view) many(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := v.q.QueryContext(ctx, v.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := v.loadParents(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *view) loadParents(ctx context.Context, rec *domain.Record) error {
	rows, err := v.q.QueryContext(ctx, v.rebind(`
		SELECT parent_id FROM record_parents WHERE record_id = ? ORDER BY position ASC
	`), rec.ID)
	if err != nil {
		return fmt.Errorf("load parents of %s: %w", rec.ID, err)
	}
	defer rows.Close()
	var parents []string
	for rows.Next() {
		var parentID string
		if err := rows.Scan(&parentID); err != nil {
			return err
		}
		parents = append(parents, parentID)
	}
	rec.ParentIDs = parents
	return rows.Err()
}

func (v *view) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.CheckPayload(); err != nil {
		return domain.Record{}, err
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return domain.Record{}, err
	}
	stored := rec.Clone()
	stored.Version = 1
	_, err = v.q.ExecContext(ctx, v.rebind(`
		INSERT INTO records(id, kind, code, status, version, owner_id, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		stored.ID,
		string(stored.Kind),
		nullableCode(stored.Code),
		string(stored.Status),
		stored.Version,
		stored.OwnerID,
		payload,
		ts(stored.CreatedAt),
		ts(stored.UpdatedAt),
	)
	if v.store.dialect.uniqueViolation(err) {
		return domain.Record{}, fmt.Errorf("%w: record %s or code %q", domain.ErrDuplicate, stored.ID, stored.Code)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("insert record: %w", err)
	}
	for i, parentID := range stored.ParentIDs {
		if _, err := v.Get(ctx, parentID); err != nil {
			return domain.Record{}, fmt.Errorf("parent of %s: %w", stored.ID, err)
		}
		if _, err := v.q.ExecContext(ctx, v.rebind(`
			INSERT INTO record_parents(record_id, parent_id, position) VALUES (?, ?, ?)
		`), stored.ID, parentID, i); err != nil {
			return domain.Record{}, fmt.Errorf("insert record parent: %w", err)
		}
	}
	return stored, nil
}

func (v *view) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record) (domain.Record, error) {
	current, err := v.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if current.Version != expectedVersion {
		return domain.Record{}, fmt.Errorf("%w: %s is at version %d, expected %d", domain.ErrVersionMismatch, id, current.Version, expectedVersion)
	}
	if next.ID != current.ID || next.Kind != current.Kind || next.OwnerID != current.OwnerID || !slices.Equal(next.ParentIDs, current.ParentIDs) {
		return domain.Record{}, fmt.Errorf("%w: record %s identity or lineage changed", domain.ErrInvalidReference, id)
	}
	if err := next.CheckPayload(); err != nil {
		return domain.Record{}, err
	}
	payload, err := encodePayload(next)
	if err != nil {
		return domain.Record{}, err
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	res, err := v.q.ExecContext(ctx, v.rebind(`
		UPDATE records
		SET code = ?, status = ?, version = ?, payload_json = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`),
		nullableCode(stored.Code),
		string(stored.Status),
		stored.Version,
		payload,
		ts(stored.UpdatedAt),
		id,
		expectedVersion,
	)
	if v.store.dialect.uniqueViolation(err) {
		return domain.Record{}, fmt.Errorf("%w: code %s", domain.ErrDuplicate, stored.Code)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Record{}, err
	}
	if affected == 0 {
		return domain.Record{}, fmt.Errorf("%w: %s changed during update", domain.ErrVersionMismatch, id)
	}
	return stored, nil
}

func (v *view) AppendChangeEvent(ctx context.Context, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	_, err = v.q.ExecContext(ctx, v.rebind(`
		INSERT INTO change_events(record_id, kind, operation, intent, from_status, to_status, version, actor_id, metadata_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.RecordID,
		string(event.Kind),
		string(event.Operation),
		event.Intent,
		string(event.FromStatus),
		string(event.ToStatus),
		event.Version,
		event.ActorID,
		string(metadataJSON),
		ts(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

func (v *view) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var value int64
	err := v.q.QueryRowContext(ctx, v.rebind(`
		INSERT INTO code_counters(prefix, year, value) VALUES (?, ?, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET value = code_counters.value + 1
		RETURNING value
	`), prefix, year).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment code counter: %w", err)
	}
	return value, nil
}

// recordPayload is the JSON shape of the per-kind payload column.
type recordPayload struct {
	Collection    *domain.CollectionDetails    `json:"collection,omitempty"`
	Test          *domain.TestDetails          `json:"test,omitempty"`
	Manufacturing *domain.ManufacturingDetails `json:"manufacturing,omitempty"`
	Packaging     *domain.PackagingDetails     `json:"packaging,omitempty"`
}

func encodePayload(rec domain.Record) (string, error) {
	raw, err := json.Marshal(recordPayload{
		Collection:    rec.Collection,
		Test:          rec.Test,
		Manufacturing: rec.Manufacturing,
		Packaging:     rec.Packaging,
	})
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", rec.Kind, err)
	}
	return string(raw), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.Record, error) {
	var (
		rec        domain.Record
		kind       string
		status     string
		code       sql.NullString
		payloadRaw string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&rec.ID, &kind, &code, &status, &rec.Version, &rec.OwnerID, &payloadRaw, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, app.ErrNotFound
		}
		return domain.Record{}, err
	}
	var payload recordPayload
	if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s payload: %w", rec.ID, err)
	}
	rec.Kind = domain.RecordKind(kind)
	rec.Status = domain.Status(status)
	rec.Code = code.String
	rec.Collection = payload.Collection
	rec.Test = payload.Test
	rec.Manufacturing = payload.Manufacturing
	rec.Packaging = payload.Packaging
	rec.CreatedAt = parseTS(createdRaw)
	rec.UpdatedAt = parseTS(updatedRaw)
	return rec, nil
}

func scanActor(s scanner) (domain.Actor, error) {
	var (
		actor         domain.Actor
		role          string
		registeredRaw string
	)
	if err := s.Scan(&actor.ID, &actor.Name, &role, &actor.Company, &actor.License, &registeredRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Actor{}, app.ErrNotFound
		}
		return domain.Actor{}, err
	}
	actor.Role = domain.Role(role)
	actor.RegisteredAt = parseTS(registeredRaw)
	return actor, nil
}

// tsLayout is fixed width so lexical order matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(v string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func nullableCode(code string) any {
	if code == "" {
		return nil
	}
	return code
}
