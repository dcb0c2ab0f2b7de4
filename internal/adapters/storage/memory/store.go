// Package memory provides an in-process ledger and actor store.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

var (
	_ app.Ledger     = (*Store)(nil)
	_ app.ActorStore = (*Store)(nil)
)

type counterKey struct {
	prefix string
	year   int
}

// state is the committed ledger. Stored records are never mutated in place.
type state struct {
	records     map[string]domain.Record
	codes       map[string]string
	children    map[string][]string
	counters    map[counterKey]int64
	events      []domain.ChangeEvent
	nextEventID int64
}

func newState() state {
	return state{
		records:  map[string]domain.Record{},
		codes:    map[string]string{},
		children: map[string][]string{},
		counters: map[counterKey]int64{},
	}
}

// Store is an in-memory ledger.
//
// Writes collect in a pending set that is checked against the committed state and merged under a
// short lock, so a write costs what it touches. Transact additionally runs one at a time;
// CommitSwap and the standalone writes do not.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   state

	actorsMu sync.RWMutex
	actors   map[string]domain.Actor
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		st:     newState(),
		actors: map[string]domain.Actor{},
	}
}

// Transact runs fn over a pending write set and commits it when fn succeeds.
func (s *Store) Transact(ctx context.Context, fn func(app.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.write(fn)
}

// CommitSwap replaces one record at expectedVersion and logs event in one step.
func (s *Store) CommitSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record, event domain.ChangeEvent) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	var out domain.Record
	err := s.write(func(tx app.LedgerTx) error {
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

// write runs fn against a fresh pending set, then validates and merges it.
func (s *Store) write(fn func(app.LedgerTx) error) error {
	tx := &txView{store: s, p: newPending()}
	if err := fn(tx); err != nil {
		s.releaseSequences(tx.p)
		return err
	}
	if err := s.commit(tx.p); err != nil {
		s.releaseSequences(tx.p)
		return err
	}
	return nil
}

// commit checks p against writers that committed since it was read and merges it.
func (s *Store) commit(p *pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, base := range p.base {
		current, ok := s.st.records[id]
		switch {
		case base == 0 && ok:
			return fmt.Errorf("%w: record %s", domain.ErrDuplicate, id)
		case base != 0 && !ok:
			return fmt.Errorf("record %s: %w", id, app.ErrNotFound)
		case base != 0 && current.Version != base:
			return fmt.Errorf("%w: %s is at version %d, expected %d", domain.ErrVersionMismatch, id, current.Version, base)
		}
	}
	for code, id := range p.codes {
		owner, ok := s.st.codes[code]
		if !ok || owner == id {
			continue
		}
		if released, touched := p.records[owner]; touched && released.Code != code {
			continue
		}
		return fmt.Errorf("%w: code %s", domain.ErrDuplicate, code)
	}

	for code, id := range p.dropped {
		if s.st.codes[code] == id {
			delete(s.st.codes, code)
		}
	}
	for id, rec := range p.records {
		s.st.records[id] = rec
	}
	for code, id := range p.codes {
		s.st.codes[code] = id
	}
	for parent, ids := range p.children {
		s.st.children[parent] = append(s.st.children[parent], ids...)
	}
	for _, event := range p.events {
		s.st.nextEventID++
		event.ID = s.st.nextEventID
		s.st.events = append(s.st.events, event)
	}
	return nil
}

// nextSequence takes a counter value straight from the committed state.
func (s *Store) nextSequence(key counterKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.counters[key]++
	return s.st.counters[key]
}

// releaseSequences hands back values taken by a failed write, newest first, while no later
// value has been issued for the same counter.
func (s *Store) releaseSequences(p *pending) {
	if len(p.sequences) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(p.sequences) - 1; i >= 0; i-- {
		taken := p.sequences[i]
		if s.st.counters[taken.key] == taken.value {
			s.st.counters[taken.key]--
		}
	}
}

// read runs fn against the committed state.
func (s *Store) read(fn func(*view) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{st: &s.st})
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id string) (domain.Record, error) {
	var out domain.Record
	err := s.read(func(v *view) error {
		rec, err := v.Get(ctx, id)
		out = rec
		return err
	})
	return out, err
}

// FindByCode returns the record carrying code.
func (s *Store) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	var out domain.Record
	err := s.read(func(v *view) error {
		rec, err := v.FindByCode(ctx, code)
		out = rec
		return err
	})
	return out, err
}

// FindByParent returns the records that reference id.
func (s *Store) FindByParent(ctx context.Context, id string) ([]domain.Record, error) {
	var out []domain.Record
	err := s.read(func(v *view) error {
		recs, err := v.FindByParent(ctx, id)
		out = recs
		return err
	})
	return out, err
}

// List returns records matching filter.
func (s *Store) List(_ context.Context, filter app.RecordFilter) ([]domain.Record, error) {
	s.mu.RLock()
	out := make([]domain.Record, 0, len(s.st.records))
	for _, rec := range s.st.records {
		if matches(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(out, filter.Limit), nil
}

// ListChangeEvents returns the newest events first.
func (s *Store) ListChangeEvents(_ context.Context, recordID string, limit int) ([]domain.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChangeEvent, 0)
	for i := len(s.st.events) - 1; i >= 0; i-- {
		event := s.st.events[i]
		if recordID != "" && event.RecordID != recordID {
			continue
		}
		event.Metadata = maps.Clone(event.Metadata)
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Put stores a new record.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.write(func(tx app.LedgerTx) error {
		stored, err := tx.Put(ctx, rec)
		out = stored
		return err
	})
	return out, err
}

// CompareAndSwap replaces a record when its stored version equals expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.write(func(tx app.LedgerTx) error {
		stored, err := tx.CompareAndSwap(ctx, id, expectedVersion, next)
		out = stored
		return err
	})
	return out, err
}

// AppendChangeEvent appends one event.
func (s *Store) AppendChangeEvent(ctx context.Context, event domain.ChangeEvent) error {
	return s.write(func(tx app.LedgerTx) error {
		return tx.AppendChangeEvent(ctx, event)
	})
}

// NextSequence increments one counter.
func (s *Store) NextSequence(_ context.Context, prefix string, year int) (int64, error) {
	return s.nextSequence(counterKey{prefix: prefix, year: year}), nil
}

// CreateActor registers an actor.
func (s *Store) CreateActor(_ context.Context, actor domain.Actor) error {
	s.actorsMu.Lock()
	defer s.actorsMu.Unlock()
	if _, ok := s.actors[actor.ID]; ok {
		return fmt.Errorf("%w: actor %s", domain.ErrDuplicate, actor.ID)
	}
	s.actors[actor.ID] = actor
	return nil
}

// GetActor returns one actor.
func (s *Store) GetActor(_ context.Context, id string) (domain.Actor, error) {
	s.actorsMu.RLock()
	defer s.actorsMu.RUnlock()
	actor, ok := s.actors[id]
	if !ok {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", id, app.ErrNotFound)
	}
	return actor, nil
}

// ListActors returns every actor ordered by id.
func (s *Store) ListActors(_ context.Context) ([]domain.Actor, error) {
	s.actorsMu.RLock()
	defer s.actorsMu.RUnlock()
	out := slices.Collect(maps.Values(s.actors))
	slices.SortFunc(out, func(a, b domain.Actor) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// view reads one state value. Callers hold the store's read lock.
type view struct {
	st *state
}

func (v *view) Get(_ context.Context, id string) (domain.Record, error) {
	rec, ok := v.st.records[strings.TrimSpace(id)]
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, app.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (v *view) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	id, ok := v.st.codes[strings.TrimSpace(code)]
	if !ok {
		return domain.Record{}, fmt.Errorf("code %s: %w", code, app.ErrNotFound)
	}
	return v.Get(ctx, id)
}

func (v *view) FindByParent(_ context.Context, id string) ([]domain.Record, error) {
	ids := v.st.children[strings.TrimSpace(id)]
	out := make([]domain.Record, 0, len(ids))
	for _, childID := range ids {
		out = append(out, v.st.records[childID].Clone())
	}
	return out, nil
}

type takenSequence struct {
	key   counterKey
	value int64
}

// pending is the private write set of one transaction.
type pending struct {
	records map[string]domain.Record
	// base holds the committed version each written record was read at; zero marks an insert.
	base      map[string]int64
	codes     map[string]string
	dropped   map[string]string
	children  map[string][]string
	events    []domain.ChangeEvent
	sequences []takenSequence
}

func newPending() *pending {
	return &pending{
		records:  map[string]domain.Record{},
		base:     map[string]int64{},
		codes:    map[string]string{},
		dropped:  map[string]string{},
		children: map[string][]string{},
	}
}

// txView implements app.LedgerTx as the committed state overlaid with pending writes.
type txView struct {
	store *Store
	p     *pending
}

func (t *txView) Get(ctx context.Context, id string) (domain.Record, error) {
	id = strings.TrimSpace(id)
	if rec, ok := t.p.records[id]; ok {
		return rec.Clone(), nil
	}
	return t.store.Get(ctx, id)
}

func (t *txView) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	code = strings.TrimSpace(code)
	if id, ok := t.p.codes[code]; ok {
		return t.Get(ctx, id)
	}
	if _, ok := t.p.dropped[code]; ok {
		return domain.Record{}, fmt.Errorf("code %s: %w", code, app.ErrNotFound)
	}
	rec, err := t.store.FindByCode(ctx, code)
	if err != nil {
		return domain.Record{}, err
	}
	return t.Get(ctx, rec.ID)
}

func (t *txView) FindByParent(ctx context.Context, id string) ([]domain.Record, error) {
	id = strings.TrimSpace(id)
	t.store.mu.RLock()
	ids := slices.Clone(t.store.st.children[id])
	t.store.mu.RUnlock()
	ids = append(ids, t.p.children[id]...)
	out := make([]domain.Record, 0, len(ids))
	for _, childID := range ids {
		rec, err := t.Get(ctx, childID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *txView) List(ctx context.Context, filter app.RecordFilter) ([]domain.Record, error) {
	committed, err := t.store.List(ctx, app.RecordFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(committed)+len(t.p.records))
	for _, rec := range committed {
		if _, ok := t.p.records[rec.ID]; ok {
			continue
		}
		if matches(rec, filter) {
			out = append(out, rec)
		}
	}
	for _, rec := range t.p.records {
		if matches(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

func (t *txView) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.CheckPayload(); err != nil {
		return domain.Record{}, err
	}
	if _, err := t.Get(ctx, rec.ID); err == nil {
		return domain.Record{}, fmt.Errorf("%w: record %s", domain.ErrDuplicate, rec.ID)
	}
	if rec.Code != "" {
		if _, err := t.FindByCode(ctx, rec.Code); err == nil {
			return domain.Record{}, fmt.Errorf("%w: code %s", domain.ErrDuplicate, rec.Code)
		}
	}
	for _, parentID := range rec.ParentIDs {
		if _, err := t.Get(ctx, parentID); err != nil {
			return domain.Record{}, fmt.Errorf("parent %s: %w", parentID, app.ErrNotFound)
		}
	}
	stored := rec.Clone()
	stored.Version = 1
	t.p.records[stored.ID] = stored
	t.p.base[stored.ID] = 0
	if stored.Code != "" {
		t.p.codes[stored.Code] = stored.ID
		delete(t.p.dropped, stored.Code)
	}
	for _, parentID := range stored.ParentIDs {
		t.p.children[parentID] = append(t.p.children[parentID], stored.ID)
	}
	return stored.Clone(), nil
}

func (t *txView) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record) (domain.Record, error) {
	current, err := t.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if current.Version != expectedVersion {
		return domain.Record{}, fmt.Errorf("%w: %s is at version %d, expected %d", domain.ErrVersionMismatch, id, current.Version, expectedVersion)
	}
	if err := checkImmutableFields(current, next); err != nil {
		return domain.Record{}, err
	}
	if err := next.CheckPayload(); err != nil {
		return domain.Record{}, err
	}
	if next.Code != current.Code {
		if next.Code != "" {
			if owner, err := t.FindByCode(ctx, next.Code); err == nil && owner.ID != id {
				return domain.Record{}, fmt.Errorf("%w: code %s", domain.ErrDuplicate, next.Code)
			}
		}
		if current.Code != "" {
			delete(t.p.codes, current.Code)
			t.p.dropped[current.Code] = id
		}
		if next.Code != "" {
			t.p.codes[next.Code] = id
			delete(t.p.dropped, next.Code)
		}
	}
	if _, written := t.p.base[id]; !written {
		t.p.base[id] = current.Version
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	t.p.records[id] = stored
	return stored.Clone(), nil
}

func (t *txView) AppendChangeEvent(_ context.Context, event domain.ChangeEvent) error {
	event.Metadata = maps.Clone(event.Metadata)
	t.p.events = append(t.p.events, event)
	return nil
}

func (t *txView) NextSequence(_ context.Context, prefix string, year int) (int64, error) {
	key := counterKey{prefix: prefix, year: year}
	value := t.store.nextSequence(key)
	t.p.sequences = append(t.p.sequences, takenSequence{key: key, value: value})
	return value, nil
}

// checkImmutableFields rejects swaps that rewrite identity or lineage.
func checkImmutableFields(current, next domain.Record) error {
	if next.ID != current.ID || next.Kind != current.Kind || next.OwnerID != current.OwnerID || !slices.Equal(next.ParentIDs, current.ParentIDs) {
		return fmt.Errorf("%w: record %s identity or lineage changed", domain.ErrInvalidReference, current.ID)
	}
	return nil
}

func matches(rec domain.Record, filter app.RecordFilter) bool {
	if filter.Kind != "" && rec.Kind != filter.Kind {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	return filter.OwnerID == "" || rec.OwnerID == filter.OwnerID
}

func sortAndLimit(out []domain.Record, limit int) []domain.Record {
	slices.SortFunc(out, compareRecords)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func compareRecords(a, b domain.Record) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
