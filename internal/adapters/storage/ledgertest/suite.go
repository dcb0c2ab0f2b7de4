// Package ledgertest holds the behavioural suite every ledger backend must pass.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

// Backend is a ledger that also stores actors.
type Backend interface {
	app.Ledger
	app.ActorStore
}

// Suite exercises a Backend. NewBackend is called before every test.
type Suite struct {
	suite.Suite
	NewBackend func() (Backend, func(), error)

	ctx     context.Context
	store   Backend
	cleanup func()
	now     time.Time
}

// SetupTest opens a fresh backend.
func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store, cleanup, err := s.NewBackend()
	s.Require().NoError(err)
	s.store, s.cleanup = store, cleanup
}

// TearDownTest releases the backend.
func (s *Suite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func (s *Suite) collection(id string, qty int64) domain.Record {
	rec, err := domain.NewCollectionRecord(id, "c1", domain.CollectionDetails{
		Material: "Tulsi",
		Quantity: qty,
		Location: "North ridge",
	}, s.now)
	s.Require().NoError(err)
	return rec
}

func (s *Suite) sentCollection(id string, qty int64) domain.Record {
	stored, err := s.store.Put(s.ctx, s.collection(id, qty))
	s.Require().NoError(err)
	next := stored.Clone()
	s.Require().NoError(next.Advance(domain.StatusSent, s.now.Add(time.Minute)))
	swapped, err := s.store.CompareAndSwap(s.ctx, id, stored.Version, next)
	s.Require().NoError(err)
	return swapped
}

// TestPutAndRead verifies stored records round-trip through every lookup.
func (s *Suite) TestPutAndRead() {
	s.Run("put stores version one", func() {
		stored, err := s.store.Put(s.ctx, s.collection("col-a", 25))
		s.Require().NoError(err)
		s.Equal(int64(1), stored.Version)

		loaded, err := s.store.Get(s.ctx, "col-a")
		s.Require().NoError(err)
		s.Equal(domain.KindCollection, loaded.Kind)
		s.Equal(domain.StatusRecorded, loaded.Status)
		s.Require().NotNil(loaded.Collection)
		s.Equal(int64(25), loaded.Collection.Quantity)
		s.Equal("kg", loaded.Collection.Unit)
		s.True(loaded.CreatedAt.Equal(s.now))
	})

	s.Run("duplicate id is a conflict", func() {
		_, err := s.store.Put(s.ctx, s.collection("col-a", 10))
		s.Require().ErrorIs(err, domain.ErrDuplicate)
		s.Equal(domain.KindConflict, domain.KindOf(err))
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.Require().ErrorIs(err, app.ErrNotFound)
		_, err = s.store.FindByCode(s.ctx, "TU-2024-999")
		s.Require().ErrorIs(err, app.ErrNotFound)
	})
}

// TestCodesAndLineage verifies code lookup, code uniqueness, and child lookup.
func (s *Suite) TestCodesAndLineage() {
	source := s.sentCollection("col-b", 25)
	test, err := domain.NewTestRecord("test-b", "t1", source, domain.TestDetails{
		Purity:   98.5,
		Grade:    "A",
		Accepted: 20,
		Rejected: 5,
	}, "TU-2024-001", s.now)
	s.Require().NoError(err)
	_, err = s.store.Put(s.ctx, test)
	s.Require().NoError(err)

	found, err := s.store.FindByCode(s.ctx, "TU-2024-001")
	s.Require().NoError(err)
	s.Equal("test-b", found.ID)
	s.Equal([]string{"col-b"}, found.ParentIDs)
	s.Require().NotNil(found.Test)
	s.InDelta(98.5, found.Test.Purity, 0.0001)

	children, err := s.store.FindByParent(s.ctx, "col-b")
	s.Require().NoError(err)
	s.Require().Len(children, 1)
	s.Equal("test-b", children[0].ID)

	other := s.sentCollection("col-c", 5)
	clash, err := domain.NewTestRecord("test-c", "t1", other, domain.TestDetails{Purity: 90, Accepted: 5}, "TU-2024-001", s.now)
	s.Require().NoError(err)
	_, err = s.store.Put(s.ctx, clash)
	s.Require().ErrorIs(err, domain.ErrDuplicate)

	orphan := s.collection("col-orphan", 3)
	orphan.ParentIDs = []string{"missing-parent"}
	_, err = s.store.Put(s.ctx, orphan)
	s.Require().Error(err)
}

// TestCompareAndSwap verifies version checks and immutable identity.
func (s *Suite) TestCompareAndSwap() {
	stored, err := s.store.Put(s.ctx, s.collection("col-d", 12))
	s.Require().NoError(err)

	s.Run("stale version conflicts", func() {
		next := stored.Clone()
		s.Require().NoError(next.Advance(domain.StatusSent, s.now))
		_, err := s.store.CompareAndSwap(s.ctx, stored.ID, stored.Version+1, next)
		s.Require().ErrorIs(err, domain.ErrVersionMismatch)
		s.True(domain.IsRetryable(err))
	})

	s.Run("current version advances", func() {
		next := stored.Clone()
		s.Require().NoError(next.Advance(domain.StatusSent, s.now))
		swapped, err := s.store.CompareAndSwap(s.ctx, stored.ID, stored.Version, next)
		s.Require().NoError(err)
		s.Equal(int64(2), swapped.Version)

		_, err = s.store.CompareAndSwap(s.ctx, stored.ID, stored.Version, next)
		s.Require().ErrorIs(err, domain.ErrVersionMismatch)
	})

	s.Run("owner cannot be rewritten", func() {
		current, err := s.store.Get(s.ctx, stored.ID)
		s.Require().NoError(err)
		next := current.Clone()
		next.OwnerID = "someone-else"
		_, err = s.store.CompareAndSwap(s.ctx, current.ID, current.Version, next)
		s.Require().Error(err)
		s.Equal(domain.KindValidation, domain.KindOf(err))
	})

	s.Run("missing record is not found", func() {
		_, err := s.store.CompareAndSwap(s.ctx, "missing", 1, stored)
		s.Require().ErrorIs(err, app.ErrNotFound)
	})
}

// TestTransactRollsBack verifies a failed transaction leaves no trace.
func (s *Suite) TestTransactRollsBack() {
	boom := fmt.Errorf("boom")
	err := s.store.Transact(s.ctx, func(tx app.LedgerTx) error {
		if _, err := tx.NextSequence(s.ctx, "TU", 2024); err != nil {
			return err
		}
		stored, err := tx.Put(s.ctx, s.collection("col-e", 4))
		if err != nil {
			return err
		}
		if err := tx.AppendChangeEvent(s.ctx, domain.NewChangeEvent(domain.ChangeOperationCreate, "record_collection", stored, "", "c1", nil, s.now)); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	_, err = s.store.Get(s.ctx, "col-e")
	s.Require().ErrorIs(err, app.ErrNotFound)
	events, err := s.store.ListChangeEvents(s.ctx, "col-e", 0)
	s.Require().NoError(err)
	s.Empty(events)
	seq, err := s.store.NextSequence(s.ctx, "TU", 2024)
	s.Require().NoError(err)
	s.Equal(int64(1), seq)
}

// TestSequencesAreUniqueUnderConcurrency verifies counters never repeat.
func (s *Suite) TestSequencesAreUniqueUnderConcurrency() {
	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]int{}
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got int64
			err := s.store.Transact(s.ctx, func(tx app.LedgerTx) error {
				seq, err := tx.NextSequence(s.ctx, "HT", 2024)
				got = seq
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[got]++
		}()
	}
	wg.Wait()
	s.Require().Empty(errs)
	s.Len(seen, workers)
	for seq := int64(1); seq <= workers; seq++ {
		s.Equal(1, seen[seq], "sequence %d", seq)
	}

	other, err := s.store.NextSequence(s.ctx, "HT", 2025)
	s.Require().NoError(err)
	s.Equal(int64(1), other)
}

// TestConcurrentSwapsHaveOneWinner verifies optimistic concurrency under contention.
func (s *Suite) TestConcurrentSwapsHaveOneWinner() {
	stored, err := s.store.Put(s.ctx, s.collection("col-f", 8))
	s.Require().NoError(err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := stored.Clone()
			if err := next.Advance(domain.StatusSent, s.now); err != nil {
				return
			}
			_, err := s.store.CompareAndSwap(s.ctx, stored.ID, stored.Version, next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domain.KindOf(err) == domain.KindConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(workers-1, conflicts)
}

// TestCommitSwap verifies a versioned swap and its change event land together.
func (s *Suite) TestCommitSwap() {
	stored, err := s.store.Put(s.ctx, s.collection("col-s", 6))
	s.Require().NoError(err)
	next := stored.Clone()
	s.Require().NoError(next.Advance(domain.StatusSent, s.now.Add(time.Minute)))
	event := domain.NewChangeEvent(domain.ChangeOperationTransition, "send_collection", next, domain.StatusRecorded, "c1", nil, s.now)

	s.Run("stale version writes nothing", func() {
		_, err := s.store.CommitSwap(s.ctx, stored.ID, stored.Version+3, next, event)
		s.Require().ErrorIs(err, domain.ErrVersionMismatch)
		events, err := s.store.ListChangeEvents(s.ctx, stored.ID, 0)
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("current version commits record and event", func() {
		swapped, err := s.store.CommitSwap(s.ctx, stored.ID, stored.Version, next, event)
		s.Require().NoError(err)
		s.Equal(int64(2), swapped.Version)
		s.Equal(domain.StatusSent, swapped.Status)

		events, err := s.store.ListChangeEvents(s.ctx, stored.ID, 0)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(int64(2), events[0].Version)
		s.Equal(domain.StatusSent, events[0].ToStatus)
	})

	s.Run("missing record is not found", func() {
		_, err := s.store.CommitSwap(s.ctx, "missing", 1, next, event)
		s.Require().ErrorIs(err, app.ErrNotFound)
	})
}

// TestConcurrentCommitSwapsLogOnce verifies racing single-record commits leave one winner and one event.
func (s *Suite) TestConcurrentCommitSwapsLogOnce() {
	stored, err := s.store.Put(s.ctx, s.collection("col-r", 9))
	s.Require().NoError(err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := stored.Clone()
			if err := next.Advance(domain.StatusSent, s.now); err != nil {
				return
			}
			event := domain.NewChangeEvent(domain.ChangeOperationTransition, "send_collection", next, domain.StatusRecorded, "c1", nil, s.now)
			_, err := s.store.CommitSwap(s.ctx, stored.ID, stored.Version, next, event)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domain.IsRetryable(err):
				conflicts++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(workers-1, conflicts)

	events, err := s.store.ListChangeEvents(s.ctx, stored.ID, 0)
	s.Require().NoError(err)
	s.Len(events, 1)
}

// TestListAndEvents verifies filtering and the change feed.
func (s *Suite) TestListAndEvents() {
	s.sentCollection("col-g", 3)
	_, err := s.store.Put(s.ctx, s.collection("col-h", 4))
	s.Require().NoError(err)

	all, err := s.store.List(s.ctx, app.RecordFilter{Kind: domain.KindCollection})
	s.Require().NoError(err)
	s.Len(all, 2)

	sent, err := s.store.List(s.ctx, app.RecordFilter{Kind: domain.KindCollection, Status: domain.StatusSent})
	s.Require().NoError(err)
	s.Require().Len(sent, 1)
	s.Equal("col-g", sent[0].ID)

	limited, err := s.store.List(s.ctx, app.RecordFilter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)

	rec, err := s.store.Get(s.ctx, "col-g")
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendChangeEvent(s.ctx, domain.NewChangeEvent(domain.ChangeOperationCreate, "record_collection", rec, "", "c1", map[string]string{"material": "Tulsi"}, s.now)))
	s.Require().NoError(s.store.AppendChangeEvent(s.ctx, domain.NewChangeEvent(domain.ChangeOperationTransition, "send_collection", rec, domain.StatusRecorded, "c1", nil, s.now.Add(time.Minute))))

	events, err := s.store.ListChangeEvents(s.ctx, "col-g", 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("send_collection", events[0].Intent)
	s.Equal(domain.StatusRecorded, events[0].FromStatus)
	s.Equal("Tulsi", events[1].Metadata["material"])

	newest, err := s.store.ListChangeEvents(s.ctx, "", 1)
	s.Require().NoError(err)
	s.Len(newest, 1)
}

// TestActors verifies actor registration and lookup.
func (s *Suite) TestActors() {
	actor, err := domain.NewActor("t1", "Ravi", domain.RoleTester, "PureLab", "LAB-9", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateActor(s.ctx, actor))
	s.Require().ErrorIs(s.store.CreateActor(s.ctx, actor), domain.ErrDuplicate)

	loaded, err := s.store.GetActor(s.ctx, "t1")
	s.Require().NoError(err)
	s.True(loaded.SameIdentity(actor))

	_, err = s.store.GetActor(s.ctx, "missing")
	s.Require().ErrorIs(err, app.ErrNotFound)

	actors, err := s.store.ListActors(s.ctx)
	s.Require().NoError(err)
	s.Len(actors, 1)
}
