package app

import (
	"context"

	"github.com/hylla/herbchain/internal/domain"
)

// RecordFilter narrows ledger listings. Zero values match everything.
type RecordFilter struct {
	Kind    domain.RecordKind
	Status  domain.Status
	OwnerID string
	Limit   int
}

// LedgerReader is the read side of the batch ledger.
type LedgerReader interface {
	Get(context.Context, string) (domain.Record, error)
	FindByCode(context.Context, string) (domain.Record, error)
	FindByParent(context.Context, string) ([]domain.Record, error)
	List(context.Context, RecordFilter) ([]domain.Record, error)
}

// Sequencer hands out durable, strictly increasing counter values per prefix and year.
type Sequencer interface {
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)
}

// LedgerView is what a single-record transition may consult before its commit.
type LedgerView interface {
	LedgerReader
	Sequencer
}

// LedgerTx is the view of the ledger available inside a transaction.
// Put stores a new record at version 1. CompareAndSwap replaces a record only when its stored
// version equals expectedVersion and returns the stored copy at expectedVersion+1.
type LedgerTx interface {
	LedgerReader
	Sequencer
	Put(context.Context, domain.Record) (domain.Record, error)
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record) (domain.Record, error)
	AppendChangeEvent(context.Context, domain.ChangeEvent) error
}

// Ledger is the storage collaborator.
//
// Transact runs fn in a serialized, all-or-nothing transaction. It is reserved for intents that
// check invariants across several records. CommitSwap replaces one record at expectedVersion and
// appends its change event atomically without serializing against other writers; a concurrent
// writer that got there first makes it fail with domain.ErrVersionMismatch.
type Ledger interface {
	LedgerTx
	Transact(ctx context.Context, fn func(LedgerTx) error) error
	CommitSwap(ctx context.Context, id string, expectedVersion int64, next domain.Record, event domain.ChangeEvent) (domain.Record, error)
	ListChangeEvents(ctx context.Context, recordID string, limit int) ([]domain.ChangeEvent, error)
}

// ActorStore is the identity collaborator.
type ActorStore interface {
	CreateActor(context.Context, domain.Actor) error
	GetActor(context.Context, string) (domain.Actor, error)
	ListActors(context.Context) ([]domain.Actor, error)
}
