package domain

import "time"

// ChangeOperation describes a persisted ledger operation.
type ChangeOperation string

// ChangeOperation values used by the transaction log.
const (
	ChangeOperationCreate     ChangeOperation = "create"
	ChangeOperationUpdate     ChangeOperation = "update"
	ChangeOperationTransition ChangeOperation = "transition"
)

// ChangeEvent represents a single transaction-log entry for a ledger record.
type ChangeEvent struct {
	ID         int64
	RecordID   string
	Kind       RecordKind
	Operation  ChangeOperation
	Intent     string
	FromStatus Status
	ToStatus   Status
	Version    int64
	ActorID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// NewChangeEvent builds the log entry for a committed mutation of rec.
func NewChangeEvent(op ChangeOperation, intent string, rec Record, from Status, actorID string, metadata map[string]string, now time.Time) ChangeEvent {
	return ChangeEvent{
		RecordID:   rec.ID,
		Kind:       rec.Kind,
		Operation:  op,
		Intent:     intent,
		FromStatus: from,
		ToStatus:   rec.Status,
		Version:    rec.Version,
		ActorID:    actorID,
		Metadata:   metadata,
		OccurredAt: now.UTC(),
	}
}
