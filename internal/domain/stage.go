package domain

import (
	"fmt"
	"slices"
	"strings"
)

// RecordKind identifies a custody stage.
type RecordKind string

// RecordKind values in custody order.
const (
	KindCollection    RecordKind = "collection"
	KindTest          RecordKind = "test"
	KindManufacturing RecordKind = "manufacturing"
	KindPackaging     RecordKind = "packaging"
)

// Status is a stage state. The legal values depend on the record kind.
type Status string

// Status values.
const (
	StatusRecorded   Status = "recorded"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDispatched Status = "dispatched"
	StatusReceived   Status = "received"
	StatusVerified   Status = "verified"
	StatusPackaged   Status = "packaged"
)

// stageTable lists each kind's states in their only legal order.
var stageTable = map[RecordKind][]Status{
	KindCollection:    {StatusRecorded, StatusSent},
	KindTest:          {StatusInProgress, StatusCompleted, StatusDispatched},
	KindManufacturing: {StatusInProgress, StatusCompleted, StatusDispatched},
	KindPackaging:     {StatusReceived, StatusVerified, StatusPackaged},
}

// ownerTable maps each stage to the only role allowed to write it.
var ownerTable = map[RecordKind]Role{
	KindCollection:    RoleCollector,
	KindTest:          RoleTester,
	KindManufacturing: RoleManufacturer,
	KindPackaging:     RolePackager,
}

// RecordKinds returns every kind in custody order.
func RecordKinds() []RecordKind {
	return []RecordKind{KindCollection, KindTest, KindManufacturing, KindPackaging}
}

// ParseRecordKind normalizes raw into a known kind.
func ParseRecordKind(raw string) (RecordKind, error) {
	kind := RecordKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := stageTable[kind]; !ok {
		return "", ErrInvalidKind
	}
	return kind, nil
}

// Statuses returns the ordered state list for k.
func (k RecordKind) Statuses() []Status {
	return slices.Clone(stageTable[k])
}

// InitialStatus returns the state a new record of kind k starts in.
func (k RecordKind) InitialStatus() Status {
	states := stageTable[k]
	if len(states) == 0 {
		return ""
	}
	return states[0]
}

// OwnerRole returns the role that owns writes for k.
func (k RecordKind) OwnerRole() Role {
	return ownerTable[k]
}

// HasStatus reports whether status is legal for k.
func (k RecordKind) HasStatus(status Status) bool {
	return slices.Contains(stageTable[k], status)
}

// ParseStatus normalizes raw into a status legal for kind.
func ParseStatus(kind RecordKind, raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.HasStatus(status) {
		return "", fmt.Errorf("%w: %q for %s", ErrInvalidStatus, raw, kind)
	}
	return status, nil
}

// NextStatus returns the immediate successor of current, if any.
func NextStatus(kind RecordKind, current Status) (Status, bool) {
	states := stageTable[kind]
	idx := slices.Index(states, current)
	if idx < 0 || idx+1 >= len(states) {
		return "", false
	}
	return states[idx+1], true
}

// IsTerminal reports whether status has no successor for kind.
func IsTerminal(kind RecordKind, status Status) bool {
	_, ok := NextStatus(kind, status)
	return kind.HasStatus(status) && !ok
}

// IsEditable reports whether payload edits are still allowed in status.
func IsEditable(kind RecordKind, status Status) bool {
	return status == kind.InitialStatus()
}

// ValidateTransition checks that to is the immediate successor of from.
func ValidateTransition(kind RecordKind, from, to Status) error {
	if _, ok := stageTable[kind]; !ok {
		return ErrInvalidKind
	}
	if !kind.HasStatus(to) {
		return fmt.Errorf("%w: %q is not a %s state", ErrInvalidTransition, to, kind)
	}
	next, ok := NextStatus(kind, from)
	if !ok {
		return fmt.Errorf("%w: %s is terminal for %s", ErrInvalidTransition, from, kind)
	}
	if next != to {
		return fmt.Errorf("%w: %s -> %s for %s (next is %s)", ErrInvalidTransition, from, to, kind, next)
	}
	return nil
}

// AuthorizeCreate checks that actor may open a new record of kind.
func AuthorizeCreate(actor Actor, kind RecordKind) error {
	owner, ok := ownerTable[kind]
	if !ok {
		return ErrInvalidKind
	}
	if actor.Role != owner {
		return fmt.Errorf("%w: %s cannot create %s records", ErrRoleNotAllowed, actor.Role, kind)
	}
	return nil
}

// AuthorizeWrite checks that actor owns rec's stage and is the record's owner.
func AuthorizeWrite(actor Actor, rec Record) error {
	if actor.Role != rec.Kind.OwnerRole() {
		return fmt.Errorf("%w: %s cannot modify %s records", ErrRoleNotAllowed, actor.Role, rec.Kind)
	}
	if actor.ID != rec.OwnerID {
		return fmt.Errorf("%w: %s", ErrNotOwner, rec.ID)
	}
	return nil
}
