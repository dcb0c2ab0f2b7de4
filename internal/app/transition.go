package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// TransitionPayload carries final edits applied in the same commit as the state change.
// Only the transitions that close an editable stage take one: collection to sent and test to completed.
type TransitionPayload struct {
	Collection *domain.CollectionPatch
	Test       *domain.TestPatch
}

func (p *TransitionPayload) empty() bool {
	return p == nil || (p.Collection == nil && p.Test == nil)
}

// ApplyTransitionInput asks to move a record to Target.
type ApplyTransitionInput struct {
	TransitionInput
	Target  string
	Payload *TransitionPayload
}

// ApplyTransition routes a generic state change to the intent that owns it.
// Ownership is checked before the target state, so a foreign role sees an authorization error
// and the owner sees a validation error for an illegal target.
func (s *Service) ApplyTransition(ctx context.Context, in ApplyTransitionInput) (domain.Record, error) {
	recordID := strings.TrimSpace(in.RecordID)
	if recordID == "" {
		return domain.Record{}, ErrRecordRequired
	}
	current, err := s.ledger.Get(ctx, recordID)
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: %w", recordID, err)
	}
	target := domain.Status(strings.ToLower(strings.TrimSpace(in.Target)))
	if !in.Payload.empty() {
		return s.transitionWithPayload(ctx, current, target, in)
	}
	switch {
	case current.Kind == domain.KindCollection && target == domain.StatusSent:
		return s.SendCollection(ctx, in.TransitionInput)
	case current.Kind == domain.KindTest && target == domain.StatusCompleted:
		return s.CompleteTest(ctx, in.TransitionInput)
	case current.Kind == domain.KindTest && target == domain.StatusDispatched:
		return s.DispatchTest(ctx, in.TransitionInput)
	case current.Kind == domain.KindManufacturing && target == domain.StatusCompleted:
		return s.CompleteProduct(ctx, in.TransitionInput)
	case current.Kind == domain.KindManufacturing && target == domain.StatusDispatched:
		return s.DispatchProduct(ctx, in.TransitionInput)
	case current.Kind == domain.KindPackaging && target == domain.StatusVerified:
		return s.VerifyPackaging(ctx, in.TransitionInput)
	case current.Kind == domain.KindPackaging && target == domain.StatusPackaged:
		return s.GenerateConsumerCode(ctx, in.TransitionInput)
	default:
		return s.advance(ctx, "transition_"+string(current.Kind), current.Kind, target, in.TransitionInput)
	}
}

// transitionWithPayload edits and advances one record in a single commit.
func (s *Service) transitionWithPayload(ctx context.Context, current domain.Record, target domain.Status, in ApplyTransitionInput) (domain.Record, error) {
	p := in.Payload
	var (
		intent string
		edit   func(ctx context.Context, r LedgerView, rec *domain.Record) error
	)
	switch {
	case current.Kind == domain.KindCollection && target == domain.StatusSent && p.Test == nil:
		intent = IntentSendCollection
		edit = func(_ context.Context, _ LedgerView, rec *domain.Record) error {
			return rec.EditCollection(*p.Collection, s.clock())
		}
	case current.Kind == domain.KindTest && target == domain.StatusCompleted && p.Collection == nil:
		intent = IntentCompleteTest
		edit = func(ctx context.Context, r LedgerView, rec *domain.Record) error {
			source, err := r.Get(ctx, rec.Test.CollectionID)
			if err != nil {
				return fmt.Errorf("%w: collection %s: %v", domain.ErrBrokenProvenance, rec.Test.CollectionID, err)
			}
			return rec.EditTest(*p.Test, source.Collection.Quantity, s.clock())
		}
	default:
		intent = "transition_" + string(current.Kind)
		edit = func(_ context.Context, _ LedgerView, rec *domain.Record) error {
			return fmt.Errorf("%w: %s to %s takes no payload of that kind", domain.ErrInvalidTransition, rec.Kind, target)
		}
	}
	kind := current.Kind
	return s.mutate(ctx, mutation{
		intent:   intent,
		op:       domain.ChangeOperationTransition,
		input:    in.TransitionInput,
		metadata: map[string]string{"payload": "true"},
		apply: func(ctx context.Context, r LedgerView, _ domain.Actor, rec *domain.Record) error {
			if rec.Kind != kind {
				return kindMismatch(rec, kind)
			}
			if err := domain.ValidateTransition(rec.Kind, rec.Status, target); err != nil {
				return err
			}
			if err := edit(ctx, r, rec); err != nil {
				return err
			}
			return rec.Advance(target, s.clock())
		},
	})
}
