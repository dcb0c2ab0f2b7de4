package app

import (
	"context"

	"github.com/hylla/herbchain/internal/domain"
)

// RecordCollectionInput holds input values for a new collection.
type RecordCollectionInput struct {
	ActorID string
	Details domain.CollectionDetails
}

// RecordCollection opens a collection record owned by the calling collector.
func (s *Service) RecordCollection(ctx context.Context, in RecordCollectionInput) (domain.Record, error) {
	return s.create(ctx, IntentRecordCollection, in.ActorID, domain.KindCollection, func(_ context.Context, _ LedgerTx, actor domain.Actor) (domain.Record, map[string]string, error) {
		rec, err := domain.NewCollectionRecord(s.idGen(), actor.ID, in.Details, s.clock())
		if err != nil {
			return domain.Record{}, nil, err
		}
		return rec, map[string]string{"material": rec.Collection.Material}, nil
	})
}

// UpdateCollectionInput holds input values for editing a recorded collection.
type UpdateCollectionInput struct {
	TransitionInput
	Patch domain.CollectionPatch
}

// UpdateCollection edits a collection that has not been sent.
func (s *Service) UpdateCollection(ctx context.Context, in UpdateCollectionInput) (domain.Record, error) {
	return s.mutate(ctx, mutation{
		intent: IntentUpdateCollection,
		op:     domain.ChangeOperationUpdate,
		input:  in.TransitionInput,
		apply: func(_ context.Context, _ LedgerView, _ domain.Actor, rec *domain.Record) error {
			return rec.EditCollection(in.Patch, s.clock())
		},
	})
}

// SendCollection hands a recorded collection to testing. The collector loses write access.
func (s *Service) SendCollection(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.advance(ctx, IntentSendCollection, domain.KindCollection, domain.StatusSent, in)
}

// advance performs a plain state change for records of kind.
func (s *Service) advance(ctx context.Context, intent string, kind domain.RecordKind, to domain.Status, in TransitionInput) (domain.Record, error) {
	return s.mutate(ctx, mutation{
		intent: intent,
		op:     domain.ChangeOperationTransition,
		input:  in,
		apply: func(_ context.Context, _ LedgerView, _ domain.Actor, rec *domain.Record) error {
			if rec.Kind != kind {
				return kindMismatch(rec, kind)
			}
			return rec.Advance(to, s.clock())
		},
	})
}
