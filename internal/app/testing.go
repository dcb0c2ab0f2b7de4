package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// RecordTestInput holds input values for a new test record.
type RecordTestInput struct {
	ActorID      string
	CollectionID string
	Purity       float64
	Grade        string
	Accepted     int64
	Rejected     int64
	Notes        string
}

// RecordTest opens a test record against a sent collection and mints its batch code from the material name.
func (s *Service) RecordTest(ctx context.Context, in RecordTestInput) (domain.Record, error) {
	return s.create(ctx, IntentRecordTest, in.ActorID, domain.KindTest, func(ctx context.Context, tx LedgerTx, actor domain.Actor) (domain.Record, map[string]string, error) {
		collectionID := strings.TrimSpace(in.CollectionID)
		if collectionID == "" {
			return domain.Record{}, nil, ErrRecordRequired
		}
		source, err := tx.Get(ctx, collectionID)
		if err != nil {
			return domain.Record{}, nil, fmt.Errorf("collection %s: %w", collectionID, err)
		}
		if source.Kind != domain.KindCollection {
			return domain.Record{}, nil, kindMismatch(&source, domain.KindCollection)
		}
		children, err := tx.FindByParent(ctx, source.ID)
		if err != nil {
			return domain.Record{}, nil, err
		}
		for _, child := range children {
			if child.Kind == domain.KindTest {
				return domain.Record{}, nil, fmt.Errorf("%w: %s is tested by %s", domain.ErrAlreadyTested, source.ID, child.ID)
			}
		}
		details := domain.TestDetails{
			Purity:   in.Purity,
			Grade:    in.Grade,
			Accepted: in.Accepted,
			Rejected: in.Rejected,
			Notes:    in.Notes,
		}
		code, err := s.codes.Mint(ctx, tx, source.Collection.Material, 0)
		if err != nil {
			return domain.Record{}, nil, err
		}
		rec, err := domain.NewTestRecord(s.idGen(), actor.ID, source, details, code, s.clock())
		if err != nil {
			return domain.Record{}, nil, err
		}
		return rec, map[string]string{"batch_code": code, "collection_id": source.ID}, nil
	})
}

// UpdateTestInput holds input values for editing an in-progress test.
type UpdateTestInput struct {
	TransitionInput
	Patch domain.TestPatch
}

// UpdateTest edits test results until the test is completed.
func (s *Service) UpdateTest(ctx context.Context, in UpdateTestInput) (domain.Record, error) {
	return s.mutate(ctx, mutation{
		intent: IntentUpdateTest,
		op:     domain.ChangeOperationUpdate,
		input:  in.TransitionInput,
		apply: func(ctx context.Context, r LedgerView, _ domain.Actor, rec *domain.Record) error {
			if rec.Kind != domain.KindTest {
				return kindMismatch(rec, domain.KindTest)
			}
			source, err := r.Get(ctx, rec.Test.CollectionID)
			if err != nil {
				return fmt.Errorf("%w: collection %s: %v", domain.ErrBrokenProvenance, rec.Test.CollectionID, err)
			}
			return rec.EditTest(in.Patch, source.Collection.Quantity, s.clock())
		},
	})
}

// CompleteTest freezes test results.
func (s *Service) CompleteTest(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.advance(ctx, IntentCompleteTest, domain.KindTest, domain.StatusCompleted, in)
}

// DispatchTest sends a completed batch to manufacturing.
func (s *Service) DispatchTest(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.advance(ctx, IntentDispatchTest, domain.KindTest, domain.StatusDispatched, in)
}

func kindMismatch(rec *domain.Record, want domain.RecordKind) error {
	return fmt.Errorf("%w: %s is a %s record, want %s", domain.ErrInvalidReference, rec.ID, rec.Kind, want)
}
