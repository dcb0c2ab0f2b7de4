package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// ReceiveProductInput holds input values for taking custody of a dispatched product.
// Product may be a manufacturing record id or its product code.
type ReceiveProductInput struct {
	ActorID string
	Product string
}

// ReceiveProduct opens a packaging record for a dispatched product. Each product is packaged once.
func (s *Service) ReceiveProduct(ctx context.Context, in ReceiveProductInput) (domain.Record, error) {
	return s.create(ctx, IntentReceiveProduct, in.ActorID, domain.KindPackaging, func(ctx context.Context, tx LedgerTx, actor domain.Actor) (domain.Record, map[string]string, error) {
		product, err := lookupRecord(ctx, tx, in.Product)
		if err != nil {
			return domain.Record{}, nil, err
		}
		if product.Kind != domain.KindManufacturing {
			return domain.Record{}, nil, kindMismatch(&product, domain.KindManufacturing)
		}
		children, err := tx.FindByParent(ctx, product.ID)
		if err != nil {
			return domain.Record{}, nil, err
		}
		for _, child := range children {
			if child.Kind == domain.KindPackaging {
				return domain.Record{}, nil, fmt.Errorf("%w: %s is packaged by %s", domain.ErrAlreadyReceived, product.ID, child.ID)
			}
		}
		rec, err := domain.NewPackagingRecord(s.idGen(), actor.ID, product, s.clock())
		if err != nil {
			return domain.Record{}, nil, err
		}
		return rec, map[string]string{"manufacturing_id": product.ID, "product_code": product.Code}, nil
	})
}

// VerifyPackaging checks the full journey of the received product and marks the packaging verified.
// A missing upstream link fails the verification with a consistency error. The journey is read
// without holding any lock; the packaging record is then committed by version, so a concurrent
// change to it surfaces as a conflict.
func (s *Service) VerifyPackaging(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.mutate(ctx, mutation{
		intent: IntentVerifyPackaging,
		op:     domain.ChangeOperationTransition,
		input:  in,
		apply: func(ctx context.Context, r LedgerView, _ domain.Actor, rec *domain.Record) error {
			if rec.Kind != domain.KindPackaging {
				return kindMismatch(rec, domain.KindPackaging)
			}
			if err := domain.ValidateTransition(rec.Kind, rec.Status, domain.StatusVerified); err != nil {
				return err
			}
			if _, err := s.resolveTree(ctx, r, *rec, provenanceFanOut); err != nil {
				return err
			}
			return rec.MarkVerified(s.clock())
		},
	})
}

// GenerateConsumerCode mints the final consumer code for a verified packaging record.
// Calling it again on a packaged record returns the record with its existing code.
func (s *Service) GenerateConsumerCode(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.mutate(ctx, mutation{
		intent:       IntentGenerateConsumerCode,
		op:           domain.ChangeOperationTransition,
		input:        in,
		terminalNoop: true,
		apply: func(ctx context.Context, r LedgerView, _ domain.Actor, rec *domain.Record) error {
			if rec.Kind != domain.KindPackaging {
				return kindMismatch(rec, domain.KindPackaging)
			}
			if err := domain.ValidateTransition(rec.Kind, rec.Status, domain.StatusPackaged); err != nil {
				return err
			}
			product, err := r.Get(ctx, rec.Packaging.ManufacturingID)
			if err != nil {
				return fmt.Errorf("%w: product %s: %v", domain.ErrBrokenProvenance, rec.Packaging.ManufacturingID, err)
			}
			code, err := s.codes.Mint(ctx, r, product.Manufacturing.ProductName, 0)
			if err != nil {
				return err
			}
			if err := ensureCodeUnissued(ctx, r, code); err != nil {
				return err
			}
			return rec.AssignConsumerCode(code, s.clock())
		},
	})
}

// lookupRecord resolves ref as a record id first and a code second.
func lookupRecord(ctx context.Context, r LedgerReader, ref string) (domain.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Record{}, ErrRecordRequired
	}
	rec, err := r.Get(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Record{}, err
	}
	rec, err = r.FindByCode(ctx, strings.ToUpper(ref))
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: %w", ref, err)
	}
	return rec, nil
}
