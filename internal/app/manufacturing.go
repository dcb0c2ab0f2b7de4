package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// CompositionRequest asks to consume quantity units of a tested batch.
type CompositionRequest struct {
	BatchCode string
	Quantity  int64
}

// CreateProductInput holds input values for a manufacturing record.
type CreateProductInput struct {
	ActorID     string
	ProductName string
	Description string
	Composition []CompositionRequest
}

// CreateProduct aggregates tested batches into a new product.
// Every batch is checked against its remaining headroom inside one ledger transaction, so either
// the whole composition is recorded or none of it is.
func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Record, error) {
	return s.create(ctx, IntentCreateProduct, in.ActorID, domain.KindManufacturing, func(ctx context.Context, tx LedgerTx, actor domain.Actor) (domain.Record, map[string]string, error) {
		if strings.TrimSpace(in.ProductName) == "" {
			return domain.Record{}, nil, domain.ErrInvalidName
		}
		requested := make([]domain.CompositionEntry, 0, len(in.Composition))
		for _, req := range in.Composition {
			requested = append(requested, domain.CompositionEntry{BatchCode: req.BatchCode, Quantity: req.Quantity})
		}
		entries, err := domain.NormalizeComposition(requested)
		if err != nil {
			return domain.Record{}, nil, err
		}
		for i := range entries {
			test, err := s.consumableBatch(ctx, tx, entries[i].BatchCode, entries[i].Quantity)
			if err != nil {
				return domain.Record{}, nil, err
			}
			entries[i].TestRecordID = test.ID
		}
		code, err := s.codes.Mint(ctx, tx, in.ProductName, 0)
		if err != nil {
			return domain.Record{}, nil, err
		}
		rec, err := domain.NewManufacturingRecord(s.idGen(), actor.ID, in.ProductName, in.Description, entries, code, s.clock())
		if err != nil {
			return domain.Record{}, nil, err
		}
		return rec, map[string]string{
			"product_code":   code,
			"batches":        strconv.Itoa(len(entries)),
			"total_quantity": strconv.FormatInt(rec.Manufacturing.TotalQuantity, 10),
		}, nil
	})
}

// consumableBatch loads a test record by batch code and checks that quantity more units fit its headroom.
func (s *Service) consumableBatch(ctx context.Context, tx LedgerReader, batchCode string, quantity int64) (domain.Record, error) {
	test, err := tx.FindByCode(ctx, batchCode)
	if err != nil {
		return domain.Record{}, fmt.Errorf("batch %s: %w", batchCode, err)
	}
	if test.Kind != domain.KindTest {
		return domain.Record{}, kindMismatch(&test, domain.KindTest)
	}
	if test.Status != domain.StatusCompleted && test.Status != domain.StatusDispatched {
		return domain.Record{}, fmt.Errorf("%w: batch %s is %s", domain.ErrInvalidReference, batchCode, test.Status)
	}
	consumed, err := consumedFrom(ctx, tx, test.ID)
	if err != nil {
		return domain.Record{}, err
	}
	if quantity > test.Test.Accepted-consumed {
		return domain.Record{}, fmt.Errorf("%w: batch %s has %d of %d accepted units left, requested %d", domain.ErrOverConsumption, batchCode, test.Test.Accepted-consumed, test.Test.Accepted, quantity)
	}
	return test, nil
}

// consumedFrom sums what every manufacturing record already takes from a test record.
func consumedFrom(ctx context.Context, r LedgerReader, testRecordID string) (int64, error) {
	children, err := r.FindByParent(ctx, testRecordID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, child := range children {
		if child.Kind == domain.KindManufacturing {
			total += child.ConsumedFrom(testRecordID)
		}
	}
	return total, nil
}

// CompleteProduct closes a product for edits.
func (s *Service) CompleteProduct(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.advance(ctx, IntentCompleteProduct, domain.KindManufacturing, domain.StatusCompleted, in)
}

// DispatchProduct hands a completed product to packaging.
func (s *Service) DispatchProduct(ctx context.Context, in TransitionInput) (domain.Record, error) {
	return s.advance(ctx, IntentDispatchProduct, domain.KindManufacturing, domain.StatusDispatched, in)
}
