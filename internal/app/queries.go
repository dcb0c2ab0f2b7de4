package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// GetRecord returns one record by id.
func (s *Service) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Record{}, ErrRecordRequired
	}
	return s.ledger.Get(ctx, id)
}

// FindByCode returns the record a batch, product, or consumer code names.
func (s *Service) FindByCode(ctx context.Context, code string) (domain.Record, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Record{}, ErrCodeRequired
	}
	return s.ledger.FindByCode(ctx, code)
}

// ListRecords lists records matching filter, oldest first.
func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]domain.Record, error) {
	if filter.Kind != "" {
		kind, err := domain.ParseRecordKind(string(filter.Kind))
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
		if filter.Status != "" {
			status, err := domain.ParseStatus(kind, string(filter.Status))
			if err != nil {
				return nil, err
			}
			filter.Status = status
		}
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.ledger.List(ctx, filter)
}

// Children returns the records built directly on id.
func (s *Service) Children(ctx context.Context, id string) ([]domain.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrRecordRequired
	}
	return s.ledger.FindByParent(ctx, id)
}

// ListChangeEvents returns the transaction log, newest first. An empty recordID lists every record.
func (s *Service) ListChangeEvents(ctx context.Context, recordID string, limit int) ([]domain.ChangeEvent, error) {
	if limit < 0 {
		limit = 0
	}
	return s.ledger.ListChangeEvents(ctx, strings.TrimSpace(recordID), limit)
}

// Headroom reports how much of a tested batch is still available to manufacturing.
type Headroom struct {
	BatchCode    string
	TestRecordID string
	Accepted     int64
	Consumed     int64
	Remaining    int64
	Consumers    []string
}

// BatchHeadroom computes the remaining accepted quantity of a batch.
func (s *Service) BatchHeadroom(ctx context.Context, batchCode string) (Headroom, error) {
	code := strings.ToUpper(strings.TrimSpace(batchCode))
	if code == "" {
		return Headroom{}, ErrCodeRequired
	}
	test, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return Headroom{}, fmt.Errorf("batch %s: %w", code, err)
	}
	if test.Kind != domain.KindTest {
		return Headroom{}, kindMismatch(&test, domain.KindTest)
	}
	children, err := s.ledger.FindByParent(ctx, test.ID)
	if err != nil {
		return Headroom{}, err
	}
	out := Headroom{
		BatchCode:    code,
		TestRecordID: test.ID,
		Accepted:     test.Test.Accepted,
	}
	for _, child := range children {
		if child.Kind != domain.KindManufacturing {
			continue
		}
		out.Consumed += child.ConsumedFrom(test.ID)
		out.Consumers = append(out.Consumers, child.Code)
	}
	out.Remaining = out.Accepted - out.Consumed
	return out, nil
}

// Summary is the auditor overview of the ledger.
type Summary struct {
	ActorsByRole  map[domain.Role]int
	RecordsByKind map[domain.RecordKind]map[domain.Status]int
	TotalRecords  int
	PackagedCodes []string
	OverConsumed  []string
}

// Summarize counts actors and records and re-checks the conservation invariant for every batch.
func (s *Service) Summarize(ctx context.Context) (Summary, error) {
	actors, err := s.actors.ListActors(ctx)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.ledger.List(ctx, RecordFilter{})
	if err != nil {
		return Summary{}, err
	}
	out := Summary{
		ActorsByRole:  map[domain.Role]int{},
		RecordsByKind: map[domain.RecordKind]map[domain.Status]int{},
		TotalRecords:  len(records),
	}
	for _, actor := range actors {
		out.ActorsByRole[actor.Role]++
	}
	for _, kind := range domain.RecordKinds() {
		out.RecordsByKind[kind] = map[domain.Status]int{}
	}
	consumed := map[string]int64{}
	for _, rec := range records {
		out.RecordsByKind[rec.Kind][rec.Status]++
		switch rec.Kind {
		case domain.KindManufacturing:
			for _, entry := range rec.Manufacturing.Composition {
				consumed[entry.TestRecordID] += entry.Quantity
			}
		case domain.KindPackaging:
			if rec.Status == domain.StatusPackaged {
				out.PackagedCodes = append(out.PackagedCodes, rec.Code)
			}
		}
	}
	for _, rec := range records {
		if rec.Kind == domain.KindTest && consumed[rec.ID] > rec.Test.Accepted {
			out.OverConsumed = append(out.OverConsumed, rec.Code)
		}
	}
	return out, nil
}
