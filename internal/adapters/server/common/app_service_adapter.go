package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

var _ LedgerService = (*AppServiceAdapter)(nil)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// RegisterActor registers one actor.
func (a *AppServiceAdapter) RegisterActor(ctx context.Context, in RegisterActorRequest) (Actor, error) {
	if err := a.ready(in); err != nil {
		return Actor{}, err
	}
	actor, err := a.service.RegisterActor(ctx, app.RegisterActorInput{
		ID:      in.ID,
		Name:    in.Name,
		Role:    in.Role,
		Company: in.Company,
		License: in.License,
	})
	if err != nil {
		return Actor{}, fmt.Errorf("register actor: %w", err)
	}
	return mapActor(actor), nil
}

// ListActors lists every registered actor.
func (a *AppServiceAdapter) ListActors(ctx context.Context) ([]Actor, error) {
	if err := a.ready(nil); err != nil {
		return nil, err
	}
	actors, err := a.service.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	out := make([]Actor, 0, len(actors))
	for _, actor := range actors {
		out = append(out, mapActor(actor))
	}
	return out, nil
}

// RecordCollection opens one collection record.
func (a *AppServiceAdapter) RecordCollection(ctx context.Context, in RecordCollectionRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	rec, err := a.service.RecordCollection(ctx, app.RecordCollectionInput{
		ActorID: in.ActorID,
		Details: domain.CollectionDetails{
			Material:    in.Material,
			Quantity:    in.Quantity,
			Unit:        in.Unit,
			Location:    in.Location,
			Coordinates: domain.GeoPoint(in.Coordinates),
			Environment: domain.Environment(in.Environment),
			Images:      in.Images,
		},
	})
	return recordResult("record collection", rec, err)
}

// UpdateCollection edits one recorded collection.
func (a *AppServiceAdapter) UpdateCollection(ctx context.Context, in UpdateCollectionRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	rec, err := a.service.UpdateCollection(ctx, app.UpdateCollectionInput{
		TransitionInput: app.TransitionInput{ActorID: in.ActorID, RecordID: in.RecordID, ExpectedVersion: in.ExpectedVersion},
		Patch: collectionPatch(CollectionEdits{
			Material:    in.Material,
			Quantity:    in.Quantity,
			Unit:        in.Unit,
			Location:    in.Location,
			Coordinates: in.Coordinates,
			Environment: in.Environment,
			Images:      in.Images,
		}),
	})
	return recordResult("update collection", rec, err)
}

// RecordTest opens one test record.
func (a *AppServiceAdapter) RecordTest(ctx context.Context, in RecordTestRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	rec, err := a.service.RecordTest(ctx, app.RecordTestInput{
		ActorID:      in.ActorID,
		CollectionID: in.CollectionID,
		Purity:       in.Purity,
		Grade:        in.Grade,
		Accepted:     in.Accepted,
		Rejected:     in.Rejected,
		Notes:        in.Notes,
	})
	return recordResult("record test", rec, err)
}

// UpdateTest edits one in-progress test record.
func (a *AppServiceAdapter) UpdateTest(ctx context.Context, in UpdateTestRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	rec, err := a.service.UpdateTest(ctx, app.UpdateTestInput{
		TransitionInput: app.TransitionInput{ActorID: in.ActorID, RecordID: in.RecordID, ExpectedVersion: in.ExpectedVersion},
		Patch: testPatch(TestEdits{
			Purity:   in.Purity,
			Grade:    in.Grade,
			Accepted: in.Accepted,
			Rejected: in.Rejected,
			Notes:    in.Notes,
		}),
	})
	return recordResult("update test", rec, err)
}

func collectionPatch(in CollectionEdits) domain.CollectionPatch {
	patch := domain.CollectionPatch{
		Material: in.Material,
		Quantity: in.Quantity,
		Unit:     in.Unit,
		Location: in.Location,
		Images:   in.Images,
	}
	if in.Coordinates != nil {
		point := domain.GeoPoint(*in.Coordinates)
		patch.Coordinates = &point
	}
	if in.Environment != nil {
		env := domain.Environment(*in.Environment)
		patch.Environment = &env
	}
	return patch
}

func testPatch(in TestEdits) domain.TestPatch {
	return domain.TestPatch{
		Purity:   in.Purity,
		Grade:    in.Grade,
		Accepted: in.Accepted,
		Rejected: in.Rejected,
		Notes:    in.Notes,
	}
}

// CreateProduct aggregates tested batches into one product.
func (a *AppServiceAdapter) CreateProduct(ctx context.Context, in CreateProductRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	composition := make([]app.CompositionRequest, 0, len(in.Composition))
	for _, item := range in.Composition {
		composition = append(composition, app.CompositionRequest{BatchCode: item.BatchCode, Quantity: item.Quantity})
	}
	rec, err := a.service.CreateProduct(ctx, app.CreateProductInput{
		ActorID:     in.ActorID,
		ProductName: in.ProductName,
		Description: in.Description,
		Composition: composition,
	})
	return recordResult("create product", rec, err)
}

// ReceiveProduct opens one packaging record.
func (a *AppServiceAdapter) ReceiveProduct(ctx context.Context, in ReceiveProductRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	rec, err := a.service.ReceiveProduct(ctx, app.ReceiveProductInput{ActorID: in.ActorID, Product: in.Product})
	return recordResult("receive product", rec, err)
}

// Advance applies one named intent.
func (a *AppServiceAdapter) Advance(ctx context.Context, in AdvanceRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	var step func(context.Context, app.TransitionInput) (domain.Record, error)
	intent := strings.ToLower(strings.TrimSpace(in.Intent))
	switch intent {
	case IntentSendCollection:
		step = a.service.SendCollection
	case IntentCompleteTest:
		step = a.service.CompleteTest
	case IntentDispatchTest:
		step = a.service.DispatchTest
	case IntentCompleteProduct:
		step = a.service.CompleteProduct
	case IntentDispatchProduct:
		step = a.service.DispatchProduct
	case IntentVerifyPackaging:
		step = a.service.VerifyPackaging
	case IntentGenerateConsumerCode:
		step = a.service.GenerateConsumerCode
	default:
		return Record{}, fmt.Errorf("%w %q", ErrUnsupportedIntent, in.Intent)
	}
	rec, err := step(ctx, app.TransitionInput{ActorID: in.ActorID, RecordID: in.RecordID, ExpectedVersion: in.ExpectedVersion})
	return recordResult(strings.ReplaceAll(intent, "_", " "), rec, err)
}

// Transition moves one record to a target state.
func (a *AppServiceAdapter) Transition(ctx context.Context, in TransitionRequest) (Record, error) {
	if err := a.ready(in); err != nil {
		return Record{}, err
	}
	var payload *app.TransitionPayload
	if in.Collection != nil || in.Test != nil {
		payload = &app.TransitionPayload{}
		if in.Collection != nil {
			patch := collectionPatch(*in.Collection)
			payload.Collection = &patch
		}
		if in.Test != nil {
			patch := testPatch(*in.Test)
			payload.Test = &patch
		}
	}
	rec, err := a.service.ApplyTransition(ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: in.ActorID, RecordID: in.RecordID, ExpectedVersion: in.ExpectedVersion},
		Target:          in.Target,
		Payload:         payload,
	})
	return recordResult("apply transition", rec, err)
}

// GetRecord returns one record by id.
func (a *AppServiceAdapter) GetRecord(ctx context.Context, id string) (Record, error) {
	if err := a.ready(nil); err != nil {
		return Record{}, err
	}
	rec, err := a.service.GetRecord(ctx, id)
	return recordResult("get record", rec, err)
}

// FindByCode returns the record a code names.
func (a *AppServiceAdapter) FindByCode(ctx context.Context, code string) (Record, error) {
	if err := a.ready(nil); err != nil {
		return Record{}, err
	}
	rec, err := a.service.FindByCode(ctx, code)
	return recordResult("find by code", rec, err)
}

// ListRecords lists filtered records.
func (a *AppServiceAdapter) ListRecords(ctx context.Context, in ListRecordsRequest) ([]Record, error) {
	if err := a.ready(in); err != nil {
		return nil, err
	}
	recs, err := a.service.ListRecords(ctx, app.RecordFilter{
		Kind:    domain.RecordKind(in.Kind),
		Status:  domain.Status(in.Status),
		OwnerID: strings.TrimSpace(in.OwnerID),
		Limit:   in.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return mapRecords(recs), nil
}

// Children returns the records built directly on id.
func (a *AppServiceAdapter) Children(ctx context.Context, id string) ([]Record, error) {
	if err := a.ready(nil); err != nil {
		return nil, err
	}
	recs, err := a.service.Children(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return mapRecords(recs), nil
}

// ResolveProvenance rebuilds the journey behind a consumer code.
func (a *AppServiceAdapter) ResolveProvenance(ctx context.Context, code string) (Provenance, error) {
	if err := a.ready(nil); err != nil {
		return Provenance{}, err
	}
	tree, err := a.service.ResolveProvenance(ctx, code)
	if err != nil {
		return Provenance{}, fmt.Errorf("resolve provenance: %w", err)
	}
	return MapProvenance(tree), nil
}

// BatchHeadroom reports remaining accepted quantity of a batch.
func (a *AppServiceAdapter) BatchHeadroom(ctx context.Context, code string) (Headroom, error) {
	if err := a.ready(nil); err != nil {
		return Headroom{}, err
	}
	h, err := a.service.BatchHeadroom(ctx, code)
	if err != nil {
		return Headroom{}, fmt.Errorf("batch headroom: %w", err)
	}
	return Headroom(h), nil
}

// ListChangeEvents returns the transaction log, newest first.
func (a *AppServiceAdapter) ListChangeEvents(ctx context.Context, recordID string, limit int) ([]ChangeEvent, error) {
	if err := a.ready(nil); err != nil {
		return nil, err
	}
	events, err := a.service.ListChangeEvents(ctx, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("list change events: %w", err)
	}
	out := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		out = append(out, ChangeEvent{
			ID:         event.ID,
			RecordID:   event.RecordID,
			Kind:       string(event.Kind),
			Operation:  string(event.Operation),
			Intent:     event.Intent,
			FromStatus: string(event.FromStatus),
			ToStatus:   string(event.ToStatus),
			Version:    event.Version,
			ActorID:    event.ActorID,
			Metadata:   event.Metadata,
			OccurredAt: event.OccurredAt,
		})
	}
	return out, nil
}

// Summarize returns the auditor overview.
func (a *AppServiceAdapter) Summarize(ctx context.Context) (Summary, error) {
	if err := a.ready(nil); err != nil {
		return Summary{}, err
	}
	summary, err := a.service.Summarize(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	out := Summary{
		ActorsByRole:  make(map[string]int, len(summary.ActorsByRole)),
		RecordsByKind: make(map[string]map[string]int, len(summary.RecordsByKind)),
		TotalRecords:  summary.TotalRecords,
		PackagedCodes: summary.PackagedCodes,
		OverConsumed:  summary.OverConsumed,
	}
	for role, n := range summary.ActorsByRole {
		out.ActorsByRole[string(role)] = n
	}
	for kind, byStatus := range summary.RecordsByKind {
		counts := make(map[string]int, len(byStatus))
		for status, n := range byStatus {
			counts[string(status)] = n
		}
		out.RecordsByKind[string(kind)] = counts
	}
	return out, nil
}

// MintCode mints a standalone code.
func (a *AppServiceAdapter) MintCode(ctx context.Context, in MintCodeRequest) (MintedCode, error) {
	if err := a.ready(in); err != nil {
		return MintedCode{}, err
	}
	code, err := a.service.MintCode(ctx, in.Seed, in.Year)
	if err != nil {
		return MintedCode{}, fmt.Errorf("mint code: %w", err)
	}
	return MintedCode{Code: code}, nil
}

// ready checks adapter wiring and validates req when one is given.
func (a *AppServiceAdapter) ready(req any) error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured")
	}
	if req == nil {
		return nil
	}
	return validateRequest(req)
}

func recordResult(operation string, rec domain.Record, err error) (Record, error) {
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", operation, err)
	}
	return MapRecord(rec), nil
}

func mapActor(actor domain.Actor) Actor {
	return Actor{
		ID:           actor.ID,
		Name:         actor.Name,
		Role:         string(actor.Role),
		Company:      actor.Company,
		License:      actor.License,
		RegisteredAt: actor.RegisteredAt,
	}
}

func mapRecords(recs []domain.Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, MapRecord(rec))
	}
	return out
}

// MapRecord converts a domain record into its transport view.
func MapRecord(rec domain.Record) Record {
	out := Record{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Code:      rec.Code,
		Status:    string(rec.Status),
		Version:   rec.Version,
		OwnerID:   rec.OwnerID,
		ParentIDs: append([]string(nil), rec.ParentIDs...),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if c := rec.Collection; c != nil {
		out.Collection = &Collection{
			Material:    c.Material,
			Quantity:    c.Quantity,
			Unit:        c.Unit,
			Location:    c.Location,
			Coordinates: GeoPoint(c.Coordinates),
			Environment: Environment(c.Environment),
			Images:      append([]string(nil), c.Images...),
			CollectedAt: c.CollectedAt,
		}
	}
	if t := rec.Test; t != nil {
		out.Test = &Test{
			CollectionID: t.CollectionID,
			Purity:       t.Purity,
			Grade:        t.Grade,
			Accepted:     t.Accepted,
			Rejected:     t.Rejected,
			Notes:        t.Notes,
		}
	}
	if m := rec.Manufacturing; m != nil {
		entries := make([]CompositionEntry, 0, len(m.Composition))
		for _, entry := range m.Composition {
			entries = append(entries, CompositionEntry(entry))
		}
		out.Manufacturing = &Manufacturing{
			ProductName:   m.ProductName,
			Description:   m.Description,
			Composition:   entries,
			TotalQuantity: m.TotalQuantity,
		}
	}
	if p := rec.Packaging; p != nil {
		out.Packaging = &Packaging{
			ManufacturingID: p.ManufacturingID,
			Verified:        p.Verified,
			VerifiedAt:      p.VerifiedAt,
		}
	}
	return out
}

// MapProvenance converts a resolved tree into its transport view.
func MapProvenance(tree domain.ProvenanceTree) Provenance {
	out := Provenance{
		ConsumerCode: tree.ConsumerCode,
		Packaging:    MapRecord(tree.Packaging),
		Product:      MapRecord(tree.Product),
		Leaves:       make([]ProvenanceLeaf, 0, len(tree.Batches)),
	}
	for _, batch := range tree.Batches {
		out.Leaves = append(out.Leaves, ProvenanceLeaf{
			BatchCode:  batch.Entry.BatchCode,
			Quantity:   batch.Entry.Quantity,
			Test:       MapRecord(batch.Test),
			Tester:     mapActor(batch.Tester),
			Collection: MapRecord(batch.Collection),
			Collector:  mapActor(batch.Collector),
		})
	}
	return out
}
