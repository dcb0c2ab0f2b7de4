package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/herbchain/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "herbchain.snapshot.v1"

// Snapshot is a point-in-time JSON export of actors, records, and the transaction log.
type Snapshot struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Actors     []SnapshotActor  `json:"actors"`
	Records    []SnapshotRecord `json:"records"`
	Events     []SnapshotEvent  `json:"events,omitempty"`
}

// SnapshotActor represents snapshot actor data used by this package.
type SnapshotActor struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Role         domain.Role `json:"role"`
	Company      string      `json:"company"`
	License      string      `json:"license"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// SnapshotRecord represents snapshot record data used by this package.
type SnapshotRecord struct {
	ID        string            `json:"id"`
	Kind      domain.RecordKind `json:"kind"`
	Code      string            `json:"code,omitempty"`
	Status    domain.Status     `json:"status"`
	Version   int64             `json:"version"`
	OwnerID   string            `json:"owner_id"`
	ParentIDs []string          `json:"parent_ids,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	Collection    *SnapshotCollection    `json:"collection,omitempty"`
	Test          *SnapshotTest          `json:"test,omitempty"`
	Manufacturing *SnapshotManufacturing `json:"manufacturing,omitempty"`
	Packaging     *SnapshotPackaging     `json:"packaging,omitempty"`
}

// SnapshotCollection is the exported collection payload.
type SnapshotCollection struct {
	Material     string    `json:"material"`
	Quantity     int64     `json:"quantity"`
	Unit         string    `json:"unit"`
	Location     string    `json:"location,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	SoilMoisture float64   `json:"soil_moisture,omitempty"`
	SoilPH       float64   `json:"soil_ph,omitempty"`
	Richness     string    `json:"richness,omitempty"`
	Weather      string    `json:"weather,omitempty"`
	Images       []string  `json:"images,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// SnapshotTest is the exported test payload.
type SnapshotTest struct {
	CollectionID string  `json:"collection_id"`
	Purity       float64 `json:"purity"`
	Grade        string  `json:"grade,omitempty"`
	Accepted     int64   `json:"accepted"`
	Rejected     int64   `json:"rejected"`
	Notes        string  `json:"notes,omitempty"`
}

// SnapshotComposition is one exported composition entry.
type SnapshotComposition struct {
	BatchCode    string `json:"batch_code"`
	TestRecordID string `json:"test_record_id"`
	Quantity     int64  `json:"quantity"`
}

// SnapshotManufacturing is the exported manufacturing payload.
type SnapshotManufacturing struct {
	ProductName   string                `json:"product_name"`
	Description   string                `json:"description,omitempty"`
	Composition   []SnapshotComposition `json:"composition"`
	TotalQuantity int64                 `json:"total_quantity"`
}

// SnapshotPackaging is the exported packaging payload.
type SnapshotPackaging struct {
	ManufacturingID string     `json:"manufacturing_id"`
	Verified        bool       `json:"verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

// SnapshotEvent represents one exported transaction-log entry.
type SnapshotEvent struct {
	ID         int64             `json:"id"`
	RecordID   string            `json:"record_id"`
	Kind       domain.RecordKind `json:"kind"`
	Operation  string            `json:"operation"`
	Intent     string            `json:"intent"`
	FromStatus domain.Status     `json:"from_status,omitempty"`
	ToStatus   domain.Status     `json:"to_status"`
	Version    int64             `json:"version"`
	ActorID    string            `json:"actor_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ExportSnapshot collects every actor and record, plus the transaction log when includeEvents is set.
func (s *Service) ExportSnapshot(ctx context.Context, includeEvents bool) (Snapshot, error) {
	actors, err := s.actors.ListActors(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list actors: %w", err)
	}
	records, err := s.ledger.List(ctx, RecordFilter{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list records: %w", err)
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Actors:     make([]SnapshotActor, 0, len(actors)),
		Records:    make([]SnapshotRecord, 0, len(records)),
	}
	for _, actor := range actors {
		snap.Actors = append(snap.Actors, snapshotActorFromDomain(actor))
	}
	for _, rec := range records {
		snap.Records = append(snap.Records, snapshotRecordFromDomain(rec))
	}
	if includeEvents {
		events, err := s.ledger.ListChangeEvents(ctx, "", 0)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list change events: %w", err)
		}
		snap.Events = make([]SnapshotEvent, 0, len(events))
		for _, event := range events {
			snap.Events = append(snap.Events, snapshotEventFromDomain(event))
		}
	}
	snap.sort()
	return snap, nil
}

// Validate re-checks referential integrity and batch conservation across the whole snapshot.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("snapshot is nil")
	}
	if strings.TrimSpace(s.Version) != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q", s.Version)
	}

	actors := make(map[string]domain.Role, len(s.Actors))
	for i, actor := range s.Actors {
		id := strings.TrimSpace(actor.ID)
		if id == "" {
			return fmt.Errorf("actors[%d].id is required", i)
		}
		if _, exists := actors[id]; exists {
			return fmt.Errorf("duplicate actor id: %q", id)
		}
		if !domain.IsValidRole(actor.Role) {
			return fmt.Errorf("actors[%d].role is invalid", i)
		}
		actors[id] = actor.Role
	}

	records := make(map[string]SnapshotRecord, len(s.Records))
	codes := map[string]string{}
	for i, rec := range s.Records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return fmt.Errorf("records[%d].id is required", i)
		}
		if _, exists := records[id]; exists {
			return fmt.Errorf("duplicate record id: %q", id)
		}
		if !rec.Kind.HasStatus(rec.Status) {
			return fmt.Errorf("records[%d] has status %q outside kind %q", i, rec.Status, rec.Kind)
		}
		role, ok := actors[rec.OwnerID]
		if !ok {
			return fmt.Errorf("records[%d] references unknown owner %q", i, rec.OwnerID)
		}
		if role != rec.Kind.OwnerRole() {
			return fmt.Errorf("records[%d] owner %q has role %q, want %q", i, rec.OwnerID, role, rec.Kind.OwnerRole())
		}
		if code := strings.TrimSpace(rec.Code); code != "" {
			if other, exists := codes[code]; exists {
				return fmt.Errorf("%w: code %q used by %q and %q", domain.ErrCodeCollision, code, other, id)
			}
			codes[code] = id
		}
		records[id] = rec
	}

	consumed := map[string]int64{}
	for i, rec := range s.Records {
		for _, parentID := range rec.ParentIDs {
			if _, ok := records[parentID]; !ok {
				return fmt.Errorf("%w: records[%d] references missing parent %q", domain.ErrBrokenProvenance, i, parentID)
			}
		}
		if rec.Manufacturing != nil {
			for _, entry := range rec.Manufacturing.Composition {
				consumed[entry.TestRecordID] += entry.Quantity
			}
		}
	}
	for id, total := range consumed {
		test, ok := records[id]
		if !ok || test.Test == nil {
			return fmt.Errorf("%w: composition references %q which is not a test record", domain.ErrBrokenProvenance, id)
		}
		if total > test.Test.Accepted {
			return fmt.Errorf("%w: batch %s consumed %d of %d", domain.ErrOverConsumption, test.Code, total, test.Test.Accepted)
		}
	}

	for i, event := range s.Events {
		if _, ok := records[event.RecordID]; !ok {
			return fmt.Errorf("events[%d] references unknown record %q", i, event.RecordID)
		}
	}
	return nil
}

// sort orders snapshot rows deterministically.
func (s *Snapshot) sort() {
	sort.SliceStable(s.Actors, func(i, j int) bool {
		return s.Actors[i].ID < s.Actors[j].ID
	})
	sort.SliceStable(s.Records, func(i, j int) bool {
		ri, rj := s.Records[i], s.Records[j]
		if ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.ID < rj.ID
		}
		return ri.CreatedAt.Before(rj.CreatedAt)
	})
	sort.SliceStable(s.Events, func(i, j int) bool {
		return s.Events[i].ID < s.Events[j].ID
	})
}

func snapshotActorFromDomain(a domain.Actor) SnapshotActor {
	return SnapshotActor{
		ID:           a.ID,
		Name:         a.Name,
		Role:         a.Role,
		Company:      a.Company,
		License:      a.License,
		RegisteredAt: a.RegisteredAt.UTC(),
	}
}

func snapshotRecordFromDomain(r domain.Record) SnapshotRecord {
	out := SnapshotRecord{
		ID:        r.ID,
		Kind:      r.Kind,
		Code:      r.Code,
		Status:    r.Status,
		Version:   r.Version,
		OwnerID:   r.OwnerID,
		ParentIDs: append([]string(nil), r.ParentIDs...),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if c := r.Collection; c != nil {
		out.Collection = &SnapshotCollection{
			Material:     c.Material,
			Quantity:     c.Quantity,
			Unit:         c.Unit,
			Location:     c.Location,
			Latitude:     c.Coordinates.Latitude,
			Longitude:    c.Coordinates.Longitude,
			SoilMoisture: c.Environment.SoilMoisture,
			SoilPH:       c.Environment.SoilPH,
			Richness:     c.Environment.Richness,
			Weather:      c.Environment.Weather,
			Images:       append([]string(nil), c.Images...),
			CollectedAt:  c.CollectedAt.UTC(),
		}
	}
	if t := r.Test; t != nil {
		out.Test = &SnapshotTest{
			CollectionID: t.CollectionID,
			Purity:       t.Purity,
			Grade:        t.Grade,
			Accepted:     t.Accepted,
			Rejected:     t.Rejected,
			Notes:        t.Notes,
		}
	}
	if m := r.Manufacturing; m != nil {
		entries := make([]SnapshotComposition, 0, len(m.Composition))
		for _, entry := range m.Composition {
			entries = append(entries, SnapshotComposition(entry))
		}
		out.Manufacturing = &SnapshotManufacturing{
			ProductName:   m.ProductName,
			Description:   m.Description,
			Composition:   entries,
			TotalQuantity: m.TotalQuantity,
		}
	}
	if p := r.Packaging; p != nil {
		out.Packaging = &SnapshotPackaging{
			ManufacturingID: p.ManufacturingID,
			Verified:        p.Verified,
			VerifiedAt:      copyTimePtr(p.VerifiedAt),
		}
	}
	return out
}

func snapshotEventFromDomain(e domain.ChangeEvent) SnapshotEvent {
	return SnapshotEvent{
		ID:         e.ID,
		RecordID:   e.RecordID,
		Kind:       e.Kind,
		Operation:  string(e.Operation),
		Intent:     e.Intent,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Version:    e.Version,
		ActorID:    e.ActorID,
		Metadata:   e.Metadata,
		OccurredAt: e.OccurredAt.UTC(),
	}
}

// copyTimePtr returns a UTC copy of in.
func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	ts := in.UTC()
	return &ts
}
