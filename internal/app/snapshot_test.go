package app_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

func TestExportSnapshotIncludesExpectedData(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98.5)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Turmeric Capsules",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	h.packagedProduct(t, product)

	snap, err := h.svc.ExportSnapshot(h.ctx, true)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if snap.Version != app.SnapshotVersion {
		t.Fatalf("unexpected snapshot version %q", snap.Version)
	}
	if len(snap.Actors) != 7 {
		t.Fatalf("expected 7 actors, got %d", len(snap.Actors))
	}
	if snap.Actors[0].ID != "auditor-1" {
		t.Fatalf("expected actors sorted by id, got first %q", snap.Actors[0].ID)
	}
	if len(snap.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(snap.Records))
	}
	kinds := map[domain.RecordKind]app.SnapshotRecord{}
	for _, rec := range snap.Records {
		kinds[rec.Kind] = rec
	}
	if got := kinds[domain.KindCollection].Collection; got == nil || got.Material != "Turmeric" || got.Latitude != 11.34 {
		t.Fatalf("unexpected collection payload %#v", got)
	}
	if got := kinds[domain.KindManufacturing].Manufacturing; got == nil || got.Composition[0].BatchCode != "TU-2024-001" {
		t.Fatalf("unexpected manufacturing payload %#v", got)
	}
	if got := kinds[domain.KindPackaging]; got.Packaging == nil || !got.Packaging.Verified || got.Status != domain.StatusPackaged {
		t.Fatalf("unexpected packaging record %#v", got)
	}
	if len(snap.Events) == 0 {
		t.Fatal("expected transaction log entries in snapshot")
	}
	for i := 1; i < len(snap.Events); i++ {
		if snap.Events[i-1].ID > snap.Events[i].ID {
			t.Fatalf("events not ordered by id: %d before %d", snap.Events[i-1].ID, snap.Events[i].ID)
		}
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(encoded), `"batch_code":"TU-2024-001"`) {
		t.Fatalf("expected snake_case payload keys, got %s", encoded)
	}

	withoutEvents, err := h.svc.ExportSnapshot(h.ctx, false)
	if err != nil {
		t.Fatalf("ExportSnapshot(no events) error = %v", err)
	}
	if len(withoutEvents.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(withoutEvents.Events))
	}
}

func TestSnapshotValidateErrors(t *testing.T) {
	valid := func() app.Snapshot {
		return app.Snapshot{
			Version: app.SnapshotVersion,
			Actors: []app.SnapshotActor{
				{ID: "collector-1", Role: domain.RoleCollector},
				{ID: "tester-1", Role: domain.RoleTester},
				{ID: "maker-1", Role: domain.RoleManufacturer},
			},
			Records: []app.SnapshotRecord{
				{ID: "c1", Kind: domain.KindCollection, Status: domain.StatusSent, OwnerID: "collector-1"},
				{ID: "t1", Kind: domain.KindTest, Code: "TU-2024-001", Status: domain.StatusDispatched, OwnerID: "tester-1", ParentIDs: []string{"c1"}, Test: &app.SnapshotTest{CollectionID: "c1", Accepted: 10}},
				{ID: "m1", Kind: domain.KindManufacturing, Code: "TC-2024-001", Status: domain.StatusInProgress, OwnerID: "maker-1", ParentIDs: []string{"t1"}, Manufacturing: &app.SnapshotManufacturing{
					ProductName: "Turmeric Caps",
					Composition: []app.SnapshotComposition{{BatchCode: "TU-2024-001", TestRecordID: "t1", Quantity: 6}},
				}},
			},
		}
	}
	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate(valid) error = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*app.Snapshot)
		want   error
		substr string
	}{
		{name: "version", mutate: func(s *app.Snapshot) { s.Version = "v0" }, substr: "unsupported snapshot version"},
		{name: "duplicate actor", mutate: func(s *app.Snapshot) { s.Actors = append(s.Actors, s.Actors[0]) }, substr: "duplicate actor id"},
		{name: "bad role", mutate: func(s *app.Snapshot) { s.Actors[0].Role = "chef" }, substr: "actors[0].role is invalid"},
		{name: "status outside kind", mutate: func(s *app.Snapshot) { s.Records[0].Status = domain.StatusPackaged }, substr: "outside kind"},
		{name: "wrong owner role", mutate: func(s *app.Snapshot) { s.Records[1].OwnerID = "maker-1" }, substr: "has role"},
		{name: "code collision", mutate: func(s *app.Snapshot) { s.Records[2].Code = "TU-2024-001" }, want: domain.ErrCodeCollision},
		{name: "missing parent", mutate: func(s *app.Snapshot) { s.Records[1].ParentIDs = []string{"ghost"} }, want: domain.ErrBrokenProvenance},
		{name: "over consumption", mutate: func(s *app.Snapshot) { s.Records[2].Manufacturing.Composition[0].Quantity = 11 }, want: domain.ErrOverConsumption},
		{name: "orphan event", mutate: func(s *app.Snapshot) { s.Events = []app.SnapshotEvent{{RecordID: "ghost"}} }, substr: "unknown record"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := valid()
			tc.mutate(&snap)
			err := snap.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.substr != "" && !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("expected %q in %v", tc.substr, err)
			}
		})
	}
}
