package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hylla/herbchain/internal/adapters/storage/memory"
	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

// newAdapterForTest wires an adapter over an in-memory ledger with seeded actors.
func newAdapterForTest(t *testing.T) *AppServiceAdapter {
	t.Helper()
	store := memory.NewStore()
	var seq atomic.Int64
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := app.NewService(store, store, func() string {
		return fmt.Sprintf("rec-%03d", seq.Add(1))
	}, func() time.Time { return now }, app.ServiceConfig{})
	adapter := NewAppServiceAdapter(svc)
	for _, in := range []RegisterActorRequest{
		{ID: "collector-1", Name: "Asha", Role: "collector", Company: "Green Valley Farms"},
		{ID: "tester-1", Name: "Ravi", Role: "tester", Company: "PureLab"},
		{ID: "maker-1", Name: "Meera", Role: "manufacturer", Company: "Ayur Works"},
		{ID: "packer-1", Name: "Sam", Role: "packager", Company: "SealPack"},
		{ID: "auditor-1", Name: "Lee", Role: "auditor", Company: "Trace Audit"},
	} {
		if _, err := adapter.RegisterActor(context.Background(), in); err != nil {
			t.Fatalf("RegisterActor(%s) error = %v", in.ID, err)
		}
	}
	return adapter
}

// advanceForTest applies one intent and fails the test on error.
func advanceForTest(t *testing.T, a *AppServiceAdapter, actorID, recordID, intent string) Record {
	t.Helper()
	rec, err := a.Advance(context.Background(), AdvanceRequest{ActorID: actorID, RecordID: recordID, Intent: intent})
	if err != nil {
		t.Fatalf("Advance(%s) error = %v", intent, err)
	}
	return rec
}

// TestAppServiceAdapterFullJourney verifies the adapter drives a batch from field to consumer code.
func TestAppServiceAdapterFullJourney(t *testing.T) {
	a := newAdapterForTest(t)
	ctx := context.Background()

	collection, err := a.RecordCollection(ctx, RecordCollectionRequest{
		ActorID:     "collector-1",
		Material:    "Turmeric",
		Quantity:    100,
		Unit:        "kg",
		Location:    "Erode",
		Coordinates: GeoPoint{Latitude: 11.34, Longitude: 77.72},
		Environment: Environment{SoilMoisture: 30, SoilPH: 6.4, Weather: "dry"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	if collection.Kind != "collection" || collection.Status != "recorded" || collection.Collection == nil {
		t.Fatalf("unexpected collection %#v", collection)
	}
	qty := int64(120)
	updated, err := a.UpdateCollection(ctx, UpdateCollectionRequest{ActorID: "collector-1", RecordID: collection.ID, Quantity: &qty})
	if err != nil {
		t.Fatalf("UpdateCollection() error = %v", err)
	}
	if updated.Collection.Quantity != 120 || updated.Version != 2 {
		t.Fatalf("expected quantity 120 at version 2, got %d at %d", updated.Collection.Quantity, updated.Version)
	}
	advanceForTest(t, a, "collector-1", collection.ID, IntentSendCollection)

	test, err := a.RecordTest(ctx, RecordTestRequest{ActorID: "tester-1", CollectionID: collection.ID, Purity: 97.5, Grade: "A", Accepted: 110, Rejected: 10})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}
	if test.Code != "TU-2024-001" {
		t.Fatalf("expected batch code TU-2024-001, got %q", test.Code)
	}
	advanceForTest(t, a, "tester-1", test.ID, IntentCompleteTest)
	advanceForTest(t, a, "tester-1", test.ID, IntentDispatchTest)

	product, err := a.CreateProduct(ctx, CreateProductRequest{
		ActorID:     "maker-1",
		ProductName: "Turmeric Capsules",
		Composition: []CompositionItem{{BatchCode: "tu-2024-001", Quantity: 60}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	if product.Manufacturing == nil || product.Manufacturing.TotalQuantity != 60 {
		t.Fatalf("unexpected product %#v", product)
	}
	headroom, err := a.BatchHeadroom(ctx, "TU-2024-001")
	if err != nil {
		t.Fatalf("BatchHeadroom() error = %v", err)
	}
	if headroom.Remaining != 50 || headroom.Consumed != 60 {
		t.Fatalf("unexpected headroom %#v", headroom)
	}
	advanceForTest(t, a, "maker-1", product.ID, IntentCompleteProduct)
	advanceForTest(t, a, "maker-1", product.ID, IntentDispatchProduct)

	pkg, err := a.ReceiveProduct(ctx, ReceiveProductRequest{ActorID: "packer-1", Product: product.Code})
	if err != nil {
		t.Fatalf("ReceiveProduct() error = %v", err)
	}
	verified, err := a.Transition(ctx, TransitionRequest{ActorID: "packer-1", RecordID: pkg.ID, Target: "verified"})
	if err != nil {
		t.Fatalf("Transition(verified) error = %v", err)
	}
	if verified.Packaging == nil || !verified.Packaging.Verified {
		t.Fatalf("expected verified packaging, got %#v", verified.Packaging)
	}
	packaged := advanceForTest(t, a, "packer-1", pkg.ID, IntentGenerateConsumerCode)
	if packaged.Status != "packaged" || packaged.Code == "" {
		t.Fatalf("unexpected packaged record %#v", packaged)
	}

	tree, err := a.ResolveProvenance(ctx, packaged.Code)
	if err != nil {
		t.Fatalf("ResolveProvenance() error = %v", err)
	}
	if len(tree.Leaves) != 1 {
		t.Fatalf("expected one leaf, got %d", len(tree.Leaves))
	}
	leaf := tree.Leaves[0]
	if leaf.Collector.Company != "Green Valley Farms" || leaf.Tester.Company != "PureLab" || leaf.Collection.ID != collection.ID {
		t.Fatalf("unexpected leaf %#v", leaf)
	}

	events, err := a.ListChangeEvents(ctx, pkg.ID, 0)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 3 || events[0].ToStatus != "packaged" {
		t.Fatalf("expected three packaging events newest first, got %#v", events)
	}

	children, err := a.Children(ctx, test.ID)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 || children[0].ID != product.ID {
		t.Fatalf("expected product as only child, got %#v", children)
	}

	summary, err := a.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.TotalRecords != 4 || summary.RecordsByKind["packaging"]["packaged"] != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
}

// TestAppServiceAdapterRejectsInvalidRequests verifies tag validation runs before the service.
func TestAppServiceAdapterRejectsInvalidRequests(t *testing.T) {
	a := newAdapterForTest(t)
	ctx := context.Background()

	_, err := a.RecordCollection(ctx, RecordCollectionRequest{ActorID: "collector-1", Material: "Tulsi", Quantity: 0, Location: "Pune"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "quantity") {
		t.Fatalf("expected quantity in message, got %v", err)
	}

	_, err = a.CreateProduct(ctx, CreateProductRequest{ActorID: "maker-1", ProductName: "Empty"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty composition, got %v", err)
	}

	_, err = a.RecordCollection(ctx, RecordCollectionRequest{
		ActorID:     "collector-1",
		Material:    "Tulsi",
		Quantity:    5,
		Location:    "Pune",
		Coordinates: GeoPoint{Latitude: 91},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for latitude, got %v", err)
	}

	_, err = a.Advance(ctx, AdvanceRequest{ActorID: "collector-1", RecordID: "rec-001", Intent: "teleport"})
	if !errors.Is(err, ErrUnsupportedIntent) {
		t.Fatalf("expected ErrUnsupportedIntent, got %v", err)
	}
	if got := DescribeError(err); got.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid_request code, got %#v", got)
	}
}

// TestAppServiceAdapterSurfacesDomainErrors verifies domain failures keep their classification.
func TestAppServiceAdapterSurfacesDomainErrors(t *testing.T) {
	a := newAdapterForTest(t)
	ctx := context.Background()

	_, err := a.RecordCollection(ctx, RecordCollectionRequest{ActorID: "tester-1", Material: "Neem", Quantity: 5, Location: "Salem"})
	if got := DescribeError(err); got.Code != CodeAuthorization || got.Status != http.StatusForbidden {
		t.Fatalf("expected authorization for tester, got %#v (%v)", got, err)
	}

	_, err = a.FindByCode(ctx, "ZZ-2024-999")
	if got := DescribeError(err); got.Code != CodeNotFound {
		t.Fatalf("expected not_found, got %#v (%v)", got, err)
	}

	rec, err := a.RecordCollection(ctx, RecordCollectionRequest{ActorID: "collector-1", Material: "Neem", Quantity: 5, Location: "Salem"})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	_, err = a.Advance(ctx, AdvanceRequest{ActorID: "collector-1", RecordID: rec.ID, Intent: IntentSendCollection, ExpectedVersion: 7})
	info := DescribeError(err)
	if info.Code != CodeConflict || !info.Retryable {
		t.Fatalf("expected retryable conflict, got %#v (%v)", info, err)
	}

	_, err = a.Transition(ctx, TransitionRequest{ActorID: "collector-1", RecordID: rec.ID, Target: "packaged"})
	if got := DescribeError(err); got.Code != CodeValidation {
		t.Fatalf("expected validation for illegal target, got %#v (%v)", got, err)
	}
}

// TestAppServiceAdapterListsRecordsAndActors verifies filters and read mapping.
func TestAppServiceAdapterListsRecordsAndActors(t *testing.T) {
	a := newAdapterForTest(t)
	ctx := context.Background()

	actors, err := a.ListActors(ctx)
	if err != nil {
		t.Fatalf("ListActors() error = %v", err)
	}
	if len(actors) != 5 {
		t.Fatalf("expected 5 actors, got %d", len(actors))
	}
	for _, material := range []string{"Ashwagandha", "Brahmi"} {
		if _, err := a.RecordCollection(ctx, RecordCollectionRequest{ActorID: "collector-1", Material: material, Quantity: 10, Location: "Mysuru"}); err != nil {
			t.Fatalf("RecordCollection(%s) error = %v", material, err)
		}
	}
	recs, err := a.ListRecords(ctx, ListRecordsRequest{Kind: "collection", OwnerID: "collector-1"})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected two collections, got %d", len(recs))
	}
	limited, err := a.ListRecords(ctx, ListRecordsRequest{Limit: 1})
	if err != nil {
		t.Fatalf("ListRecords(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
	got, err := a.GetRecord(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.ID != recs[0].ID || got.Collection == nil {
		t.Fatalf("unexpected record %#v", got)
	}

	minted, err := a.MintCode(ctx, MintCodeRequest{Seed: "Holy Basil", Year: 2030})
	if err != nil {
		t.Fatalf("MintCode() error = %v", err)
	}
	if minted.Code != "HB-2030-001" {
		t.Fatalf("expected HB-2030-001, got %q", minted.Code)
	}
}

// TestDescribeErrorMapsKinds verifies every error kind gets a stable code.
func TestDescribeErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("wrap: %w", ErrInvalidRequest), CodeInvalidRequest, http.StatusBadRequest},
		{domain.ErrInvalidQuantity, CodeValidation, http.StatusBadRequest},
		{domain.ErrNotOwner, CodeAuthorization, http.StatusForbidden},
		{domain.ErrVersionMismatch, CodeConflict, http.StatusConflict},
		{domain.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{domain.ErrBrokenProvenance, CodeConsistency, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got := DescribeError(tc.err)
		if got.Code != tc.code || got.Status != tc.status {
			t.Fatalf("DescribeError(%v) = %#v, want %s/%d", tc.err, got, tc.code, tc.status)
		}
	}
}

// TestNilAdapterFailsClosed verifies an unwired adapter reports an error instead of panicking.
func TestNilAdapterFailsClosed(t *testing.T) {
	var a *AppServiceAdapter
	if _, err := a.ListActors(context.Background()); err == nil {
		t.Fatal("expected error from nil adapter")
	}
}
