package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hylla/herbchain/internal/adapters/storage/memory"
	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

// harness wires a service over an in-memory ledger with deterministic ids and time.
type harness struct {
	ctx     context.Context
	store   *memory.Store
	svc     *app.Service
	metrics *recordingMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	return newHarnessWithLedger(t, store, store)
}

func newHarnessWithLedger(t *testing.T, store *memory.Store, ledger app.Ledger) *harness {
	t.Helper()
	var seq atomic.Int64
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	metrics := &recordingMetrics{}
	svc := app.NewService(ledger, store, func() string {
		return fmt.Sprintf("rec-%03d", seq.Add(1))
	}, func() time.Time { return now }, app.ServiceConfig{Metrics: metrics})
	h := &harness{ctx: context.Background(), store: store, svc: svc, metrics: metrics}
	for _, in := range []app.RegisterActorInput{
		{ID: "collector-1", Name: "Asha", Role: "collector", Company: "Green Valley Farms", License: "COL-11"},
		{ID: "collector-2", Name: "Dev", Role: "farmer", Company: "Hill Growers", License: "COL-12"},
		{ID: "tester-1", Name: "Ravi", Role: "tester", Company: "PureLab", License: "LAB-7"},
		{ID: "maker-1", Name: "Meera", Role: "manufacturer", Company: "Ayur Works", License: "MFG-3"},
		{ID: "maker-2", Name: "Kiran", Role: "manufacturing", Company: "Herb Co", License: "MFG-4"},
		{ID: "packer-1", Name: "Sam", Role: "packager", Company: "SealPack", License: "PKG-2"},
		{ID: "auditor-1", Name: "Lee", Role: "auditor", Company: "Trace Audit", License: "AUD-1"},
	} {
		if _, err := svc.RegisterActor(h.ctx, in); err != nil {
			t.Fatalf("RegisterActor(%s) error = %v", in.ID, err)
		}
	}
	return h
}

func (h *harness) sentCollection(t *testing.T, collectorID, material string, qty int64) domain.Record {
	t.Helper()
	rec, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: collectorID,
		Details: domain.CollectionDetails{
			Material: material,
			Quantity: qty,
			Location: "Erode",
			Coordinates: domain.GeoPoint{
				Latitude:  11.34,
				Longitude: 77.72,
			},
			Environment: domain.Environment{SoilMoisture: 32, SoilPH: 6.5, Weather: "dry"},
		},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	sent, err := h.svc.SendCollection(h.ctx, app.TransitionInput{ActorID: collectorID, RecordID: rec.ID})
	if err != nil {
		t.Fatalf("SendCollection() error = %v", err)
	}
	return sent
}

func (h *harness) dispatchedBatch(t *testing.T, collectionID string, accepted, rejected int64, purity float64) domain.Record {
	t.Helper()
	test, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{
		ActorID:      "tester-1",
		CollectionID: collectionID,
		Purity:       purity,
		Grade:        "A",
		Accepted:     accepted,
		Rejected:     rejected,
	})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}
	for _, step := range []func(context.Context, app.TransitionInput) (domain.Record, error){h.svc.CompleteTest, h.svc.DispatchTest} {
		if test, err = step(h.ctx, app.TransitionInput{ActorID: "tester-1", RecordID: test.ID}); err != nil {
			t.Fatalf("advance test error = %v", err)
		}
	}
	return test
}

func (h *harness) packagedProduct(t *testing.T, product domain.Record) domain.Record {
	t.Helper()
	var err error
	for _, step := range []func(context.Context, app.TransitionInput) (domain.Record, error){h.svc.CompleteProduct, h.svc.DispatchProduct} {
		if product, err = step(h.ctx, app.TransitionInput{ActorID: product.OwnerID, RecordID: product.ID}); err != nil {
			t.Fatalf("advance product error = %v", err)
		}
	}
	pkg, err := h.svc.ReceiveProduct(h.ctx, app.ReceiveProductInput{ActorID: "packer-1", Product: product.Code})
	if err != nil {
		t.Fatalf("ReceiveProduct() error = %v", err)
	}
	if pkg, err = h.svc.VerifyPackaging(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: pkg.ID}); err != nil {
		t.Fatalf("VerifyPackaging() error = %v", err)
	}
	if pkg, err = h.svc.GenerateConsumerCode(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: pkg.ID}); err != nil {
		t.Fatalf("GenerateConsumerCode() error = %v", err)
	}
	return pkg
}

// TestServiceTurmericJourney follows one batch from field to consumer code.
func TestServiceTurmericJourney(t *testing.T) {
	h := newHarness(t)
	collection := h.sentCollection(t, "collector-1", "Turmeric", 25)

	test, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{
		ActorID:      "tester-1",
		CollectionID: collection.ID,
		Purity:       98.5,
		Grade:        "A",
		Accepted:     24,
		Rejected:     1,
	})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}
	if test.Code != "TU-2024-001" {
		t.Fatalf("expected batch code TU-2024-001, got %q", test.Code)
	}
	if test.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress test, got %q", test.Status)
	}
	if test, err = h.svc.CompleteTest(h.ctx, app.TransitionInput{ActorID: "tester-1", RecordID: test.ID}); err != nil {
		t.Fatalf("CompleteTest() error = %v", err)
	}
	if test, err = h.svc.DispatchTest(h.ctx, app.TransitionInput{ActorID: "tester-1", RecordID: test.ID, ExpectedVersion: test.Version}); err != nil {
		t.Fatalf("DispatchTest() error = %v", err)
	}

	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: "TU-2024-001", Quantity: 15}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	if product.Manufacturing.TotalQuantity != 15 {
		t.Fatalf("expected total 15, got %d", product.Manufacturing.TotalQuantity)
	}
	headroom, err := h.svc.BatchHeadroom(h.ctx, "tu-2024-001")
	if err != nil {
		t.Fatalf("BatchHeadroom() error = %v", err)
	}
	if headroom.Remaining != 9 || headroom.Consumed != 15 {
		t.Fatalf("unexpected headroom %#v", headroom)
	}

	_, err = h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-2",
		ProductName: "Golden Milk",
		Composition: []app.CompositionRequest{{BatchCode: "TU-2024-001", Quantity: 10}},
	})
	if !errors.Is(err, domain.ErrOverConsumption) || domain.KindOf(err) != domain.KindConsistency {
		t.Fatalf("expected consistency error for over-consumption, got %v", err)
	}

	pkg := h.packagedProduct(t, product)
	if pkg.Status != domain.StatusPackaged || pkg.Code == "" {
		t.Fatalf("expected packaged record with a consumer code, got %#v", pkg)
	}
	if pkg.Code == product.Code || pkg.Code == test.Code {
		t.Fatalf("consumer code %q collides with an upstream code", pkg.Code)
	}

	tree, err := h.svc.ResolveProvenance(h.ctx, pkg.Code)
	if err != nil {
		t.Fatalf("ResolveProvenance() error = %v", err)
	}
	leaves := tree.Leaves()
	if len(leaves) != 1 {
		t.Fatalf("expected one leaf, got %d", len(leaves))
	}
	leaf := leaves[0]
	if leaf.Collection.ID != collection.ID || leaf.Collection.Collection.Quantity != 25 {
		t.Fatalf("unexpected leaf collection %#v", leaf.Collection)
	}
	if leaf.Collector.Company != "Green Valley Farms" {
		t.Fatalf("expected collector company, got %q", leaf.Collector.Company)
	}
	if tree.Batches[0].Test.Test.Purity != 98.5 {
		t.Fatalf("expected purity 98.5, got %v", tree.Batches[0].Test.Test.Purity)
	}
	if tree.Batches[0].Tester.Company != "PureLab" {
		t.Fatalf("expected tester company, got %q", tree.Batches[0].Tester.Company)
	}
}

// TestServiceProductFromSeveralBatches checks composition across batches and a leaf per batch.
func TestServiceProductFromSeveralBatches(t *testing.T) {
	h := newHarness(t)
	first := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 20, 5, 97)
	second := h.dispatchedBatch(t, h.sentCollection(t, "collector-2", "Ashwagandha", 40).ID, 30, 0, 95)
	if first.Code != "TU-2024-001" || second.Code != "AS-2024-001" {
		t.Fatalf("unexpected batch codes %q and %q", first.Code, second.Code)
	}

	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Vital Blend Capsules",
		Composition: []app.CompositionRequest{
			{BatchCode: first.Code, Quantity: 12},
			{BatchCode: " as-2024-001 ", Quantity: 18},
		},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	if product.Code != "VBC-2024-001" {
		t.Fatalf("expected product code VBC-2024-001, got %q", product.Code)
	}
	if product.Manufacturing.TotalQuantity != 30 {
		t.Fatalf("expected total 30, got %d", product.Manufacturing.TotalQuantity)
	}

	pkg := h.packagedProduct(t, product)
	tree, err := h.svc.ResolveProvenance(h.ctx, pkg.Code)
	if err != nil {
		t.Fatalf("ResolveProvenance() error = %v", err)
	}
	leaves := tree.Leaves()
	if len(leaves) != 2 {
		t.Fatalf("expected two leaves, got %d", len(leaves))
	}
	if leaves[0].Collector.ID != "collector-1" || leaves[1].Collector.ID != "collector-2" {
		t.Fatalf("leaves out of composition order: %#v", leaves)
	}
}

// TestServiceAggregationIsAllOrNothing checks that one failing entry records nothing.
func TestServiceAggregationIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	good := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 20, 0, 96)
	small := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Neem Leaf", 5).ID, 5, 0, 91)

	_, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Skin Balm",
		Composition: []app.CompositionRequest{
			{BatchCode: good.Code, Quantity: 10},
			{BatchCode: small.Code, Quantity: 6},
		},
	})
	if domain.KindOf(err) != domain.KindConsistency {
		t.Fatalf("expected consistency error, got %v", err)
	}
	headroom, err := h.svc.BatchHeadroom(h.ctx, good.Code)
	if err != nil {
		t.Fatalf("BatchHeadroom() error = %v", err)
	}
	if headroom.Consumed != 0 {
		t.Fatalf("partial consumption recorded: %#v", headroom)
	}
	products, err := h.svc.ListRecords(h.ctx, app.RecordFilter{Kind: domain.KindManufacturing})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no products, got %d", len(products))
	}

	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Skin Balm",
		Composition: []app.CompositionRequest{{BatchCode: good.Code, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() retry error = %v", err)
	}
	if product.Code != "SB-2024-001" {
		t.Fatalf("expected the failed attempt to leave the counter untouched, got %q", product.Code)
	}
}

func TestServiceCreateProductValidation(t *testing.T) {
	h := newHarness(t)
	collection := h.sentCollection(t, "collector-1", "Turmeric", 25)
	open, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: collection.ID, Purity: 90, Accepted: 10})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}

	cases := []struct {
		name string
		in   app.CreateProductInput
		kind domain.ErrorKind
	}{
		{
			name: "unknown batch",
			in:   app.CreateProductInput{ActorID: "maker-1", ProductName: "Tea", Composition: []app.CompositionRequest{{BatchCode: "XX-2024-001", Quantity: 1}}},
			kind: domain.KindNotFound,
		},
		{
			name: "batch still in progress",
			in:   app.CreateProductInput{ActorID: "maker-1", ProductName: "Tea", Composition: []app.CompositionRequest{{BatchCode: open.Code, Quantity: 1}}},
			kind: domain.KindValidation,
		},
		{
			name: "empty composition",
			in:   app.CreateProductInput{ActorID: "maker-1", ProductName: "Tea"},
			kind: domain.KindValidation,
		},
		{
			name: "zero quantity",
			in:   app.CreateProductInput{ActorID: "maker-1", ProductName: "Tea", Composition: []app.CompositionRequest{{BatchCode: open.Code, Quantity: 0}}},
			kind: domain.KindValidation,
		},
		{
			name: "missing product name",
			in:   app.CreateProductInput{ActorID: "maker-1", Composition: []app.CompositionRequest{{BatchCode: open.Code, Quantity: 1}}},
			kind: domain.KindValidation,
		},
		{
			name: "tester cannot manufacture",
			in:   app.CreateProductInput{ActorID: "tester-1", ProductName: "Tea", Composition: []app.CompositionRequest{{BatchCode: open.Code, Quantity: 1}}},
			kind: domain.KindAuthorization,
		},
		{
			name: "unknown actor",
			in:   app.CreateProductInput{ActorID: "ghost", ProductName: "Tea", Composition: []app.CompositionRequest{{BatchCode: open.Code, Quantity: 1}}},
			kind: domain.KindNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateProduct(h.ctx, tc.in)
			if got := domain.KindOf(err); got != tc.kind {
				t.Fatalf("expected %q error, got %q (%v)", tc.kind, got, err)
			}
		})
	}
}

func TestServiceTestQuantityBound(t *testing.T) {
	h := newHarness(t)
	collection := h.sentCollection(t, "collector-1", "Tulsi", 10)

	_, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: collection.ID, Purity: 90, Accepted: 8, Rejected: 3})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for accepted+rejected > quantity, got %v", err)
	}

	test, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: collection.ID, Purity: 90, Accepted: 8, Rejected: 2})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}
	if test.Code != "TU-2024-001" {
		t.Fatalf("expected rejected attempt not to consume a sequence value, got %q", test.Code)
	}

	rejected := int64(3)
	_, err = h.svc.UpdateTest(h.ctx, app.UpdateTestInput{
		TransitionInput: app.TransitionInput{ActorID: "tester-1", RecordID: test.ID},
		Patch:           domain.TestPatch{Rejected: &rejected},
	})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for edited quantities, got %v", err)
	}

	_, err = h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: collection.ID, Purity: 90, Accepted: 1})
	if !errors.Is(err, domain.ErrAlreadyTested) {
		t.Fatalf("expected ErrAlreadyTested, got %v", err)
	}
}

func TestServiceRecordTestRequiresSentCollection(t *testing.T) {
	h := newHarness(t)
	rec, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: "collector-1",
		Details: domain.CollectionDetails{Material: "Tulsi", Quantity: 4, Location: "Ridge"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	_, err = h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: rec.ID, Purity: 90, Accepted: 1})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for unsent collection, got %v", err)
	}
}

func TestServiceTransitionRules(t *testing.T) {
	h := newHarness(t)
	collection := h.sentCollection(t, "collector-1", "Turmeric", 25)
	test, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: collection.ID, Purity: 90, Accepted: 20})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}

	_, err = h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "tester-1", RecordID: test.ID},
		Target:          "dispatched",
	})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for skipped stage, got %v", err)
	}

	_, err = h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: collection.ID},
		Target:          "recorded",
	})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error for the former owner, got %v", err)
	}

	edited := "Haldi"
	_, err = h.svc.UpdateCollection(h.ctx, app.UpdateCollectionInput{
		TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: collection.ID},
		Patch:           domain.CollectionPatch{Material: &edited},
	})
	if !errors.Is(err, domain.ErrReadOnly) {
		t.Fatalf("expected read-only error after send, got %v", err)
	}

	h.dispatchedBatchFrom(t, test)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: test.Code, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	_, err = h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "tester-1", RecordID: product.ID},
		Target:          "completed",
	})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error for tester on product, got %v", err)
	}
	_, err = h.svc.CompleteProduct(h.ctx, app.TransitionInput{ActorID: "maker-2", RecordID: product.ID})
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for another manufacturer, got %v", err)
	}
	_, err = h.svc.CompleteProduct(h.ctx, app.TransitionInput{ActorID: "auditor-1", RecordID: product.ID})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error for auditor, got %v", err)
	}
	completed, err := h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "maker-1", RecordID: product.ID},
		Target:          "Completed",
	})
	if err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if completed.Status != domain.StatusCompleted || completed.Version != product.Version+1 {
		t.Fatalf("unexpected completed product %#v", completed)
	}

	_, err = h.svc.VerifyPackaging(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: product.ID})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error for packager on product, got %v", err)
	}
	_, err = h.svc.ReceiveProduct(h.ctx, app.ReceiveProductInput{ActorID: "packer-1", Product: product.ID})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for undispatched product, got %v", err)
	}
}

func (h *harness) dispatchedBatchFrom(t *testing.T, test domain.Record) {
	t.Helper()
	for _, step := range []func(context.Context, app.TransitionInput) (domain.Record, error){h.svc.CompleteTest, h.svc.DispatchTest} {
		if _, err := step(h.ctx, app.TransitionInput{ActorID: test.OwnerID, RecordID: test.ID}); err != nil {
			t.Fatalf("advance test error = %v", err)
		}
	}
}

func TestServiceStaleExpectedVersionConflicts(t *testing.T) {
	h := newHarness(t)
	rec, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: "collector-1",
		Details: domain.CollectionDetails{Material: "Tulsi", Quantity: 4, Location: "Ridge"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	qty := int64(6)
	if _, err := h.svc.UpdateCollection(h.ctx, app.UpdateCollectionInput{
		TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: rec.ID, ExpectedVersion: rec.Version},
		Patch:           domain.CollectionPatch{Quantity: &qty},
	}); err != nil {
		t.Fatalf("UpdateCollection() error = %v", err)
	}
	_, err = h.svc.SendCollection(h.ctx, app.TransitionInput{ActorID: "collector-1", RecordID: rec.ID, ExpectedVersion: rec.Version})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	if h.metrics.rejected(domain.KindConflict) != 1 {
		t.Fatalf("expected one conflict rejection metric, got %d", h.metrics.rejected(domain.KindConflict))
	}
}

func TestServiceConcurrentTransitionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	rec, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: "collector-1",
		Details: domain.CollectionDetails{Material: "Tulsi", Quantity: 4, Location: "Ridge"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losers []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SendCollection(h.ctx, app.TransitionInput{ActorID: "collector-1", RecordID: rec.ID, ExpectedVersion: rec.Version})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			losers = append(losers, err)
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning send, got %d", wins)
	}
	for _, err := range losers {
		if !domain.IsRetryable(err) {
			t.Fatalf("expected every losing send to be a retryable conflict, got %v", err)
		}
	}
}

// readBarrier holds every read of one record until parties reads have happened, so racing
// writers all observe the same version before any of them commits.
type readBarrier struct {
	app.Ledger
	id      string
	parties int

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newReadBarrier(ledger app.Ledger, id string, parties int) *readBarrier {
	return &readBarrier{Ledger: ledger, id: id, parties: parties, release: make(chan struct{})}
}

func (b *readBarrier) Get(ctx context.Context, id string) (domain.Record, error) {
	rec, err := b.Ledger.Get(ctx, id)
	if id != b.id {
		return rec, err
	}
	b.mu.Lock()
	wait := b.release
	b.arrived++
	if b.arrived == b.parties {
		close(wait)
		b.arrived = 0
		b.release = make(chan struct{})
	}
	b.mu.Unlock()
	<-wait
	return rec, err
}

func TestServiceRacingApplyTransitionLosersConflict(t *testing.T) {
	h := newHarness(t)
	rec, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: "collector-1",
		Details: domain.CollectionDetails{Material: "Tulsi", Quantity: 4, Location: "Ridge"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}

	const workers = 8
	racing := newHarnessWithLedger(t, h.store, newReadBarrier(h.store, rec.ID, workers))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		kinds = map[domain.ErrorKind]int{}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := racing.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
				TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: rec.ID},
				Target:          "sent",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			kinds[domain.KindOf(err)]++
		}()
	}
	wg.Wait()
	if wins != 1 || kinds[domain.KindConflict] != workers-1 {
		t.Fatalf("expected one success and %d conflicts, got %v", workers-1, kinds)
	}
	events, err := h.svc.ListChangeEvents(h.ctx, rec.ID, 0)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected create and one send event, got %d", len(events))
	}
}

func TestServiceAuthorizationPrecedesVersionCheck(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	_, err = h.svc.CompleteProduct(h.ctx, app.TransitionInput{ActorID: "tester-1", RecordID: product.ID, ExpectedVersion: product.Version + 4})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error for a foreign role with a stale version, got %v", err)
	}
	_, err = h.svc.CompleteProduct(h.ctx, app.TransitionInput{ActorID: "maker-1", RecordID: product.ID, ExpectedVersion: product.Version + 4})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected conflict for the owner with a stale version, got %v", err)
	}
}

func TestServiceApplyTransitionWithPayload(t *testing.T) {
	h := newHarness(t)
	collection, err := h.svc.RecordCollection(h.ctx, app.RecordCollectionInput{
		ActorID: "collector-1",
		Details: domain.CollectionDetails{Material: "Turmeric", Quantity: 20, Location: "Erode"},
	})
	if err != nil {
		t.Fatalf("RecordCollection() error = %v", err)
	}
	qty := int64(25)
	sent, err := h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: collection.ID},
		Target:          "sent",
		Payload:         &app.TransitionPayload{Collection: &domain.CollectionPatch{Quantity: &qty}},
	})
	if err != nil {
		t.Fatalf("ApplyTransition() send with payload error = %v", err)
	}
	if sent.Status != domain.StatusSent || sent.Collection.Quantity != 25 || sent.Version != collection.Version+1 {
		t.Fatalf("expected edit and send in one commit, got %#v", sent)
	}

	test, err := h.svc.RecordTest(h.ctx, app.RecordTestInput{ActorID: "tester-1", CollectionID: sent.ID, Purity: 90, Accepted: 10})
	if err != nil {
		t.Fatalf("RecordTest() error = %v", err)
	}
	accepted, rejected := int64(23), int64(2)
	completed, err := h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "tester-1", RecordID: test.ID, ExpectedVersion: test.Version},
		Target:          "completed",
		Payload:         &app.TransitionPayload{Test: &domain.TestPatch{Accepted: &accepted, Rejected: &rejected}},
	})
	if err != nil {
		t.Fatalf("ApplyTransition() complete with payload error = %v", err)
	}
	if completed.Status != domain.StatusCompleted || completed.Test.Accepted != 23 {
		t.Fatalf("expected final results frozen with completion, got %#v", completed.Test)
	}

	tooMany := int64(40)
	_, err = h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "tester-1", RecordID: test.ID},
		Target:          "dispatched",
		Payload:         &app.TransitionPayload{Test: &domain.TestPatch{Accepted: &tooMany}},
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected payload on dispatch to be rejected, got %v", err)
	}
	_, err = h.svc.ApplyTransition(h.ctx, app.ApplyTransitionInput{
		TransitionInput: app.TransitionInput{ActorID: "collector-1", RecordID: test.ID},
		Target:          "dispatched",
		Payload:         &app.TransitionPayload{Test: &domain.TestPatch{Accepted: &tooMany}},
	})
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error before payload checks, got %v", err)
	}
	current, err := h.svc.GetRecord(h.ctx, test.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if current.Status != domain.StatusCompleted || current.Test.Accepted != 23 {
		t.Fatalf("rejected transitions changed the record: %#v", current)
	}
}

// interferingLedger runs interfere once, the first time record id is read.
type interferingLedger struct {
	app.Ledger
	id        string
	once      sync.Once
	interfere func()
}

func (l *interferingLedger) Get(ctx context.Context, id string) (domain.Record, error) {
	if id == l.id {
		l.once.Do(l.interfere)
	}
	return l.Ledger.Get(ctx, id)
}

func TestServiceVerifyPackagingConflictsWhenRecordMovesDuringCheck(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	for _, step := range []func(context.Context, app.TransitionInput) (domain.Record, error){h.svc.CompleteProduct, h.svc.DispatchProduct} {
		if _, err := step(h.ctx, app.TransitionInput{ActorID: "maker-1", RecordID: product.ID}); err != nil {
			t.Fatalf("advance product error = %v", err)
		}
	}
	pkg, err := h.svc.ReceiveProduct(h.ctx, app.ReceiveProductInput{ActorID: "packer-1", Product: product.ID})
	if err != nil {
		t.Fatalf("ReceiveProduct() error = %v", err)
	}

	var interfereErr error
	ledger := &interferingLedger{Ledger: h.store, id: product.ID, interfere: func() {
		touched := pkg.Clone()
		touched.UpdatedAt = touched.UpdatedAt.Add(time.Minute)
		event := domain.NewChangeEvent(domain.ChangeOperationUpdate, "touch", touched, pkg.Status, "packer-1", nil, touched.UpdatedAt)
		_, interfereErr = h.store.CommitSwap(h.ctx, pkg.ID, pkg.Version, touched, event)
	}}
	checking := newHarnessWithLedger(t, h.store, ledger)
	_, err = checking.svc.VerifyPackaging(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: pkg.ID})
	if interfereErr != nil {
		t.Fatalf("CommitSwap() during verification error = %v", interfereErr)
	}
	if !errors.Is(err, domain.ErrVersionMismatch) {
		t.Fatalf("expected verification to lose to the concurrent change, got %v", err)
	}

	verified, err := h.svc.VerifyPackaging(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: pkg.ID})
	if err != nil {
		t.Fatalf("VerifyPackaging() retry error = %v", err)
	}
	if verified.Status != domain.StatusVerified || verified.Version != pkg.Version+2 {
		t.Fatalf("unexpected verified record %#v", verified)
	}
}

func TestServiceConcurrentAggregationCannotDoubleSpend(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		codes     = map[string]bool{}
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
				ActorID:     "maker-1",
				ProductName: fmt.Sprintf("Tea %d", i),
				Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 5}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				codes[product.Code] = true
				return
			}
			if domain.KindOf(err) != domain.KindConsistency {
				t.Errorf("unexpected error kind %q: %v", domain.KindOf(err), err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 4 {
		t.Fatalf("expected 4 products of 5 units from 24 accepted, got %d", succeeded)
	}
	if len(codes) != succeeded {
		t.Fatalf("duplicate product codes minted: %v", codes)
	}
	headroom, err := h.svc.BatchHeadroom(h.ctx, batch.Code)
	if err != nil {
		t.Fatalf("BatchHeadroom() error = %v", err)
	}
	if headroom.Remaining != 4 {
		t.Fatalf("expected 4 units left, got %d", headroom.Remaining)
	}
}

func TestServiceConcurrentMintingIsUnique(t *testing.T) {
	h := newHarness(t)
	const workers = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]int{}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := h.svc.MintCode(h.ctx, "Turmeric", 2024)
			if err != nil {
				t.Errorf("MintCode() error = %v", err)
				return
			}
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(codes) != workers {
		t.Fatalf("expected %d unique codes, got %d", workers, len(codes))
	}
	if codes["TU-2024-032"] != 1 {
		t.Fatalf("expected dense sequence ending at 032, got %v", codes)
	}
}

func TestServiceConsumerCodeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 15}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	pkg := h.packagedProduct(t, product)

	again, err := h.svc.GenerateConsumerCode(h.ctx, app.TransitionInput{ActorID: "packer-1", RecordID: pkg.ID})
	if err != nil {
		t.Fatalf("GenerateConsumerCode() repeat error = %v", err)
	}
	if again.Code != pkg.Code || again.Version != pkg.Version {
		t.Fatalf("expected unchanged record, got code %q version %d", again.Code, again.Version)
	}
	events, err := h.svc.ListChangeEvents(h.ctx, pkg.ID, 0)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected receive, verify, and package events only, got %d", len(events))
	}
	if events[0].Intent != app.IntentGenerateConsumerCode || events[0].ToStatus != domain.StatusPackaged {
		t.Fatalf("unexpected newest event %#v", events[0])
	}

	_, err = h.svc.ReceiveProduct(h.ctx, app.ReceiveProductInput{ActorID: "packer-1", Product: product.ID})
	if !errors.Is(err, domain.ErrAlreadyReceived) {
		t.Fatalf("expected ErrAlreadyReceived, got %v", err)
	}
}

func TestServiceResolveProvenanceErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.ResolveProvenance(h.ctx, "NO-2024-001"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found for unknown code, got %v", err)
	}
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)
	if _, err := h.svc.ResolveProvenance(h.ctx, batch.Code); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found for a batch code, got %v", err)
	}
	if _, err := h.svc.ResolveProvenance(h.ctx, "  "); !errors.Is(err, app.ErrCodeRequired) {
		t.Fatalf("expected ErrCodeRequired, got %v", err)
	}
}

// hidingLedger simulates a ledger that lost one record.
type hidingLedger struct {
	app.Ledger
	hidden string
}

func (l hidingLedger) Get(ctx context.Context, id string) (domain.Record, error) {
	if id == l.hidden {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, app.ErrNotFound)
	}
	return l.Ledger.Get(ctx, id)
}

func TestServiceBrokenProvenanceIsConsistencyError(t *testing.T) {
	h := newHarness(t)
	collection := h.sentCollection(t, "collector-1", "Turmeric", 25)
	batch := h.dispatchedBatch(t, collection.ID, 24, 1, 98)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 15}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	pkg := h.packagedProduct(t, product)

	lossy := newHarnessWithLedger(t, h.store, hidingLedger{Ledger: h.store, hidden: collection.ID})
	_, err = lossy.svc.ResolveProvenance(h.ctx, pkg.Code)
	if !errors.Is(err, domain.ErrBrokenProvenance) {
		t.Fatalf("expected ErrBrokenProvenance, got %v", err)
	}
	if domain.KindOf(err) != domain.KindConsistency {
		t.Fatalf("expected consistency error, got %q", domain.KindOf(err))
	}
}

func TestServiceRegisterActor(t *testing.T) {
	h := newHarness(t)
	again, err := h.svc.RegisterActor(h.ctx, app.RegisterActorInput{ID: "tester-1", Name: "Ravi", Role: "lab", Company: "PureLab", License: "LAB-7"})
	if err != nil {
		t.Fatalf("RegisterActor() repeat error = %v", err)
	}
	if again.Role != domain.RoleTester {
		t.Fatalf("expected role alias to resolve to tester, got %q", again.Role)
	}
	_, err = h.svc.RegisterActor(h.ctx, app.RegisterActorInput{ID: "tester-1", Name: "Ravi", Role: "tester", Company: "OtherLab"})
	if domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict for changed identity, got %v", err)
	}
	_, err = h.svc.RegisterActor(h.ctx, app.RegisterActorInput{ID: "x", Name: "X", Role: "wizard", Company: "Nowhere"})
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := h.svc.ResolveActor(h.ctx, ""); !errors.Is(err, app.ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
	actors, err := h.svc.ListActors(h.ctx)
	if err != nil {
		t.Fatalf("ListActors() error = %v", err)
	}
	if len(actors) != 7 {
		t.Fatalf("expected 7 actors, got %d", len(actors))
	}
}

func TestServiceSummarize(t *testing.T) {
	h := newHarness(t)
	batch := h.dispatchedBatch(t, h.sentCollection(t, "collector-1", "Turmeric", 25).ID, 24, 1, 98)
	product, err := h.svc.CreateProduct(h.ctx, app.CreateProductInput{
		ActorID:     "maker-1",
		ProductName: "Herbal Tea",
		Composition: []app.CompositionRequest{{BatchCode: batch.Code, Quantity: 15}},
	})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}
	pkg := h.packagedProduct(t, product)

	summary, err := h.svc.Summarize(h.ctx)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.TotalRecords != 4 {
		t.Fatalf("expected 4 records, got %d", summary.TotalRecords)
	}
	if summary.ActorsByRole[domain.RoleManufacturer] != 2 {
		t.Fatalf("unexpected actor counts %#v", summary.ActorsByRole)
	}
	if summary.RecordsByKind[domain.KindPackaging][domain.StatusPackaged] != 1 {
		t.Fatalf("unexpected record counts %#v", summary.RecordsByKind)
	}
	if len(summary.PackagedCodes) != 1 || summary.PackagedCodes[0] != pkg.Code {
		t.Fatalf("unexpected packaged codes %#v", summary.PackagedCodes)
	}
	if len(summary.OverConsumed) != 0 {
		t.Fatalf("unexpected over-consumed batches %#v", summary.OverConsumed)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	applied  map[string]int
	rejects  map[domain.ErrorKind]int
	prefixes map[string]int
}

func (m *recordingMetrics) IntentApplied(intent string, _ domain.RecordKind, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied == nil {
		m.applied = map[string]int{}
	}
	m.applied[intent]++
}

func (m *recordingMetrics) IntentRejected(_ string, kind domain.ErrorKind, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejects == nil {
		m.rejects = map[domain.ErrorKind]int{}
	}
	m.rejects[kind]++
}

func (m *recordingMetrics) CodeMinted(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefixes == nil {
		m.prefixes = map[string]int{}
	}
	m.prefixes[prefix]++
}

func (m *recordingMetrics) rejected(kind domain.ErrorKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejects[kind]
}
