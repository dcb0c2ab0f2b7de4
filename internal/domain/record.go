package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// DefaultUnit is applied to collections recorded without a unit.
const DefaultUnit = "kg"

// Record is the ledger envelope shared by every stage. Exactly one payload pointer is set, matching Kind.
type Record struct {
	ID        string
	Kind      RecordKind
	Code      string
	Status    Status
	Version   int64
	OwnerID   string
	ParentIDs []string
	CreatedAt time.Time
	UpdatedAt time.Time

	Collection    *CollectionDetails
	Test          *TestDetails
	Manufacturing *ManufacturingDetails
	Packaging     *PackagingDetails
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Environment holds field measurements taken at collection time.
type Environment struct {
	SoilMoisture float64
	SoilPH       float64
	Richness     string
	Weather      string
}

// CollectionDetails is the payload of a collection record.
type CollectionDetails struct {
	Material    string
	Quantity    int64
	Unit        string
	Location    string
	Coordinates GeoPoint
	Environment Environment
	Images      []string
	CollectedAt time.Time
}

// TestDetails is the payload of a test record.
type TestDetails struct {
	CollectionID string
	Purity       float64
	Grade        string
	Accepted     int64
	Rejected     int64
	Notes        string
}

// CompositionEntry is one consumed batch inside a manufacturing record.
type CompositionEntry struct {
	BatchCode    string
	TestRecordID string
	Quantity     int64
}

// ManufacturingDetails is the payload of a manufacturing record.
type ManufacturingDetails struct {
	ProductName   string
	Description   string
	Composition   []CompositionEntry
	TotalQuantity int64
}

// PackagingDetails is the payload of a packaging record. The consumer code lives in Record.Code.
type PackagingDetails struct {
	ManufacturingID string
	Verified        bool
	VerifiedAt      *time.Time
}

// NewCollectionRecord validates in and opens a collection record owned by ownerID.
func NewCollectionRecord(id, ownerID string, in CollectionDetails, now time.Time) (Record, error) {
	details, err := normalizeCollection(in)
	if err != nil {
		return Record{}, err
	}
	if details.CollectedAt.IsZero() {
		details.CollectedAt = now.UTC()
	}
	return newRecord(id, ownerID, KindCollection, nil, now, func(r *Record) {
		r.Collection = &details
	})
}

// NewTestRecord opens a test record against a sent collection.
func NewTestRecord(id, ownerID string, source Record, in TestDetails, code string, now time.Time) (Record, error) {
	if source.Kind != KindCollection || source.Collection == nil {
		return Record{}, fmt.Errorf("%w: %s is not a collection record", ErrInvalidReference, source.ID)
	}
	if source.Status != StatusSent {
		return Record{}, fmt.Errorf("%w: collection %s is %s, want %s", ErrInvalidReference, source.ID, source.Status, StatusSent)
	}
	in.CollectionID = source.ID
	details, err := normalizeTest(in, source.Collection.Quantity)
	if err != nil {
		return Record{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Record{}, ErrInvalidCodeSeed
	}
	return newRecord(id, ownerID, KindTest, []string{source.ID}, now, func(r *Record) {
		r.Code = code
		r.Test = &details
	})
}

// NewManufacturingRecord opens a manufacturing record. Composition entries must already carry their test record ids.
func NewManufacturingRecord(id, ownerID, productName, description string, composition []CompositionEntry, code string, now time.Time) (Record, error) {
	productName = strings.TrimSpace(productName)
	if productName == "" {
		return Record{}, ErrInvalidName
	}
	entries, err := NormalizeComposition(composition)
	if err != nil {
		return Record{}, err
	}
	parents := make([]string, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.TestRecordID) == "" {
			return Record{}, fmt.Errorf("%w: composition[%d] has no test record", ErrInvalidComposition, i)
		}
		parents = append(parents, entry.TestRecordID)
	}
	total, err := CompositionTotal(entries)
	if err != nil {
		return Record{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Record{}, ErrInvalidCodeSeed
	}
	return newRecord(id, ownerID, KindManufacturing, parents, now, func(r *Record) {
		r.Code = code
		r.Manufacturing = &ManufacturingDetails{
			ProductName:   productName,
			Description:   strings.TrimSpace(description),
			Composition:   entries,
			TotalQuantity: total,
		}
	})
}

// NewPackagingRecord opens a packaging record for a dispatched product.
func NewPackagingRecord(id, ownerID string, product Record, now time.Time) (Record, error) {
	if product.Kind != KindManufacturing || product.Manufacturing == nil {
		return Record{}, fmt.Errorf("%w: %s is not a manufacturing record", ErrInvalidReference, product.ID)
	}
	if product.Status != StatusDispatched {
		return Record{}, fmt.Errorf("%w: product %s is %s, want %s", ErrInvalidReference, product.ID, product.Status, StatusDispatched)
	}
	return newRecord(id, ownerID, KindPackaging, []string{product.ID}, now, func(r *Record) {
		r.Packaging = &PackagingDetails{ManufacturingID: product.ID}
	})
}

func newRecord(id, ownerID string, kind RecordKind, parents []string, now time.Time, fill func(*Record)) (Record, error) {
	id = strings.TrimSpace(id)
	ownerID = strings.TrimSpace(ownerID)
	if id == "" || ownerID == "" {
		return Record{}, ErrInvalidID
	}
	rec := Record{
		ID:        id,
		Kind:      kind,
		Status:    kind.InitialStatus(),
		OwnerID:   ownerID,
		ParentIDs: parents,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	fill(&rec)
	return rec, nil
}

// NormalizeComposition trims and validates a composition list. Batch codes must be distinct.
func NormalizeComposition(in []CompositionEntry) ([]CompositionEntry, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one batch is required", ErrInvalidComposition)
	}
	out := make([]CompositionEntry, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, entry := range in {
		entry.BatchCode = strings.ToUpper(strings.TrimSpace(entry.BatchCode))
		entry.TestRecordID = strings.TrimSpace(entry.TestRecordID)
		if entry.BatchCode == "" {
			return nil, fmt.Errorf("%w: composition[%d].batch_code is required", ErrInvalidComposition, i)
		}
		if entry.Quantity <= 0 {
			return nil, fmt.Errorf("%w: composition[%d].quantity must be positive", ErrInvalidQuantity, i)
		}
		if _, ok := seen[entry.BatchCode]; ok {
			return nil, fmt.Errorf("%w: batch %s listed twice", ErrInvalidComposition, entry.BatchCode)
		}
		seen[entry.BatchCode] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

// CompositionTotal sums entry quantities, rejecting overflow.
func CompositionTotal(entries []CompositionEntry) (int64, error) {
	var total int64
	for _, entry := range entries {
		if entry.Quantity > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: total quantity overflows", ErrInvalidQuantity)
		}
		total += entry.Quantity
	}
	return total, nil
}

// ConsumedFrom returns how much of testRecordID this manufacturing record consumes.
func (r Record) ConsumedFrom(testRecordID string) int64 {
	if r.Manufacturing == nil {
		return 0
	}
	var total int64
	for _, entry := range r.Manufacturing.Composition {
		if entry.TestRecordID == testRecordID {
			total += entry.Quantity
		}
	}
	return total
}

// Advance moves the record to its next state.
func (r *Record) Advance(to Status, now time.Time) error {
	if err := ValidateTransition(r.Kind, r.Status, to); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = now.UTC()
	return nil
}

// CollectionPatch carries optional edits for a recorded collection.
type CollectionPatch struct {
	Material    *string
	Quantity    *int64
	Unit        *string
	Location    *string
	Coordinates *GeoPoint
	Environment *Environment
	Images      []string
}

// EditCollection applies patch while the collection is still recorded.
func (r *Record) EditCollection(patch CollectionPatch, now time.Time) error {
	if r.Kind != KindCollection || r.Collection == nil {
		return ErrInvalidKind
	}
	if !IsEditable(r.Kind, r.Status) {
		return fmt.Errorf("%w: collection %s is %s", ErrReadOnly, r.ID, r.Status)
	}
	next := r.Collection.clone()
	if patch.Material != nil {
		next.Material = *patch.Material
	}
	if patch.Quantity != nil {
		next.Quantity = *patch.Quantity
	}
	if patch.Unit != nil {
		next.Unit = *patch.Unit
	}
	if patch.Location != nil {
		next.Location = *patch.Location
	}
	if patch.Coordinates != nil {
		next.Coordinates = *patch.Coordinates
	}
	if patch.Environment != nil {
		next.Environment = *patch.Environment
	}
	if patch.Images != nil {
		next.Images = slices.Clone(patch.Images)
	}
	details, err := normalizeCollection(next)
	if err != nil {
		return err
	}
	r.Collection = &details
	r.UpdatedAt = now.UTC()
	return nil
}

// TestPatch carries optional edits for an in-progress test.
type TestPatch struct {
	Purity   *float64
	Grade    *string
	Accepted *int64
	Rejected *int64
	Notes    *string
}

// EditTest applies patch while the test is in progress. sourceQuantity bounds accepted plus rejected.
func (r *Record) EditTest(patch TestPatch, sourceQuantity int64, now time.Time) error {
	if r.Kind != KindTest || r.Test == nil {
		return ErrInvalidKind
	}
	if !IsEditable(r.Kind, r.Status) {
		return fmt.Errorf("%w: test %s is %s", ErrReadOnly, r.ID, r.Status)
	}
	next := *r.Test
	if patch.Purity != nil {
		next.Purity = *patch.Purity
	}
	if patch.Grade != nil {
		next.Grade = *patch.Grade
	}
	if patch.Accepted != nil {
		next.Accepted = *patch.Accepted
	}
	if patch.Rejected != nil {
		next.Rejected = *patch.Rejected
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	details, err := normalizeTest(next, sourceQuantity)
	if err != nil {
		return err
	}
	r.Test = &details
	r.UpdatedAt = now.UTC()
	return nil
}

// MarkVerified records a successful journey check and advances to verified.
func (r *Record) MarkVerified(now time.Time) error {
	if r.Kind != KindPackaging || r.Packaging == nil {
		return ErrInvalidKind
	}
	if err := r.Advance(StatusVerified, now); err != nil {
		return err
	}
	ts := now.UTC()
	r.Packaging.Verified = true
	r.Packaging.VerifiedAt = &ts
	return nil
}

// AssignConsumerCode sets the final code and advances to packaged.
func (r *Record) AssignConsumerCode(code string, now time.Time) error {
	if r.Kind != KindPackaging || r.Packaging == nil {
		return ErrInvalidKind
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCodeSeed
	}
	if err := r.Advance(StatusPackaged, now); err != nil {
		return err
	}
	r.Code = code
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.ParentIDs = slices.Clone(r.ParentIDs)
	if r.Collection != nil {
		c := r.Collection.clone()
		out.Collection = &c
	}
	if r.Test != nil {
		t := *r.Test
		out.Test = &t
	}
	if r.Manufacturing != nil {
		m := *r.Manufacturing
		m.Composition = slices.Clone(r.Manufacturing.Composition)
		out.Manufacturing = &m
	}
	if r.Packaging != nil {
		p := *r.Packaging
		if r.Packaging.VerifiedAt != nil {
			ts := *r.Packaging.VerifiedAt
			p.VerifiedAt = &ts
		}
		out.Packaging = &p
	}
	return out
}

// CheckPayload reports whether exactly the payload matching Kind is present.
func (r Record) CheckPayload() error {
	present := map[RecordKind]bool{
		KindCollection:    r.Collection != nil,
		KindTest:          r.Test != nil,
		KindManufacturing: r.Manufacturing != nil,
		KindPackaging:     r.Packaging != nil,
	}
	if _, ok := present[r.Kind]; !ok {
		return ErrInvalidKind
	}
	for kind, ok := range present {
		if ok != (kind == r.Kind) {
			return fmt.Errorf("%w: %s record carries %s payload state %t", ErrInvalidKind, r.Kind, kind, ok)
		}
	}
	if !r.Kind.HasStatus(r.Status) {
		return fmt.Errorf("%w: %q for %s", ErrInvalidStatus, r.Status, r.Kind)
	}
	return nil
}

func (c CollectionDetails) clone() CollectionDetails {
	c.Images = slices.Clone(c.Images)
	return c
}

func normalizeCollection(in CollectionDetails) (CollectionDetails, error) {
	in.Material = strings.TrimSpace(in.Material)
	in.Unit = strings.TrimSpace(in.Unit)
	in.Location = strings.TrimSpace(in.Location)
	in.Environment.Richness = strings.TrimSpace(in.Environment.Richness)
	in.Environment.Weather = strings.TrimSpace(in.Environment.Weather)
	if in.Material == "" {
		return CollectionDetails{}, ErrInvalidName
	}
	if in.Quantity <= 0 {
		return CollectionDetails{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	if in.Unit == "" {
		in.Unit = DefaultUnit
	}
	lat, lon := in.Coordinates.Latitude, in.Coordinates.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return CollectionDetails{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidMeasurement)
	}
	if m := in.Environment.SoilMoisture; math.IsNaN(m) || m < 0 || m > 100 {
		return CollectionDetails{}, fmt.Errorf("%w: soil moisture must be within 0-100", ErrInvalidMeasurement)
	}
	if ph := in.Environment.SoilPH; math.IsNaN(ph) || ph < 0 || ph > 14 {
		return CollectionDetails{}, fmt.Errorf("%w: soil pH must be within 0-14", ErrInvalidMeasurement)
	}
	images := make([]string, 0, len(in.Images))
	for _, image := range in.Images {
		if image = strings.TrimSpace(image); image != "" {
			images = append(images, image)
		}
	}
	in.Images = images
	if !in.CollectedAt.IsZero() {
		in.CollectedAt = in.CollectedAt.UTC()
	}
	return in, nil
}

func normalizeTest(in TestDetails, sourceQuantity int64) (TestDetails, error) {
	in.CollectionID = strings.TrimSpace(in.CollectionID)
	in.Grade = strings.TrimSpace(in.Grade)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.CollectionID == "" {
		return TestDetails{}, ErrInvalidID
	}
	if math.IsNaN(in.Purity) || in.Purity < 0 || in.Purity > 100 {
		return TestDetails{}, fmt.Errorf("%w: purity must be within 0-100", ErrInvalidMeasurement)
	}
	if in.Grade == "" {
		return TestDetails{}, fmt.Errorf("%w: quality grade is required", ErrInvalidName)
	}
	if in.Accepted < 0 || in.Rejected < 0 {
		return TestDetails{}, fmt.Errorf("%w: accepted and rejected must not be negative", ErrInvalidQuantity)
	}
	if in.Accepted > sourceQuantity-in.Rejected {
		return TestDetails{}, fmt.Errorf("%w: accepted %d + rejected %d exceeds collected %d", ErrInvalidQuantity, in.Accepted, in.Rejected, sourceQuantity)
	}
	return in, nil
}
