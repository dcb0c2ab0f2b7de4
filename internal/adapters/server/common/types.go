// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"time"
)

// Intent names accepted by the generic advance surface.
const (
	IntentSendCollection       = "send_collection"
	IntentCompleteTest         = "complete_test"
	IntentDispatchTest         = "dispatch_test"
	IntentCompleteProduct      = "complete_product"
	IntentDispatchProduct      = "dispatch_product"
	IntentVerifyPackaging      = "verify_packaging"
	IntentGenerateConsumerCode = "generate_consumer_code"
)

// supportedIntents stores advance intents in pipeline order.
var supportedIntents = []string{
	IntentSendCollection,
	IntentCompleteTest,
	IntentDispatchTest,
	IntentCompleteProduct,
	IntentDispatchProduct,
	IntentVerifyPackaging,
	IntentGenerateConsumerCode,
}

// SupportedIntents returns every intent the advance surface accepts.
func SupportedIntents() []string {
	return append([]string(nil), supportedIntents...)
}

// Actor is the transport view of a registered actor.
type Actor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Company      string    `json:"company"`
	License      string    `json:"license,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// GeoPoint is a transport coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Environment carries field measurements.
type Environment struct {
	SoilMoisture float64 `json:"soil_moisture,omitempty" validate:"gte=0,lte=100"`
	SoilPH       float64 `json:"soil_ph,omitempty" validate:"gte=0,lte=14"`
	Richness     string  `json:"richness,omitempty"`
	Weather      string  `json:"weather,omitempty"`
}

// Collection is the collection payload of a record.
type Collection struct {
	Material    string      `json:"material"`
	Quantity    int64       `json:"quantity"`
	Unit        string      `json:"unit"`
	Location    string      `json:"location"`
	Coordinates GeoPoint    `json:"coordinates"`
	Environment Environment `json:"environment"`
	Images      []string    `json:"images,omitempty"`
	CollectedAt time.Time   `json:"collected_at"`
}

// Test is the test payload of a record.
type Test struct {
	CollectionID string  `json:"collection_id"`
	Purity       float64 `json:"purity"`
	Grade        string  `json:"grade,omitempty"`
	Accepted     int64   `json:"accepted"`
	Rejected     int64   `json:"rejected"`
	Notes        string  `json:"notes,omitempty"`
}

// CompositionEntry is one consumed batch of a product.
type CompositionEntry struct {
	BatchCode    string `json:"batch_code"`
	TestRecordID string `json:"test_record_id,omitempty"`
	Quantity     int64  `json:"quantity"`
}

// Manufacturing is the manufacturing payload of a record.
type Manufacturing struct {
	ProductName   string             `json:"product_name"`
	Description   string             `json:"description,omitempty"`
	Composition   []CompositionEntry `json:"composition"`
	TotalQuantity int64              `json:"total_quantity"`
}

// Packaging is the packaging payload of a record.
type Packaging struct {
	ManufacturingID string     `json:"manufacturing_id"`
	Verified        bool       `json:"verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

// Record is the transport view of a ledger record. Exactly one payload is set.
type Record struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Code          string         `json:"code,omitempty"`
	Status        string         `json:"status"`
	Version       int64          `json:"version"`
	OwnerID       string         `json:"owner_id"`
	ParentIDs     []string       `json:"parent_ids,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Collection    *Collection    `json:"collection,omitempty"`
	Test          *Test          `json:"test,omitempty"`
	Manufacturing *Manufacturing `json:"manufacturing,omitempty"`
	Packaging     *Packaging     `json:"packaging,omitempty"`
}

// ProvenanceLeaf is one origin branch of a consumer product.
type ProvenanceLeaf struct {
	BatchCode  string `json:"batch_code"`
	Quantity   int64  `json:"quantity"`
	Test       Record `json:"test"`
	Tester     Actor  `json:"tester"`
	Collection Record `json:"collection"`
	Collector  Actor  `json:"collector"`
}

// Provenance is the resolved journey behind a consumer code.
type Provenance struct {
	ConsumerCode string           `json:"consumer_code"`
	Packaging    Record           `json:"packaging"`
	Product      Record           `json:"product"`
	Leaves       []ProvenanceLeaf `json:"leaves"`
}

// Headroom reports remaining accepted quantity of a batch.
type Headroom struct {
	BatchCode    string   `json:"batch_code"`
	TestRecordID string   `json:"test_record_id"`
	Accepted     int64    `json:"accepted"`
	Consumed     int64    `json:"consumed"`
	Remaining    int64    `json:"remaining"`
	Consumers    []string `json:"consumers,omitempty"`
}

// ChangeEvent is one transaction-log entry.
type ChangeEvent struct {
	ID         int64             `json:"id"`
	RecordID   string            `json:"record_id"`
	Kind       string            `json:"kind"`
	Operation  string            `json:"operation"`
	Intent     string            `json:"intent"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status"`
	Version    int64             `json:"version"`
	ActorID    string            `json:"actor_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Summary is the auditor overview.
type Summary struct {
	ActorsByRole  map[string]int            `json:"actors_by_role"`
	RecordsByKind map[string]map[string]int `json:"records_by_kind"`
	TotalRecords  int                       `json:"total_records"`
	PackagedCodes []string                  `json:"packaged_codes,omitempty"`
	OverConsumed  []string                  `json:"over_consumed,omitempty"`
}

// MintedCode is the result of a standalone mint.
type MintedCode struct {
	Code string `json:"code"`
}

// RegisterActorRequest registers one actor.
type RegisterActorRequest struct {
	ID      string `json:"id" validate:"required,max=128"`
	Name    string `json:"name" validate:"required,max=256"`
	Role    string `json:"role" validate:"required"`
	Company string `json:"company" validate:"required,max=256"`
	License string `json:"license,omitempty" validate:"max=128"`
}

// RecordCollectionRequest opens a collection.
type RecordCollectionRequest struct {
	ActorID     string      `json:"-" validate:"required"`
	Material    string      `json:"material" validate:"required,max=256"`
	Quantity    int64       `json:"quantity" validate:"gt=0"`
	Unit        string      `json:"unit,omitempty" validate:"max=32"`
	Location    string      `json:"location" validate:"required,max=256"`
	Coordinates GeoPoint    `json:"coordinates"`
	Environment Environment `json:"environment"`
	Images      []string    `json:"images,omitempty" validate:"max=32,dive,required"`
}

// UpdateCollectionRequest edits a recorded collection. Nil fields are left unchanged.
type UpdateCollectionRequest struct {
	ActorID         string       `json:"-" validate:"required"`
	RecordID        string       `json:"-" validate:"required"`
	ExpectedVersion int64        `json:"expected_version,omitempty" validate:"gte=0"`
	Material        *string      `json:"material,omitempty" validate:"omitempty,min=1,max=256"`
	Quantity        *int64       `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	Unit            *string      `json:"unit,omitempty" validate:"omitempty,max=32"`
	Location        *string      `json:"location,omitempty" validate:"omitempty,min=1,max=256"`
	Coordinates     *GeoPoint    `json:"coordinates,omitempty"`
	Environment     *Environment `json:"environment,omitempty"`
	Images          []string     `json:"images,omitempty" validate:"max=32,dive,required"`
}

// RecordTestRequest opens a test against a sent collection.
type RecordTestRequest struct {
	ActorID      string  `json:"-" validate:"required"`
	CollectionID string  `json:"collection_id" validate:"required"`
	Purity       float64 `json:"purity" validate:"gte=0,lte=100"`
	Grade        string  `json:"grade,omitempty" validate:"max=32"`
	Accepted     int64   `json:"accepted" validate:"gte=0"`
	Rejected     int64   `json:"rejected" validate:"gte=0"`
	Notes        string  `json:"notes,omitempty" validate:"max=2048"`
}

// UpdateTestRequest edits an in-progress test. Nil fields are left unchanged.
type UpdateTestRequest struct {
	ActorID         string   `json:"-" validate:"required"`
	RecordID        string   `json:"-" validate:"required"`
	ExpectedVersion int64    `json:"expected_version,omitempty" validate:"gte=0"`
	Purity          *float64 `json:"purity,omitempty" validate:"omitempty,gte=0,lte=100"`
	Grade           *string  `json:"grade,omitempty" validate:"omitempty,max=32"`
	Accepted        *int64   `json:"accepted,omitempty" validate:"omitempty,gte=0"`
	Rejected        *int64   `json:"rejected,omitempty" validate:"omitempty,gte=0"`
	Notes           *string  `json:"notes,omitempty" validate:"omitempty,max=2048"`
}

// CompositionItem requests quantity units of one batch.
type CompositionItem struct {
	BatchCode string `json:"batch_code" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// CreateProductRequest aggregates batches into a product.
type CreateProductRequest struct {
	ActorID     string            `json:"-" validate:"required"`
	ProductName string            `json:"product_name" validate:"required,max=256"`
	Description string            `json:"description,omitempty" validate:"max=2048"`
	Composition []CompositionItem `json:"composition" validate:"required,min=1,dive"`
}

// ReceiveProductRequest takes custody of a dispatched product by id or product code.
type ReceiveProductRequest struct {
	ActorID string `json:"-" validate:"required"`
	Product string `json:"product" validate:"required"`
}

// AdvanceRequest applies one named intent to a record.
type AdvanceRequest struct {
	ActorID         string `json:"-" validate:"required"`
	RecordID        string `json:"-" validate:"required"`
	Intent          string `json:"intent" validate:"required"`
	ExpectedVersion int64  `json:"expected_version,omitempty" validate:"gte=0"`
}

// CollectionEdits are final collection edits applied together with a send.
type CollectionEdits struct {
	Material    *string      `json:"material,omitempty" validate:"omitempty,min=1,max=256"`
	Quantity    *int64       `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	Unit        *string      `json:"unit,omitempty" validate:"omitempty,max=32"`
	Location    *string      `json:"location,omitempty" validate:"omitempty,min=1,max=256"`
	Coordinates *GeoPoint    `json:"coordinates,omitempty"`
	Environment *Environment `json:"environment,omitempty"`
	Images      []string     `json:"images,omitempty" validate:"max=32,dive,required"`
}

// TestEdits are final test results applied together with completion.
type TestEdits struct {
	Purity   *float64 `json:"purity,omitempty" validate:"omitempty,gte=0,lte=100"`
	Grade    *string  `json:"grade,omitempty" validate:"omitempty,max=32"`
	Accepted *int64   `json:"accepted,omitempty" validate:"omitempty,gte=0"`
	Rejected *int64   `json:"rejected,omitempty" validate:"omitempty,gte=0"`
	Notes    *string  `json:"notes,omitempty" validate:"omitempty,max=2048"`
}

// TransitionRequest moves a record to a target state, optionally with final edits.
type TransitionRequest struct {
	ActorID         string           `json:"-" validate:"required"`
	RecordID        string           `json:"-" validate:"required"`
	Target          string           `json:"target" validate:"required"`
	ExpectedVersion int64            `json:"expected_version,omitempty" validate:"gte=0"`
	Collection      *CollectionEdits `json:"collection,omitempty"`
	Test            *TestEdits       `json:"test,omitempty"`
}

// ListRecordsRequest filters records.
type ListRecordsRequest struct {
	Kind    string
	Status  string
	OwnerID string
	Limit   int `validate:"gte=0,lte=1000"`
}

// MintCodeRequest mints a standalone code.
type MintCodeRequest struct {
	Seed string `json:"seed" validate:"required"`
	Year int    `json:"year,omitempty" validate:"gte=0,lte=9999"`
}

// LedgerService is the full provenance surface exposed by transports.
type LedgerService interface {
	RegisterActor(context.Context, RegisterActorRequest) (Actor, error)
	ListActors(context.Context) ([]Actor, error)
	RecordCollection(context.Context, RecordCollectionRequest) (Record, error)
	UpdateCollection(context.Context, UpdateCollectionRequest) (Record, error)
	RecordTest(context.Context, RecordTestRequest) (Record, error)
	UpdateTest(context.Context, UpdateTestRequest) (Record, error)
	CreateProduct(context.Context, CreateProductRequest) (Record, error)
	ReceiveProduct(context.Context, ReceiveProductRequest) (Record, error)
	Advance(context.Context, AdvanceRequest) (Record, error)
	Transition(context.Context, TransitionRequest) (Record, error)
	GetRecord(context.Context, string) (Record, error)
	FindByCode(context.Context, string) (Record, error)
	ListRecords(context.Context, ListRecordsRequest) ([]Record, error)
	Children(context.Context, string) ([]Record, error)
	ResolveProvenance(context.Context, string) (Provenance, error)
	BatchHeadroom(context.Context, string) (Headroom, error)
	ListChangeEvents(context.Context, string, int) ([]ChangeEvent, error)
	Summarize(context.Context) (Summary, error)
	MintCode(context.Context, MintCodeRequest) (MintedCode, error)
}
