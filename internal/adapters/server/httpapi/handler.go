// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hylla/herbchain/internal/adapters/server/common"
	"github.com/hylla/herbchain/internal/app"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// ActorHeader names the request header that carries the calling actor id.
const ActorHeader = "X-Actor-ID"

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service common.LedgerService
	router  chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over a ledger service.
func NewHandler(service common.LedgerService) *Handler {
	h := &Handler{service: service}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(actorContext)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{Code: common.CodeNotFound, Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{Code: "method_not_allowed", Message: "method not allowed"})
	})

	r.Get("/intents", h.handleListIntents)
	r.Route("/actors", func(r chi.Router) {
		r.Get("/", h.handleListActors)
		r.Post("/", h.handleRegisterActor)
	})
	r.Route("/records", func(r chi.Router) {
		r.Get("/", h.handleListRecords)
		r.Get("/{id}", h.handleGetRecord)
		r.Get("/{id}/children", h.handleChildren)
		r.Get("/{id}/events", h.handleRecordEvents)
		r.Post("/{id}/advance", h.handleAdvance)
		r.Post("/{id}/transition", h.handleTransition)
	})
	r.Post("/collections", h.handleRecordCollection)
	r.Patch("/collections/{id}", h.handleUpdateCollection)
	r.Post("/tests", h.handleRecordTest)
	r.Patch("/tests/{id}", h.handleUpdateTest)
	r.Post("/products", h.handleCreateProduct)
	r.Post("/packaging", h.handleReceiveProduct)
	r.Get("/codes/{code}", h.handleFindByCode)
	r.Post("/codes/mint", h.handleMintCode)
	r.Get("/provenance/{code}", h.handleProvenance)
	r.Get("/batches/{code}/headroom", h.handleHeadroom)
	r.Get("/events", h.handleListEvents)
	r.Get("/summary", h.handleSummary)
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "ledger service is not configured",
		})
		return
	}
	h.router.ServeHTTP(w, r)
}

// actorContext copies the actor header into the request context.
func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorID := strings.TrimSpace(r.Header.Get(ActorHeader)); actorID != "" {
			r = r.WithContext(app.WithActorID(r.Context(), actorID))
		}
		next.ServeHTTP(w, r)
	})
}

// requireActor returns the calling actor id or writes a 401 envelope.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID, ok := app.ActorIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:    "actor_required",
			Message: ActorHeader + " header is required for writes",
		})
		return "", false
	}
	return actorID, true
}

func (h *Handler) handleListIntents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"intents": common.SupportedIntents()})
}

func (h *Handler) handleListActors(w http.ResponseWriter, r *http.Request) {
	actors, err := h.service.ListActors(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
}

// handleRegisterActor serves POST `/actors`. Registration is open so seeding tools can bootstrap identities.
func (h *Handler) handleRegisterActor(w http.ResponseWriter, r *http.Request) {
	var req common.RegisterActorRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	actor, err := h.service.RegisterActor(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

// handleListRecords serves GET `/records` with kind, status, owner, and limit filters.
func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	q := r.URL.Query()
	recs, err := h.service.ListRecords(r.Context(), common.ListRecordsRequest{
		Kind:    strings.TrimSpace(q.Get("kind")),
		Status:  strings.TrimSpace(q.Get("status")),
		OwnerID: strings.TrimSpace(q.Get("owner")),
		Limit:   limit,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.Children(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (h *Handler) handleRecordEvents(w http.ResponseWriter, r *http.Request) {
	h.writeEvents(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	h.writeEvents(w, r, strings.TrimSpace(r.URL.Query().Get("record_id")))
}

func (h *Handler) writeEvents(w http.ResponseWriter, r *http.Request, recordID string) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	events, err := h.service.ListChangeEvents(r.Context(), recordID, limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAdvance serves POST `/records/{id}/advance` with a named intent.
func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.AdvanceRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID, req.RecordID = actorID, chi.URLParam(r, "id")
	rec, err := h.service.Advance(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleTransition serves POST `/records/{id}/transition` with a target state.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID, req.RecordID = actorID, chi.URLParam(r, "id")
	rec, err := h.service.Transition(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleRecordCollection(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.RecordCollectionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID = actorID
	rec, err := h.service.RecordCollection(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.UpdateCollectionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID, req.RecordID = actorID, chi.URLParam(r, "id")
	rec, err := h.service.UpdateCollection(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleRecordTest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.RecordTestRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID = actorID
	rec, err := h.service.RecordTest(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.UpdateTestRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID, req.RecordID = actorID, chi.URLParam(r, "id")
	rec, err := h.service.UpdateTest(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateProduct serves POST `/products`. The composition is applied all-or-nothing.
func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.CreateProductRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID = actorID
	rec, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleReceiveProduct(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req common.ReceiveProductRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ActorID = actorID
	rec, err := h.service.ReceiveProduct(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleFindByCode(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleMintCode(w http.ResponseWriter, r *http.Request) {
	var req common.MintCodeRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	minted, err := h.service.MintCode(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, minted)
}

// handleProvenance serves GET `/provenance/{code}`: the consumer-facing journey lookup.
func (h *Handler) handleProvenance(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.ResolveProvenance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) handleHeadroom(w http.ResponseWriter, r *http.Request) {
	headroom, err := h.service.BatchHeadroom(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, headroom)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summarize(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// queryLimit parses the optional `limit` query parameter.
func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", common.ErrInvalidRequest)
	}
	return limit, nil
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    common.CodeInternal,
			Message: "unknown error",
		})
		return
	}
	info := common.DescribeError(err)
	apiErr := APIError{
		Code:      info.Code,
		Message:   err.Error(),
		Retryable: info.Retryable,
	}
	if info.Code == common.CodeConflict {
		apiErr.Hint = "Reload the record and retry with its current version."
	}
	writeJSONError(w, info.Status, apiErr)
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
