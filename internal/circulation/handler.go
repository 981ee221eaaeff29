// internal/circulation/handler.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the circulation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout", h.handleCheckout)
	r.Post("/hold", h.handleHold)
	r.Get("/records", h.handleListRecords)
	r.Get("/records/{id}", h.handleGetRecord)
	r.Post("/records/{id}/return", h.handleReturn)
	r.Post("/records/{id}/cancel", h.handleCancelHold)
}

type placeRequest struct {
	Member string `json:"member"`
	Book   string `json:"book"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	h.handlePlace(w, r, h.service.Checkout)
}

func (h *Handler) handleHold(w http.ResponseWriter, r *http.Request) {
	h.handlePlace(w, r, h.service.Hold)
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request, place func(ctx context.Context, memberName, bookTitle string) Outcome) {
	var req placeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Member == "" || req.Book == "" {
		http.Error(w, "member and book are required", http.StatusBadRequest)
		return
	}

	outcome := place(r.Context(), req.Member, req.Book)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(outcome))
	json.NewEncoder(w).Encode(outcome)
}

func statusCode(outcome Outcome) int {
	switch outcome.Status {
	case StatusCompleted:
		return http.StatusCreated
	case StatusRejected:
		switch outcome.Reason {
		case ReasonParticipantNotFound, ReasonItemNotFound:
			return http.StatusNotFound
		default:
			return http.StatusConflict
		}
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListRecords(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(records)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	json.NewEncoder(w).Encode(record)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Return(r.Context(), id)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	json.NewEncoder(w).Encode(record)
}

func (h *Handler) handleCancelHold(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	record, err := h.service.CancelHold(r.Context(), id)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	json.NewEncoder(w).Encode(record)
}

// recordID parses the path id, rejecting malformed identifiers at the
// boundary before the coordinator runs.
func recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid record id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRecordNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
