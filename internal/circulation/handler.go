// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"issuedesk/internal/access"
)

type Handler struct {
	service  Service
	gate     access.Gate
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewHandler(service Service, gate access.Gate, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		gate:     gate,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type issueRequest struct {
	ItemID     uuid.UUID `json:"item_id" validate:"required"`
	BorrowerID uuid.UUID `json:"borrower_id" validate:"required"`
	DueDate    time.Time `json:"due_date" validate:"required"`
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "validation error", "errors": err.Error()})
		return
	}

	rec, err := h.service.Issue(r.Context(), req.ItemID, req.BorrowerID, req.DueDate, h.now())
	if err != nil {
		h.writeError(w, "issue", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.service.Return(r.Context(), id, h.now())
	if err != nil {
		h.writeError(w, "return", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), id, h.now())
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	q := r.URL.Query()
	var filter Filter

	switch s := Status(q.Get("status")); s {
	case "", StatusIssued, StatusReturned:
		filter.Status = s
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid status"})
		return
	}
	for key, dst := range map[string]*uuid.UUID{"borrower_id": &filter.BorrowerID, "item_id": &filter.ItemID} {
		if v := q.Get(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid " + key})
				return
			}
			*dst = id
		}
	}
	if v := q.Get("overdue"); v != "" {
		overdue, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid overdue flag"})
			return
		}
		if overdue {
			filter.OverdueAt = &now
		}
	}

	writeJSON(w, http.StatusOK, h.service.ListIssues(r.Context(), filter, now))
}

func (h *Handler) HandleListOverdue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListOverdue(r.Context(), h.now()))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats(r.Context(), h.now()))
}

// HandleBorrowerIssues lists one borrower's history. Staff may read anyone's;
// other sessions only their own.
func (h *Handler) HandleBorrowerIssues(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	session := access.FromContext(r.Context())
	self := session.SignedIn() && session.BorrowerID == id
	if !self && !h.gate.Decide(session, access.Staff...).Permitted() {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "forbidden", "redirect": h.gate.LandingPath})
		return
	}
	writeJSON(w, http.StatusOK, h.service.ListIssues(r.Context(), Filter{BorrowerID: id}, h.now()))
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	available, err := h.service.Available(r.Context(), id)
	if err != nil {
		h.writeError(w, "availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "available": available})
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveItem(r.Context(), id); err != nil {
		h.writeError(w, "remove item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRemoveBorrower(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveBorrower(r.Context(), id); err != nil {
		h.writeError(w, "remove borrower", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
	case errors.Is(err, ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"message": err.Error()})
	default:
		h.logger.Error("circulation "+op, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
	}
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
