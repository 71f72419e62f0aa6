// internal/reminder/handler.go
package reminder

import (
	"encoding/json"
	"net/http"
	"time"
)

type Handler struct {
	dispatcher *Dispatcher
	now        func() time.Time
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher, now: func() time.Time { return time.Now().UTC() }}
}

// HandleDispatch runs one reminder batch. Partial failure is reported in the
// body with status 200.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	report := h.dispatcher.DispatchOverdueReminders(r.Context(), h.now())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}
