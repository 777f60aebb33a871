package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatembed/internal/widget"
)

const maxRequestBodySize = 1 << 20 // 1MB

// WidgetDeps holds what the widget host needs.
type WidgetDeps struct {
	Controller *widget.Controller
	// Registry holds live widgets; a new one is created when nil.
	Registry *Registry
	Logger   *slog.Logger
}

// NewWidgetHandler returns the HTTP widget host. A page script creates a
// widget from its embed document, drives its state transitions over REST and
// receives streamed turns over SSE or a WebSocket.
func NewWidgetHandler(deps WidgetDeps) http.Handler {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/widgets", handleCreateWidget(deps))
	r.Route("/widgets/{id}", func(r chi.Router) {
		r.Get("/", handleGetWidget(deps))
		r.Delete("/", handleDeleteWidget(deps))
		r.Post("/open", handleOpen(deps))
		r.Post("/close", handleClose(deps))
		r.Post("/lead", handleLead(deps))
		r.Post("/department", handleDepartment(deps))
		r.Post("/messages", handleMessages(deps))
		r.Get("/ws", handleWebSocket(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// fieldError reports lead form messages keyed by field.
func fieldError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error": map[string]any{
			"message": "invalid contact details",
			"type":    "validation_error",
			"fields":  fields,
		},
	})
}
