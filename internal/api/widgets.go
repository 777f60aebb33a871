package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/inference"
	"github.com/kalambet/chatembed/internal/widget"
)

const maxFrameSize = 8 << 20 // 8MB, room for an inline image

type widgetResponse struct {
	ID      string         `json:"id"`
	Session widget.Session `json:"session"`
}

type leadRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type departmentRequest struct {
	BotID string `json:"botId"`
}

type sendRequest struct {
	Text  string           `json:"text"`
	Image *inference.Image `json:"image,omitempty"`
}

func (r sendRequest) empty() bool {
	return strings.TrimSpace(r.Text) == "" && r.Image == nil
}

// The widget is embedded in arbitrary third-party pages, so every origin is
// accepted.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func handleCreateWidget(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		embed, err := widget.LoadEmbed(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid embed document: %v", err)
			return
		}

		s, err := deps.Controller.Init(r.Context(), embed.Source())
		if err != nil {
			deps.Logger.Warn("widget init failed", "error", err)
			httpError(w, http.StatusBadGateway, "config_unavailable", "%s", s.Banner)
			return
		}

		id := deps.Registry.Add(widget.NewHost(deps.Controller, s))
		deps.Logger.Debug("widget created", "widget_id", id, "bot_id", s.BotID(), "phase", s.Phase)
		writeJSON(w, http.StatusCreated, widgetResponse{ID: id, Session: s})
	}
}

func handleGetWidget(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse{ID: id, Session: h.Session()})
	}
}

func handleDeleteWidget(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Registry.Remove(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "widget not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleOpen(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse{ID: id, Session: h.Open()})
	}
}

func handleClose(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse{ID: id, Session: h.Close()})
	}
}

func handleLead(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req leadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		s, err := h.SubmitContact(r.Context(), req.Email, req.Phone)
		if err != nil {
			if fields, ok := widget.FormErrors(err); ok {
				fieldError(w, fields)
				return
			}
			transitionError(deps, w, err)
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse{ID: id, Session: s})
	}
}

func handleDepartment(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req departmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.BotID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "botId is required")
			return
		}

		s, err := h.SelectDepartment(r.Context(), req.BotID)
		if err != nil {
			transitionError(deps, w, err)
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse{ID: id, Session: s})
	}
}

// handleMessages runs one turn and streams it as server-sent events. State
// errors are reported as plain JSON before the stream starts.
func handleMessages(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFrameSize)
		defer r.Body.Close()

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.empty() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text or image is required")
			return
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		// The turn is finished and persisted even when the client goes away
		// mid-stream, as with a widget closed while a reply streams.
		ctx := context.WithoutCancel(r.Context())
		s, err := h.Send(ctx, req.Text, req.Image, eventRenderer{emit: sse.emit})
		if err != nil {
			if !sse.started {
				transitionError(deps, w, err)
				return
			}
			sse.emit(Event{Type: EventError, Error: err.Error()})
		}
		sse.emit(Event{Type: EventDone, Session: &s})
	}
}

// handleWebSocket runs one turn per inbound text frame. A frame is either a
// JSON send request or the message text itself.
func handleWebSocket(deps WidgetDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, h, ok := lookup(deps, w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn("widget ws upgrade failed", "widget_id", id, "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrameSize)

		logger := deps.Logger.With("widget_id", id)
		emit := func(ev Event) {
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("widget ws write failed", "error", err)
			}
		}

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("widget ws closed", "error", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}

			req := parseFrame(data)
			if req.empty() {
				emit(Event{Type: EventError, Error: "text or image is required"})
				continue
			}

			s, err := h.Send(r.Context(), req.Text, req.Image, eventRenderer{emit: emit})
			if err != nil {
				emit(Event{Type: EventError, Error: err.Error()})
				continue
			}
			emit(Event{Type: EventDone, Session: &s})
		}
	}
}

func parseFrame(data []byte) sendRequest {
	var req sendRequest
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(data, &req) == nil {
		return req
	}
	return sendRequest{Text: trimmed}
}

func lookup(deps WidgetDeps, w http.ResponseWriter, r *http.Request) (string, *widget.Host, bool) {
	id := chi.URLParam(r, "id")
	h, ok := deps.Registry.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "widget not found")
		return id, nil, false
	}
	return id, h, true
}

// transitionError maps a rejected widget transition to a status code.
func transitionError(deps WidgetDeps, w http.ResponseWriter, err error) {
	var fetchErr *botconfig.FetchError
	switch {
	case errors.Is(err, widget.ErrStreaming):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, widget.ErrNotChatting),
		errors.Is(err, widget.ErrNotCollecting),
		errors.Is(err, widget.ErrNoDepartmentStep):
		httpError(w, http.StatusConflict, "invalid_state", "%v", err)
	case errors.Is(err, widget.ErrUnknownDepartment):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &fetchErr):
		httpError(w, http.StatusBadGateway, "config_unavailable", "%s", widget.ConfigBanner)
	default:
		deps.Logger.Error("widget transition failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// sseWriter writes events as server-sent events. Headers are sent with the
// first event so earlier failures can still be reported with a status code.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) emit(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.flusher.Flush()
}
