package widget

import (
	"context"
	"sync"

	"github.com/kalambet/chatembed/internal/inference"
)

// Host owns one Session for hosts that drive a widget from several
// goroutines (HTTP handlers, websocket readers). Turns are serialized by the
// streaming flag; other transitions apply immediately.
type Host struct {
	ctrl *Controller

	mu sync.Mutex
	s  Session
}

func NewHost(ctrl *Controller, s Session) *Host {
	return &Host{ctrl: ctrl, s: s}
}

// Session returns a copy of the current state.
func (h *Host) Session() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s.clone()
}

// Streaming reports whether a turn is in progress.
func (h *Host) Streaming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s.Streaming
}

func (h *Host) Open() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = h.ctrl.Open(h.s)
	return h.s.clone()
}

func (h *Host) Close() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = h.ctrl.Close(h.s)
	return h.s.clone()
}

func (h *Host) SubmitContact(ctx context.Context, email, phone string) (Session, error) {
	return h.apply(func(s Session) (Session, error) {
		return h.ctrl.SubmitContact(ctx, s, email, phone)
	})
}

func (h *Host) SelectDepartment(ctx context.Context, botID string) (Session, error) {
	return h.apply(func(s Session) (Session, error) {
		return h.ctrl.SelectDepartment(ctx, s, botID)
	})
}

// Send claims the streaming flag, runs the turn without holding the lock and
// merges the result. The open flag is taken from the live session so a
// widget closed mid-stream stays closed.
func (h *Host) Send(ctx context.Context, text string, image *inference.Image, r Renderer) (Session, error) {
	h.mu.Lock()
	if h.s.Streaming {
		h.mu.Unlock()
		return Session{}, ErrStreaming
	}
	if h.s.Phase != PhaseChatting {
		h.mu.Unlock()
		return Session{}, ErrNotChatting
	}
	h.s.Streaming = true
	snapshot := h.s.clone()
	h.mu.Unlock()

	next, err := h.ctrl.send(ctx, snapshot, text, image, r)

	h.mu.Lock()
	defer h.mu.Unlock()
	next.Open = h.s.Open
	next.Streaming = false
	h.s = next
	return h.s.clone(), err
}

// apply runs a non-streaming transition under the lock. Transitions are
// rejected while a turn is streaming.
func (h *Host) apply(fn func(Session) (Session, error)) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.s.Streaming {
		return h.s.clone(), ErrStreaming
	}
	next, err := fn(h.s)
	if err != nil {
		return h.s.clone(), err
	}
	h.s = next
	return h.s.clone(), nil
}
