package api

import (
	"github.com/kalambet/chatembed/internal/actions"
	"github.com/kalambet/chatembed/internal/widget"
)

// Event types of a streamed turn.
const (
	EventDelta      = "delta"
	EventMessage    = "message"
	EventAffordance = "affordance"
	EventError      = "error"
	EventDone       = "done"
)

// Event is one frame of a streamed turn, sent as an SSE data line or a
// WebSocket text frame.
type Event struct {
	Type string `json:"type"`
	// Text and HTML carry the whole visible bot message so far on delta
	// events, and the rendered affordance on affordance events.
	Text       string              `json:"text,omitempty"`
	HTML       string              `json:"html,omitempty"`
	Message    *widget.ChatMessage `json:"message,omitempty"`
	Affordance *actions.Affordance `json:"affordance,omitempty"`
	Error      string              `json:"error,omitempty"`
	Session    *widget.Session     `json:"session,omitempty"`
}

// eventRenderer turns renderer callbacks into events.
type eventRenderer struct {
	emit func(Event)
}

func (e eventRenderer) Delta(text, html string) {
	e.emit(Event{Type: EventDelta, Text: text, HTML: html})
}

func (e eventRenderer) Message(m widget.ChatMessage) {
	e.emit(Event{Type: EventMessage, Message: &m})

	if m.Local {
		// The only local message a turn produces is the apology.
		e.emit(Event{Type: EventError, Error: m.Text})
		return
	}
	if m.Affordance != nil {
		html, _ := actions.RenderHTML(m.Affordance)
		e.emit(Event{Type: EventAffordance, Affordance: m.Affordance, HTML: html})
	}
}
