// Package widget is the chat widget state machine. A Session is a plain value;
// Controller transitions return the next Session and a Renderer receives
// what a page would display.
package widget

import (
	"slices"

	"github.com/kalambet/chatembed/internal/actions"
	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/model"
)

// Phase is the identity-collection progress of a session.
type Phase string

const (
	// PhaseFailed means configuration could not be resolved. The widget
	// cannot open.
	PhaseFailed     Phase = "failed"
	PhaseContact    Phase = "contact"
	PhaseDepartment Phase = "department"
	PhaseChatting   Phase = "chatting"
)

// ChatMessage is a displayed message: the persisted record plus its
// rendered form.
type ChatMessage struct {
	model.Message
	HTML       string              `json:"html,omitempty"`
	Affordance *actions.Affordance `json:"affordance,omitempty"`
	// Local messages (welcome, apology) are never persisted or sent upstream.
	Local bool `json:"local,omitempty"`
}

// Session is the whole state of one widget instance.
type Session struct {
	// HomeBotID keys the durable session record. It is the bot resolved at
	// Init and does not change when a department is selected.
	HomeBotID      string              `json:"homeBotId"`
	Open           bool                `json:"open"`
	Phase          Phase               `json:"phase"`
	Resolved       *botconfig.Resolved `json:"resolved,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	Lead           *model.Identity     `json:"lead,omitempty"`
	Department     *model.Department   `json:"department,omitempty"`
	Streaming      bool                `json:"streaming"`
	Messages       []ChatMessage       `json:"messages"`
	Banner         string              `json:"banner,omitempty"`
}

// BotID returns the id of the bot currently answering.
func (s Session) BotID() string {
	if s.Resolved == nil {
		return ""
	}
	return s.Resolved.Bot.ID
}

// Bot returns the configuration of the bot currently answering.
func (s Session) Bot() model.BotConfig {
	if s.Resolved == nil {
		return model.BotConfig{}
	}
	return s.Resolved.Bot
}

// History returns the persisted messages, oldest first, excluding local
// ones.
func (s Session) History() []model.Message {
	out := make([]model.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if !m.Local {
			out = append(out, m.Message)
		}
	}
	return out
}

// clone returns a copy that shares nothing mutable with s.
func (s Session) clone() Session {
	s.Messages = slices.Clone(s.Messages)
	if s.Lead != nil {
		lead := *s.Lead
		s.Lead = &lead
	}
	if s.Department != nil {
		d := *s.Department
		s.Department = &d
	}
	if s.Resolved != nil {
		r := *s.Resolved
		s.Resolved = &r
	}
	return s
}
