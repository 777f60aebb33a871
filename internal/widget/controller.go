package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatembed/internal/actions"
	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/inference"
	"github.com/kalambet/chatembed/internal/markdown"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/session"
	"github.com/kalambet/chatembed/internal/stream"
)

const (
	// ApologyText replaces a bot message whose stream failed.
	ApologyText = "Sorry, something went wrong. Please try again."
	// ConfigBanner is shown when configuration cannot be resolved.
	ConfigBanner = "This chat is currently unavailable. Please try again later."

	resumeHistory = 50
)

var (
	ErrStreaming         = errors.New("a response is still streaming")
	ErrNotChatting       = errors.New("widget is not in the chatting phase")
	ErrNotCollecting     = errors.New("widget is not collecting contact details")
	ErrNoDepartmentStep  = errors.New("widget is not choosing a department")
	ErrUnknownDepartment = errors.New("unknown department")
)

// ConfigResolver resolves bot and presentation configuration.
// Implemented by *botconfig.Resolver.
type ConfigResolver interface {
	Resolve(ctx context.Context, src botconfig.Source) (*botconfig.Resolved, error)
	ResolveBot(ctx context.Context, botID string) (*model.BotConfig, error)
}

// ConversationResolver finds or creates the conversation of a visitor.
// Implemented by *conversation.Resolver.
type ConversationResolver interface {
	Resolve(ctx context.Context, botID string, identity *model.Identity) (string, error)
	ResolveDepartment(ctx context.Context, homeBotID, botID string, identity *model.Identity) (string, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, m model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// ChatStreamer opens a streamed model response. Implemented by
// *inference.Client.
type ChatStreamer interface {
	ChatStream(ctx context.Context, req inference.ChatRequest) (io.ReadCloser, error)
}

// ActionResolver maps a function call to an affordance. Implemented by
// *actions.Resolver.
type ActionResolver interface {
	Resolve(ctx context.Context, call stream.FunctionCall, bot model.BotConfig) (*actions.Affordance, error)
}

// Renderer receives what the page would display during a turn. It never
// changes control flow.
type Renderer interface {
	// Delta receives the visible text of the in-progress bot message after
	// every text delta, and its rendered HTML.
	Delta(text, html string)
	// Message receives every message once it is complete.
	Message(m ChatMessage)
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) Delta(string, string) {}
func (NopRenderer) Message(ChatMessage)  {}

// Deps holds the collaborators of a Controller. Sessions and Messages may be
// nil, which disables durable sessions and message persistence.
type Deps struct {
	Configs       ConfigResolver
	Sessions      *session.Store
	Conversations ConversationResolver
	Messages      MessageStore
	Inference     ChatStreamer
	Actions       ActionResolver
}

// Controller implements the widget transitions. It holds no per-widget
// state and is safe for concurrent use.
type Controller struct {
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

func NewController(deps Deps) *Controller {
	return &Controller{deps: deps, now: time.Now, logger: slog.Default()}
}

// Init resolves configuration and restores any stored session. On a
// configuration failure the returned session is in PhaseFailed with a
// banner, alongside the *botconfig.FetchError.
func (c *Controller) Init(ctx context.Context, src botconfig.Source) (Session, error) {
	resolved, err := c.deps.Configs.Resolve(ctx, src)
	if err != nil {
		c.logger.Warn("widget configuration failed", "error", err)
		return Session{Phase: PhaseFailed, Banner: ConfigBanner}, err
	}

	s := Session{HomeBotID: resolved.Bot.ID, Resolved: resolved}

	var rec *session.Record
	if c.deps.Sessions != nil {
		rec = c.deps.Sessions.Load(ctx, s.HomeBotID)
	}
	if rec != nil {
		if rec.LeadData != nil {
			lead := *rec.LeadData
			s.Lead = &lead
		}
		if rec.DepartmentBotID != "" {
			if restored, ok := c.restoreDepartment(ctx, s, rec.DepartmentBotID); ok {
				restored.ConversationID = rec.ConversationID
				return c.enterChatting(ctx, restored), nil
			}
			// The conversation belongs to a department that is gone.
			rec.ConversationID = ""
		}
		if rec.ConversationID == "" && len(resolved.Departments) > 0 && (s.Lead != nil || rec.DepartmentBotID != "") {
			s.Phase = PhaseDepartment
			return s, nil
		}
		s.ConversationID = rec.ConversationID
		return c.enterChatting(ctx, s), nil
	}

	switch {
	case resolved.UI.CollectLeads:
		s.Phase = PhaseContact
	case len(resolved.Departments) > 0:
		s.Phase = PhaseDepartment
	default:
		return c.enterChatting(ctx, s), nil
	}
	return s, nil
}

// Open shows the widget. A session that failed to configure stays closed.
func (c *Controller) Open(s Session) Session {
	if s.Phase != PhaseFailed {
		s.Open = true
	}
	return s
}

// Close hides the widget. Chat state is kept and a running stream
// continues.
func (c *Controller) Close(s Session) Session {
	s.Open = false
	return s
}

// SubmitContact validates the lead form. With departments configured the
// lead is stored and the department step follows; otherwise the
// conversation is resolved and chatting starts. Invalid input returns a
// *ValidationError, a failed resolution a *conversation.ResolutionError;
// the session is unchanged in both cases.
func (c *Controller) SubmitContact(ctx context.Context, s Session, email, phone string) (Session, error) {
	if s.Phase != PhaseContact {
		return s, ErrNotCollecting
	}
	id, err := ValidateContact(email, phone)
	if err != nil {
		return s, err
	}

	next := s.clone()
	next.Lead = &id

	if len(s.Resolved.Departments) > 0 {
		if c.deps.Sessions != nil {
			c.deps.Sessions.SaveLead(ctx, s.HomeBotID, id)
		}
		next.Phase = PhaseDepartment
		return next, nil
	}

	convID, err := c.deps.Conversations.Resolve(ctx, s.BotID(), &id)
	if err != nil {
		return s, err
	}
	next.ConversationID = convID
	return c.enterChatting(ctx, next), nil
}

// SelectDepartment switches to the department's bot and starts chatting.
func (c *Controller) SelectDepartment(ctx context.Context, s Session, botID string) (Session, error) {
	if s.Phase != PhaseDepartment {
		return s, ErrNoDepartmentStep
	}
	next, err := c.switchDepartment(ctx, s, botID)
	if err != nil {
		return s, err
	}

	if next.Lead != nil {
		convID, err := c.resolveConversation(ctx, next)
		if err != nil {
			return s, err
		}
		next.ConversationID = convID
	}
	return c.enterChatting(ctx, next), nil
}

// switchDepartment returns s answered by the department bot botID, without
// a conversation.
func (c *Controller) switchDepartment(ctx context.Context, s Session, botID string) (Session, error) {
	var dept *model.Department
	for _, d := range s.Resolved.Departments {
		if d.BotID == botID {
			dept = &d
			break
		}
	}
	if dept == nil {
		return s, fmt.Errorf("%w: %s", ErrUnknownDepartment, botID)
	}

	bot, err := c.deps.Configs.ResolveBot(ctx, botID)
	if err != nil {
		return s, err
	}

	next := s.clone()
	next.Resolved.Bot = *bot
	next.Department = dept
	next.ConversationID = ""
	return next, nil
}

// restoreDepartment reselects the stored department of a resumed session.
func (c *Controller) restoreDepartment(ctx context.Context, s Session, botID string) (Session, bool) {
	next, err := c.switchDepartment(ctx, s, botID)
	if err != nil {
		c.logger.Warn("stored department unavailable", "bot_id", s.HomeBotID, "department", botID, "error", err)
		return s, false
	}
	return next, true
}

// resolveConversation finds or creates the conversation of s with the bot
// currently answering. Department conversations are recorded in the session
// of the home bot.
func (c *Controller) resolveConversation(ctx context.Context, s Session) (string, error) {
	if s.Department != nil {
		return c.deps.Conversations.ResolveDepartment(ctx, s.HomeBotID, s.BotID(), s.Lead)
	}
	return c.deps.Conversations.Resolve(ctx, s.BotID(), s.Lead)
}

// Send runs one turn: it ensures a conversation, persists the user message,
// then streams the bot reply into r. The returned session has the user
// message and the final bot message (or apology) appended.
func (c *Controller) Send(ctx context.Context, s Session, text string, image *inference.Image, r Renderer) (Session, error) {
	if s.Streaming {
		return s, ErrStreaming
	}
	if s.Phase != PhaseChatting {
		return s, ErrNotChatting
	}
	return c.send(ctx, s, text, image, r)
}

// send is Send without the streaming guard; Host claims the flag itself.
func (c *Controller) send(ctx context.Context, s Session, text string, image *inference.Image, r Renderer) (Session, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return s, nil
	}
	if r == nil {
		r = NopRenderer{}
	}

	next := s.clone()
	history := inference.History(next.History())
	bot := next.Bot()

	if next.ConversationID == "" {
		convID, err := c.resolveConversation(ctx, next)
		if err != nil {
			// The turn still runs; its messages are shown but not persisted.
			c.logger.Warn("conversation resolution failed", "bot_id", bot.ID, "error", err)
		}
		next.ConversationID = convID
	}

	user := ChatMessage{Message: model.Message{
		ID:             uuid.New().String(),
		ConversationID: next.ConversationID,
		Role:           model.RoleUser,
		Text:           text,
		Timestamp:      c.now().UTC(),
	}}
	next.Messages = append(next.Messages, user)
	r.Message(user)
	c.persist(ctx, user.Message)

	reply := c.streamReply(ctx, next, inference.ChatRequest{
		Bot:            bot,
		History:        history,
		Message:        text,
		Image:          image,
		ConversationID: next.ConversationID,
	}, r)
	if reply == nil {
		return next, nil
	}
	next.Messages = append(next.Messages, *reply)
	r.Message(*reply)
	if !reply.Local {
		c.persist(ctx, reply.Message)
	}
	return next, nil
}

// streamReply requests and consumes the bot response. It returns nil when
// the turn produced neither text nor an affordance.
func (c *Controller) streamReply(ctx context.Context, s Session, req inference.ChatRequest, r Renderer) *ChatMessage {
	bot := s.Bot()
	logger := c.logger.With("bot_id", bot.ID, "conversation_id", s.ConversationID)

	body, err := c.deps.Inference.ChatStream(ctx, req)
	if err != nil {
		logger.Warn("chat stream request failed", "error", err)
		return c.apology(s)
	}
	defer body.Close()

	var turn stream.Turn
	err = stream.Parse(ctx, body, func(ev stream.Event) error {
		if turn.Apply(ev) {
			visible := turn.Visible()
			r.Delta(visible, markdown.Render(visible))
		}
		return nil
	})
	if err != nil {
		logger.Warn("chat stream failed", "error", err)
		return c.apology(s)
	}

	visible := turn.Visible()
	if len(turn.Errors()) > 0 && visible == "" {
		logger.Warn("chat stream reported an error", "errors", turn.Errors())
		return c.apology(s)
	}

	var aff *actions.Affordance
	if call := turn.Call(); call != nil && c.deps.Actions != nil {
		aff, err = c.deps.Actions.Resolve(ctx, *call, bot)
		if err != nil {
			logger.Warn("resolving function call", "function", call.Name, "error", err)
			aff = nil
		}
	}

	if visible == "" && aff == nil {
		return nil
	}

	msg := &ChatMessage{
		Message: model.Message{
			ID:             uuid.New().String(),
			ConversationID: s.ConversationID,
			Role:           model.RoleModel,
			Text:           visible,
			Timestamp:      c.now().UTC(),
		},
		HTML:       markdown.Render(visible),
		Affordance: aff,
	}
	if aff != nil {
		msg.ActionInvoked = aff.ActionID
	}
	return msg
}

func (c *Controller) apology(s Session) *ChatMessage {
	return &ChatMessage{
		Message: model.Message{
			ConversationID: s.ConversationID,
			Role:           model.RoleModel,
			Text:           ApologyText,
			Timestamp:      c.now().UTC(),
		},
		HTML:  markdown.Render(ApologyText),
		Local: true,
	}
}

// persist writes m when it belongs to a conversation. Failures are logged
// only.
func (c *Controller) persist(ctx context.Context, m model.Message) {
	if c.deps.Messages == nil || m.ConversationID == "" {
		return
	}
	if err := c.deps.Messages.SaveMessage(ctx, m); err != nil {
		c.logger.Warn("persistence write failed", "conversation_id", m.ConversationID, "error", err)
	}
}

// enterChatting moves s to PhaseChatting, loading the stored history of its
// conversation, or showing the welcome message when there is none.
func (c *Controller) enterChatting(ctx context.Context, s Session) Session {
	s.Phase = PhaseChatting

	if s.ConversationID != "" && c.deps.Messages != nil && len(s.Messages) == 0 {
		stored, err := c.deps.Messages.ListMessages(ctx, s.ConversationID, resumeHistory)
		if err != nil {
			c.logger.Warn("loading conversation history", "conversation_id", s.ConversationID, "error", err)
		}
		for _, m := range stored {
			cm := ChatMessage{Message: m}
			if m.Role == model.RoleModel {
				cm.HTML = markdown.Render(m.Text)
			}
			s.Messages = append(s.Messages, cm)
		}
	}

	if len(s.Messages) == 0 && s.Resolved != nil && s.Resolved.UI.WelcomeMessage != "" {
		welcome := s.Resolved.UI.WelcomeMessage
		s.Messages = append(s.Messages, ChatMessage{
			Message: model.Message{Role: model.RoleModel, Text: welcome, Timestamp: c.now().UTC()},
			HTML:    markdown.Render(welcome),
			Local:   true,
		})
	}
	return s
}
