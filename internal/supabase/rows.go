package supabase

import (
	"time"

	"github.com/kalambet/chatembed/internal/model"
)

type integrationRow struct {
	ID             string             `json:"id"`
	BotID          string             `json:"bot_id"`
	Theme          string             `json:"theme"`
	Position       string             `json:"position"`
	BrandColor     string             `json:"brand_color"`
	WelcomeMessage string             `json:"welcome_message"`
	CollectLeads   bool               `json:"collect_leads"`
	DepartmentBots []model.Department `json:"department_bots"`
}

func (r integrationRow) toModel() model.IntegrationConfig {
	return model.IntegrationConfig{
		ID:             r.ID,
		BotID:          r.BotID,
		Theme:          r.Theme,
		Position:       r.Position,
		BrandColor:     r.BrandColor,
		WelcomeMessage: r.WelcomeMessage,
		CollectLeads:   r.CollectLeads,
		DepartmentBots: r.DepartmentBots,
	}
}

type actionRow struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Label          string `json:"label"`
	Payload        string `json:"payload"`
	Description    string `json:"description"`
	TriggerMessage string `json:"trigger_message"`
	MediaType      string `json:"media_type"`
	FileSize       int64  `json:"file_size"`
}

type botRow struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	SystemInstruction string                   `json:"system_instruction"`
	KnowledgeBase     string                   `json:"knowledge_base"`
	Provider          string                   `json:"provider"`
	Model             string                   `json:"model"`
	Temperature       float64                  `json:"temperature"`
	BrandingText      string                   `json:"branding_text"`
	HeaderImageURL    string                   `json:"header_image_url"`
	EcommerceEnabled  bool                     `json:"ecommerce_enabled"`
	EcommerceSettings *model.EcommerceSettings `json:"ecommerce_settings"`
	Actions           []actionRow              `json:"bot_actions"`
}

func (r botRow) toModel() model.BotConfig {
	b := model.BotConfig{
		ID:                r.ID,
		Name:              r.Name,
		SystemInstruction: r.SystemInstruction,
		KnowledgeBase:     r.KnowledgeBase,
		Provider:          r.Provider,
		Model:             r.Model,
		Temperature:       r.Temperature,
		BrandingText:      r.BrandingText,
		HeaderImageURL:    r.HeaderImageURL,
		EcommerceEnabled:  r.EcommerceEnabled,
		EcommerceSettings: r.EcommerceSettings,
		Actions:           make([]model.Action, 0, len(r.Actions)),
	}
	for _, a := range r.Actions {
		b.Actions = append(b.Actions, model.Action{
			ID:             a.ID,
			Type:           model.ActionType(a.Type),
			Label:          a.Label,
			Payload:        a.Payload,
			Description:    a.Description,
			TriggerMessage: a.TriggerMessage,
			MediaType:      a.MediaType,
			FileSize:       a.FileSize,
		})
	}
	return b
}

type conversationRow struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Email     *string   `json:"email"`
	Phone     *string   `json:"phone"`
	StartedAt time.Time `json:"started_at"`
}

func (r conversationRow) toModel() model.Conversation {
	c := model.Conversation{ID: r.ID, BotID: r.BotID, StartedAt: r.StartedAt}
	if r.Email != nil {
		c.Email = *r.Email
	}
	if r.Phone != nil {
		c.Phone = *r.Phone
	}
	return c
}

type conversationInsert struct {
	BotID string  `json:"bot_id"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type messageRow struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	ActionInvoked  *string   `json:"action_invoked,omitempty"`
}

func messageFromModel(m model.Message) messageRow {
	r := messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Text:           m.Text,
		Timestamp:      m.Timestamp.UTC(),
	}
	if m.ActionInvoked != "" {
		r.ActionInvoked = &m.ActionInvoked
	}
	return r
}

func (r messageRow) toModel() model.Message {
	m := model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           model.Role(r.Role),
		Text:           r.Text,
		Timestamp:      r.Timestamp,
	}
	if r.ActionInvoked != nil {
		m.ActionInvoked = *r.ActionInvoked
	}
	return m
}

type productRow struct {
	ID          string   `json:"id"`
	BotID       string   `json:"bot_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	ImageURL    string   `json:"image_url"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	InStock     bool     `json:"in_stock"`
}

func (r productRow) toModel() model.Product {
	return model.Product{
		ID:          r.ID,
		BotID:       r.BotID,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Currency:    r.Currency,
		ImageURL:    r.ImageURL,
		URL:         r.URL,
		Tags:        r.Tags,
		InStock:     r.InStock,
	}
}
