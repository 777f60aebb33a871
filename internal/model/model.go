// Package model holds the domain records shared by the resolver, storage and
// widget packages.
package model

import (
	"strings"
	"time"
)

type ActionType string

const (
	ActionLink     ActionType = "link"
	ActionPhone    ActionType = "phone"
	ActionWhatsApp ActionType = "whatsapp"
	ActionHandoff  ActionType = "handoff"
	ActionMedia    ActionType = "media"
	ActionProducts ActionType = "products"
)

// Action is a configured bot action the model may trigger.
type Action struct {
	ID             string     `json:"id" yaml:"id"`
	Type           ActionType `json:"type" yaml:"type"`
	Label          string     `json:"label" yaml:"label"`
	Payload        string     `json:"payload" yaml:"payload"`
	Description    string     `json:"description,omitempty" yaml:"description"`
	TriggerMessage string     `json:"triggerMessage,omitempty" yaml:"triggerMessage"`
	MediaType      string     `json:"mediaType,omitempty" yaml:"mediaType"`
	FileSize       int64      `json:"fileSize,omitempty" yaml:"fileSize"`
}

type EcommerceSettings struct {
	Currency      string `json:"currency,omitempty" yaml:"currency"`
	CarouselLimit int    `json:"carouselLimit,omitempty" yaml:"carouselLimit"`
}

// BotConfig is an immutable snapshot of a bot's behavior and actions.
type BotConfig struct {
	ID                string             `json:"id" yaml:"id"`
	Name              string             `json:"name" yaml:"name"`
	SystemInstruction string             `json:"systemInstruction,omitempty" yaml:"systemInstruction"`
	KnowledgeBase     string             `json:"knowledgeBase,omitempty" yaml:"knowledgeBase"`
	Provider          string             `json:"provider,omitempty" yaml:"provider"`
	Model             string             `json:"model,omitempty" yaml:"model"`
	Temperature       float64            `json:"temperature,omitempty" yaml:"temperature"`
	Actions           []Action           `json:"actions" yaml:"actions"`
	BrandingText      string             `json:"brandingText,omitempty" yaml:"brandingText"`
	HeaderImageURL    string             `json:"headerImageUrl,omitempty" yaml:"headerImageUrl"`
	EcommerceEnabled  bool               `json:"ecommerceEnabled" yaml:"ecommerceEnabled"`
	EcommerceSettings *EcommerceSettings `json:"ecommerceSettings,omitempty" yaml:"ecommerceSettings"`
}

// Action returns the action with the given id.
func (b BotConfig) Action(id string) (Action, bool) {
	for _, a := range b.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Department routes a visitor to a dedicated bot.
type Department struct {
	BotID string `json:"botId" yaml:"botId"`
	Label string `json:"departmentLabel" yaml:"departmentLabel"`
	Name  string `json:"departmentName" yaml:"departmentName"`
}

// IntegrationConfig holds the UI-facing settings of an embed.
type IntegrationConfig struct {
	ID             string       `json:"id" yaml:"id"`
	BotID          string       `json:"botId" yaml:"botId"`
	Theme          string       `json:"theme,omitempty" yaml:"theme"`
	Position       string       `json:"position,omitempty" yaml:"position"`
	BrandColor     string       `json:"brandColor,omitempty" yaml:"brandColor"`
	WelcomeMessage string       `json:"welcomeMessage,omitempty" yaml:"welcomeMessage"`
	CollectLeads   bool         `json:"collectLeads" yaml:"collectLeads"`
	DepartmentBots []Department `json:"departmentBots,omitempty" yaml:"departmentBots"`
}

// Identity is the optional contact data used to reconcile conversations.
type Identity struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.Email) == "" && strings.TrimSpace(i.Phone) == ""
}

type Conversation struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one chat bubble. It is never mutated after creation.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	ActionInvoked  string    `json:"actionInvoked,omitempty"`
}

type Product struct {
	ID          string   `json:"id"`
	BotID       string   `json:"botId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	URL         string   `json:"url,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	InStock     bool     `json:"inStock"`
}

// ProductQuery filters the catalog. Nil bounds are open.
type ProductQuery struct {
	BotID    string
	Category string
	MinPrice *float64
	MaxPrice *float64
	Keywords []string
	Limit    int
}
