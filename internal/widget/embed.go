package widget

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/model"
)

// Embed is the configuration a host page supplies: one of Bot,
// IntegrationID or BotID, connection parameters and optional UI overrides.
// YAML and JSON documents share the same field names.
type Embed struct {
	Bot           *model.BotConfig `json:"bot,omitempty" yaml:"bot"`
	IntegrationID string           `json:"integrationId,omitempty" yaml:"integrationId"`
	BotID         string           `json:"botId,omitempty" yaml:"botId"`

	APIBaseURL string `json:"apiBaseUrl,omitempty" yaml:"apiBaseUrl"`
	AnonKey    string `json:"anonKey,omitempty" yaml:"anonKey"`

	Theme          string   `json:"theme,omitempty" yaml:"theme"`
	Position       string   `json:"position,omitempty" yaml:"position"`
	BrandColor     string   `json:"brandColor,omitempty" yaml:"brandColor"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty" yaml:"welcomeMessage"`
	CollectLeads   *bool    `json:"collectLeads,omitempty" yaml:"collectLeads"`
	QuickActions   []string `json:"quickActions,omitempty" yaml:"quickActions"`
}

// ErrNoBot is returned for an embed naming no bot.
var ErrNoBot = errors.New("embed must set bot, integrationId or botId")

// LoadEmbed decodes a YAML (or JSON, which is valid YAML) embed document.
func LoadEmbed(r io.Reader) (Embed, error) {
	var e Embed
	if err := yaml.NewDecoder(r).Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return e, ErrNoBot
		}
		return e, fmt.Errorf("decoding embed: %w", err)
	}
	return e, e.Validate()
}

// Validate reports whether the embed names a bot.
func (e Embed) Validate() error {
	if e.Bot == nil && e.IntegrationID == "" && e.BotID == "" {
		return ErrNoBot
	}
	if e.Bot != nil && e.Bot.ID == "" {
		return fmt.Errorf("inline bot has no id")
	}
	return nil
}

// Source converts the embed to a configuration source.
func (e Embed) Source() botconfig.Source {
	return botconfig.Source{
		Bot:           e.Bot,
		IntegrationID: e.IntegrationID,
		BotID:         e.BotID,
		Overrides: botconfig.UIOverrides{
			Theme:          e.Theme,
			Position:       e.Position,
			BrandColor:     e.BrandColor,
			WelcomeMessage: e.WelcomeMessage,
			CollectLeads:   e.CollectLeads,
			QuickActions:   e.QuickActions,
		},
	}
}
