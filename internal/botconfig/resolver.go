// Package botconfig resolves which bot a widget talks to and how it looks,
// caching bot configurations in durable storage for a short TTL.
package botconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/storage"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultTheme      = "light"
	DefaultPosition   = "bottom-right"
	DefaultBrandColor = "#2563eb"

	cacheKeyPrefix = "chatembed:config:"
)

// ErrNoSource is returned when a Source names neither a bot nor an
// integration.
var ErrNoSource = errors.New("no bot, integration or bot id given")

// Fetcher reads configuration from the persistence collaborator.
// Implemented by storage.Store and supabase.Client.
type Fetcher interface {
	GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error)
	GetBot(ctx context.Context, id string) (*model.BotConfig, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FetchError reports a configuration that could not be loaded. The widget
// must not start when Resolve returns it.
type FetchError struct {
	What string // e.g. "integration int-1"
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.What, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UISettings is the presentation of a resolved widget.
type UISettings struct {
	Theme          string   `json:"theme"`
	Position       string   `json:"position"`
	BrandColor     string   `json:"brandColor"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty"`
	CollectLeads   bool     `json:"collectLeads"`
	QuickActions   []string `json:"quickActions,omitempty"`
}

// UIOverrides are caller-supplied presentation values. Empty fields are
// unset.
type UIOverrides struct {
	Theme          string   `json:"theme,omitempty" yaml:"theme"`
	Position       string   `json:"position,omitempty" yaml:"position"`
	BrandColor     string   `json:"brandColor,omitempty" yaml:"brandColor"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty" yaml:"welcomeMessage"`
	CollectLeads   *bool    `json:"collectLeads,omitempty" yaml:"collectLeads"`
	QuickActions   []string `json:"quickActions,omitempty" yaml:"quickActions"`
}

// Source selects what to resolve. Exactly one of Bot, IntegrationID or BotID
// is used, in that order of preference.
type Source struct {
	Bot           *model.BotConfig
	IntegrationID string
	BotID         string
	Overrides     UIOverrides
}

// Resolved is a fully configured widget.
type Resolved struct {
	Bot           model.BotConfig    `json:"bot"`
	UI            UISettings         `json:"ui"`
	Departments   []model.Department `json:"departments,omitempty"`
	IntegrationID string             `json:"integrationId,omitempty"`
}

type cacheEntry struct {
	Value     model.BotConfig `json:"value"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

// Resolver resolves widget configuration. Bot configurations are cached in
// kv under chatembed:config:<botId>.
type Resolver struct {
	fetcher Fetcher
	kv      storage.KV
	clock   Clock
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewResolver creates a Resolver with a 5-minute cache TTL.
func NewResolver(fetcher Fetcher, kv storage.KV) *Resolver {
	return NewResolverWithClock(fetcher, kv, realClock{}, DefaultTTL)
}

// NewResolverWithClock creates a Resolver with a custom clock and TTL. A nil
// clock uses the wall clock.
func NewResolverWithClock(fetcher Fetcher, kv storage.KV, clock Clock, ttl time.Duration) *Resolver {
	if clock == nil {
		clock = realClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		fetcher: fetcher,
		kv:      kv,
		clock:   clock,
		ttl:     ttl,
		logger:  slog.Default(),
	}
}

// Resolve loads the bot and presentation selected by src. Any failure is a
// *FetchError.
func (r *Resolver) Resolve(ctx context.Context, src Source) (*Resolved, error) {
	switch {
	case src.Bot != nil:
		bot := withDefaults(*src.Bot)
		return &Resolved{Bot: bot, UI: mergeUI(nil, src.Overrides)}, nil

	case src.IntegrationID != "":
		in, err := r.fetcher.GetIntegration(ctx, src.IntegrationID)
		if err != nil {
			return nil, &FetchError{What: "integration " + src.IntegrationID, Err: err}
		}
		bot, err := r.ResolveBot(ctx, in.BotID)
		if err != nil {
			return nil, err
		}
		return &Resolved{
			Bot:           *bot,
			UI:            mergeUI(in, src.Overrides),
			Departments:   in.DepartmentBots,
			IntegrationID: in.ID,
		}, nil

	case src.BotID != "":
		bot, err := r.ResolveBot(ctx, src.BotID)
		if err != nil {
			return nil, err
		}
		return &Resolved{Bot: *bot, UI: mergeUI(nil, src.Overrides)}, nil
	}
	return nil, &FetchError{What: "configuration", Err: ErrNoSource}
}

// ResolveBot returns the configuration of botID, from cache when a fresh
// entry with at least one action exists. Concurrent misses for the same bot
// share one fetch.
func (r *Resolver) ResolveBot(ctx context.Context, botID string) (*model.BotConfig, error) {
	if bot, ok := r.cached(ctx, botID); ok {
		return bot, nil
	}

	v, err, _ := r.group.Do(botID, func() (any, error) {
		// Double-check: a flight that just finished may have filled the cache.
		if bot, ok := r.cached(ctx, botID); ok {
			return *bot, nil
		}
		bot, err := r.fetcher.GetBot(ctx, botID)
		if err != nil {
			return nil, &FetchError{What: "bot " + botID, Err: err}
		}
		b := withDefaults(*bot)
		r.store(ctx, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	bot := v.(model.BotConfig)
	bot.Actions = append([]model.Action(nil), bot.Actions...)
	return &bot, nil
}

// Invalidate drops the cached configuration of botID.
func (r *Resolver) Invalidate(ctx context.Context, botID string) error {
	return r.kv.Delete(ctx, cacheKeyPrefix+botID)
}

func (r *Resolver) cached(ctx context.Context, botID string) (*model.BotConfig, bool) {
	raw, ok, err := r.kv.Get(ctx, cacheKeyPrefix+botID)
	if err != nil {
		r.logger.Warn("config cache read failed", "bot_id", botID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Debug("discarding undecodable config cache entry", "bot_id", botID, "error", err)
		return nil, false
	}
	age := r.clock.Now().Sub(time.UnixMilli(entry.Timestamp))
	if age < 0 || age >= r.ttl {
		return nil, false
	}
	// A snapshot without actions may predate its action rows; never trust it.
	if len(entry.Value.Actions) == 0 {
		return nil, false
	}
	bot := withDefaults(entry.Value)
	return &bot, true
}

func (r *Resolver) store(ctx context.Context, bot model.BotConfig) {
	raw, err := json.Marshal(cacheEntry{Value: bot, Timestamp: r.clock.Now().UnixMilli()})
	if err != nil {
		r.logger.Warn("encoding config cache entry", "bot_id", bot.ID, "error", err)
		return
	}
	if err := r.kv.Set(ctx, cacheKeyPrefix+bot.ID, string(raw)); err != nil {
		r.logger.Warn("persistence write failed", "key", cacheKeyPrefix+bot.ID, "error", err)
	}
}

func withDefaults(b model.BotConfig) model.BotConfig {
	if b.Actions == nil {
		b.Actions = []model.Action{}
	}
	if b.EcommerceSettings != nil {
		s := *b.EcommerceSettings
		b.EcommerceSettings = &s
	}
	return b
}

// mergeUI applies integration values first, then caller overrides, then
// defaults.
func mergeUI(in *model.IntegrationConfig, o UIOverrides) UISettings {
	ui := UISettings{QuickActions: o.QuickActions}
	if in != nil {
		ui.Theme = in.Theme
		ui.Position = in.Position
		ui.BrandColor = in.BrandColor
		ui.WelcomeMessage = in.WelcomeMessage
		ui.CollectLeads = in.CollectLeads
	} else if o.CollectLeads != nil {
		ui.CollectLeads = *o.CollectLeads
	}

	ui.Theme = firstNonEmpty(ui.Theme, o.Theme, DefaultTheme)
	ui.Position = firstNonEmpty(ui.Position, o.Position, DefaultPosition)
	ui.BrandColor = firstNonEmpty(ui.BrandColor, o.BrandColor, DefaultBrandColor)
	ui.WelcomeMessage = firstNonEmpty(ui.WelcomeMessage, o.WelcomeMessage)
	return ui
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
