// Package supabase is the REST persistence collaborator: bot and integration
// configuration, conversations, messages and the product catalog, read and
// written through PostgREST.
package supabase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/storage"
)

const defaultProductLimit = 6

// Config holds Supabase connection configuration.
type Config struct {
	URL    string
	APIKey string
}

// Client implements the bot, conversation and catalog stores on Supabase.
type Client struct {
	client *supabase.Client
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(strings.TrimRight(cfg.URL, "/"), cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &Client{client: client}, nil
}

// GetIntegration returns the integration with the given id or
// storage.ErrNotFound.
func (c *Client) GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []integrationRow
	_, err := c.client.From("integrations").
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("getting integration: %w", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	in := rows[0].toModel()
	return &in, nil
}

// GetBot returns the bot with its actions in position order, or
// storage.ErrNotFound.
func (c *Client) GetBot(ctx context.Context, id string) (*model.BotConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []botRow
	_, err := c.client.From("bots").
		Select("*,bot_actions(*)", "", false).
		Eq("id", id).
		Order("position", &postgrest.OrderOpts{Ascending: true, ForeignTable: "bot_actions"}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("getting bot: %w", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	b := rows[0].toModel()
	return &b, nil
}

// FindLatestConversation returns the newest ownerless conversation of botID
// whose email or phone matches id, or (nil, nil).
func (c *Client) FindLatestConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var match []string
	if email := strings.TrimSpace(id.Email); email != "" {
		match = append(match, "email.eq."+quote(email))
	}
	if phone := strings.TrimSpace(id.Phone); phone != "" {
		match = append(match, "phone.eq."+quote(phone))
	}
	if len(match) == 0 {
		return nil, nil
	}

	var rows []conversationRow
	_, err := c.client.From("conversations").
		Select("*", "", false).
		Eq("bot_id", botID).
		Is("user_id", "null").
		Or(strings.Join(match, ","), "").
		Order("started_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	conv := rows[0].toModel()
	return &conv, nil
}

// CreateConversation inserts a conversation and returns the stored row.
// Empty identity fields are left NULL.
func (c *Client) CreateConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := conversationInsert{
		BotID: botID,
		Email: optional(id.Email),
		Phone: optional(id.Phone),
	}
	var rows []conversationRow
	_, err := c.client.From("conversations").
		Insert(row, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("creating conversation: no row returned")
	}
	conv := rows[0].toModel()
	return &conv, nil
}

// SaveMessage inserts a message row.
func (c *Client) SaveMessage(ctx context.Context, m model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := c.client.From("messages").
		Insert(messageFromModel(m), false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// ListMessages returns the newest limit messages of a conversation, oldest
// first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := c.client.From("messages").
		Select("*", "", false).
		Eq("conversation_id", conversationID).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		q = q.Limit(limit, "")
	}
	var rows []messageRow
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toModel()
	}
	return out, nil
}

// SearchProducts returns in-stock products of the bot matching q, ordered by
// name.
func (c *Client) SearchProducts(ctx context.Context, q model.ProductQuery) ([]model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}

	f := c.client.From("products").
		Select("*", "", false).
		Eq("bot_id", q.BotID).
		Eq("in_stock", "true")
	if cat := strings.TrimSpace(q.Category); cat != "" {
		f = f.Ilike("category", cat)
	}

	var bounds []string
	if q.MinPrice != nil {
		bounds = append(bounds, "price.gte."+formatFloat(*q.MinPrice))
	}
	if q.MaxPrice != nil {
		bounds = append(bounds, "price.lte."+formatFloat(*q.MaxPrice))
	}
	if len(bounds) > 0 {
		f = f.And(strings.Join(bounds, ","), "")
	}

	var keywords []string
	for _, k := range q.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) > 0 {
		f = f.Overlaps("tags", keywords)
	}

	var rows []productRow
	_, err := f.Order("name", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}

	out := make([]model.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// quote wraps a filter value in double quotes so reserved characters survive
// inside or=(...) lists.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
