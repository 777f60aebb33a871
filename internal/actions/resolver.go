// Package actions turns function calls emitted by the model into renderable
// affordances: action buttons, inline media and product carousels.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/stream"
)

const (
	FuncTriggerAction = "trigger_action"
	FuncShowProducts  = "show_products"

	defaultProductLimit = 6
	maxProductLimit     = 20
)

type Kind string

const (
	KindButton   Kind = "button"
	KindMedia    Kind = "media"
	KindCarousel Kind = "carousel"
)

// Affordance is a rendered-ready UI element for one function call.
type Affordance struct {
	Kind     Kind             `json:"kind"`
	ActionID string           `json:"actionId,omitempty"`
	Type     model.ActionType `json:"type,omitempty"`
	Message  string           `json:"message,omitempty"`
	Label    string           `json:"label,omitempty"`
	Icon     string           `json:"icon,omitempty"`
	// Href is validated for its action type; empty for handoff.
	Href string `json:"href,omitempty"`

	MediaType string `json:"mediaType,omitempty"`
	SizeLabel string `json:"sizeLabel,omitempty"`
	Pages     int    `json:"pages,omitempty"`

	Products []model.Product `json:"products,omitempty"`
	Currency string          `json:"currency,omitempty"`
}

// ProductSearcher queries the commerce catalog.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, q model.ProductQuery) ([]model.Product, error)
}

// PDFInspector reports the page count of a remote PDF.
type PDFInspector interface {
	PageCount(ctx context.Context, url string) (int, error)
}

// Resolver maps function calls to affordances.
type Resolver struct {
	products ProductSearcher
	pdf      PDFInspector
	logger   *slog.Logger
}

// NewResolver creates a Resolver. products may be nil when no catalog is
// available; product calls then resolve to nothing.
func NewResolver(products ProductSearcher) *Resolver {
	return &Resolver{products: products, logger: slog.Default()}
}

// WithPDFInspector enables page counts on pdf media labels.
func (r *Resolver) WithPDFInspector(p PDFInspector) *Resolver {
	r.pdf = p
	return r
}

// Resolve returns the affordance for call, or nil when there is nothing to
// show: unknown action ids, disabled commerce and empty product results all
// resolve to nil without error.
func (r *Resolver) Resolve(ctx context.Context, call stream.FunctionCall, bot model.BotConfig) (*Affordance, error) {
	switch call.Name {
	case FuncTriggerAction:
		id := stringArg(call.Args, "action_id")
		action, ok := bot.Action(id)
		if !ok {
			r.logger.Debug("ignoring unknown action", "bot_id", bot.ID, "action_id", id)
			return nil, nil
		}
		return r.resolveAction(ctx, action, bot)

	case FuncShowProducts:
		q := queryFromArgs(call.Args)
		return r.resolveProducts(ctx, q, bot, "")

	default:
		r.logger.Debug("ignoring unknown function call", "name", call.Name)
		return nil, nil
	}
}

func (r *Resolver) resolveAction(ctx context.Context, a model.Action, bot model.BotConfig) (*Affordance, error) {
	switch a.Type {
	case model.ActionProducts:
		var args map[string]any
		if strings.TrimSpace(a.Payload) != "" {
			if err := json.Unmarshal([]byte(a.Payload), &args); err != nil {
				return nil, fmt.Errorf("decoding product filter of action %s: %w", a.ID, err)
			}
		}
		aff, err := r.resolveProducts(ctx, queryFromArgs(args), bot, a.TriggerMessage)
		if aff != nil {
			aff.ActionID = a.ID
		}
		return aff, err

	case model.ActionMedia:
		return r.resolveMedia(ctx, a), nil
	}

	aff := &Affordance{
		Kind:     KindButton,
		ActionID: a.ID,
		Type:     a.Type,
		Label:    a.Label,
		Icon:     iconFor(a.Type),
		Message:  a.TriggerMessage,
	}
	if aff.Message == "" {
		aff.Message = DefaultMessage(a.Type)
	}
	if aff.Label == "" {
		aff.Label = defaultLabel(a.Type)
	}

	switch a.Type {
	case model.ActionPhone:
		aff.Href = PhoneHref(a.Payload)
	case model.ActionWhatsApp:
		aff.Href = WhatsAppHref(a.Payload)
	case model.ActionHandoff:
	default:
		aff.Href = LinkHref(a.Payload)
	}
	if aff.Href == "" && a.Type != model.ActionHandoff {
		r.logger.Warn("action has no usable target", "action_id", a.ID, "type", a.Type)
	}
	return aff, nil
}

func (r *Resolver) resolveMedia(ctx context.Context, a model.Action) *Affordance {
	href := LinkHref(a.Payload)
	if href == "" || strings.HasPrefix(href, "mailto:") {
		r.logger.Warn("media action has no usable URL", "action_id", a.ID)
		return nil
	}
	aff := &Affordance{
		Kind:      KindMedia,
		ActionID:  a.ID,
		Type:      a.Type,
		Label:     a.Label,
		Message:   a.TriggerMessage,
		Href:      href,
		MediaType: normalizeMediaType(a.MediaType),
	}
	if aff.Label == "" {
		aff.Label = "Download"
	}
	if a.FileSize > 0 {
		aff.SizeLabel = humanize.Bytes(uint64(a.FileSize))
	}
	if aff.MediaType == "pdf" && r.pdf != nil {
		if n, err := r.pdf.PageCount(ctx, href); err != nil {
			r.logger.Debug("pdf inspection failed", "url", href, "error", err)
		} else {
			aff.Pages = n
		}
	}
	return aff
}

func (r *Resolver) resolveProducts(ctx context.Context, q model.ProductQuery, bot model.BotConfig, message string) (*Affordance, error) {
	if !bot.EcommerceEnabled || r.products == nil {
		return nil, nil
	}
	q.BotID = bot.ID

	limit := defaultProductLimit
	if s := bot.EcommerceSettings; s != nil && s.CarouselLimit > 0 {
		limit = s.CarouselLimit
	}
	if q.Limit <= 0 {
		q.Limit = limit
	}
	q.Limit = min(q.Limit, maxProductLimit)

	products, err := r.products.SearchProducts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}

	aff := &Affordance{Kind: KindCarousel, Type: model.ActionProducts, Message: message, Products: products}
	if s := bot.EcommerceSettings; s != nil {
		aff.Currency = s.Currency
	}
	return aff, nil
}

// DefaultMessage is shown above a button whose action has no trigger
// message.
func DefaultMessage(t model.ActionType) string {
	switch t {
	case model.ActionPhone:
		return "You can reach us by phone:"
	case model.ActionWhatsApp:
		return "Chat with us on WhatsApp:"
	case model.ActionHandoff:
		return "I'm connecting you with a member of our team. Someone will be with you shortly."
	default:
		return "Here's a link that might help:"
	}
}

func defaultLabel(t model.ActionType) string {
	switch t {
	case model.ActionPhone:
		return "Call us"
	case model.ActionWhatsApp:
		return "Open WhatsApp"
	case model.ActionHandoff:
		return "Talk to a person"
	default:
		return "Open link"
	}
}

func iconFor(t model.ActionType) string {
	switch t {
	case model.ActionPhone, model.ActionWhatsApp, model.ActionHandoff:
		return string(t)
	default:
		return "link"
	}
}

// LinkHref returns payload when it is an absolute http, https or mailto URL.
func LinkHref(payload string) string {
	p := strings.TrimSpace(payload)
	u, err := url.Parse(p)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ""
		}
		return p
	case "mailto":
		return p
	}
	return ""
}

// PhoneHref builds a tel: URL keeping a leading + and the digits.
func PhoneHref(payload string) string {
	p := strings.TrimSpace(payload)
	digits := onlyDigits(p)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(p, "+") {
		return "tel:+" + digits
	}
	return "tel:" + digits
}

// WhatsAppHref builds a wa.me link from a phone number.
func WhatsAppHref(payload string) string {
	digits := onlyDigits(payload)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func normalizeMediaType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case strings.HasPrefix(t, "image"):
		return "image"
	case strings.HasPrefix(t, "video"):
		return "video"
	case strings.HasPrefix(t, "audio"):
		return "audio"
	case t == "pdf" || t == "application/pdf":
		return "pdf"
	default:
		return "file"
	}
}

func queryFromArgs(args map[string]any) model.ProductQuery {
	q := model.ProductQuery{
		Category: stringArg(args, "category"),
		MinPrice: floatArg(args, "min_price"),
		MaxPrice: floatArg(args, "max_price"),
	}
	if f := floatArg(args, "limit"); f != nil {
		q.Limit = int(*f)
	}
	switch kw := args["keywords"].(type) {
	case string:
		q.Keywords = strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		for _, v := range kw {
			if s, ok := v.(string); ok {
				q.Keywords = append(q.Keywords, s)
			}
		}
	}
	return q
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func floatArg(args map[string]any, key string) *float64 {
	switch v := args[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}
