package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/stream"
)

type mockCatalog struct {
	mu       sync.Mutex
	products []model.Product
	queries  []model.ProductQuery
	err      error
}

func (m *mockCatalog) SearchProducts(_ context.Context, q model.ProductQuery) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return m.products, nil
}

type mockPDF struct {
	pages int
	err   error
}

func (m mockPDF) PageCount(context.Context, string) (int, error) { return m.pages, m.err }

func testBot() model.BotConfig {
	return model.BotConfig{
		ID:               "bot-1",
		EcommerceEnabled: true,
		EcommerceSettings: &model.EcommerceSettings{
			Currency: "EUR",
		},
		Actions: []model.Action{
			{ID: "call", Type: model.ActionPhone, Label: "Call", Payload: "+1 (555) 123-4567"},
			{ID: "wa", Type: model.ActionWhatsApp, Payload: "+44 7700 900123", TriggerMessage: "Ping us!"},
			{ID: "human", Type: model.ActionHandoff, Label: "Agent"},
			{ID: "docs", Type: model.ActionLink, Label: "Docs", Payload: "https://docs.example/start"},
			{ID: "evil", Type: model.ActionLink, Label: "Evil", Payload: "javascript:alert(1)"},
			{ID: "brochure", Type: model.ActionMedia, MediaType: "application/pdf", Label: "Brochure", Payload: "https://cdn.example/b.pdf", FileSize: 1_500_000},
			{ID: "photo", Type: model.ActionMedia, MediaType: "image/png", Payload: "https://cdn.example/p.png"},
			{ID: "sale", Type: model.ActionProducts, Payload: `{"category":"shoes","max_price":100}`, TriggerMessage: "On sale:"},
		},
	}
}

func trigger(id string) stream.FunctionCall {
	return stream.FunctionCall{Name: FuncTriggerAction, Args: map[string]any{"action_id": id}}
}

func TestResolve_Buttons(t *testing.T) {
	r := NewResolver(nil)
	bot := testBot()

	tests := []struct {
		id      string
		href    string
		message string
		label   string
		icon    string
	}{
		{"call", "tel:+15551234567", DefaultMessage(model.ActionPhone), "Call", "phone"},
		{"wa", "https://wa.me/447700900123", "Ping us!", "Open WhatsApp", "whatsapp"},
		{"human", "", DefaultMessage(model.ActionHandoff), "Agent", "handoff"},
		{"docs", "https://docs.example/start", DefaultMessage(model.ActionLink), "Docs", "link"},
		{"evil", "", DefaultMessage(model.ActionLink), "Evil", "link"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			aff, err := r.Resolve(context.Background(), trigger(tt.id), bot)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if aff == nil || aff.Kind != KindButton {
				t.Fatalf("aff = %+v, want button", aff)
			}
			if aff.Href != tt.href {
				t.Errorf("Href = %q, want %q", aff.Href, tt.href)
			}
			if aff.Message != tt.message {
				t.Errorf("Message = %q, want %q", aff.Message, tt.message)
			}
			if aff.Label != tt.label || aff.Icon != tt.icon {
				t.Errorf("Label/Icon = %q/%q, want %q/%q", aff.Label, aff.Icon, tt.label, tt.icon)
			}
		})
	}
}

func TestResolve_UnknownActionIgnored(t *testing.T) {
	r := NewResolver(nil)
	for _, call := range []stream.FunctionCall{
		trigger("nope"),
		{Name: FuncTriggerAction},
		{Name: "delete_everything"},
	} {
		aff, err := r.Resolve(context.Background(), call, testBot())
		if err != nil || aff != nil {
			t.Errorf("Resolve(%+v) = %+v, %v; want nil, nil", call, aff, err)
		}
	}
}

func TestResolve_Media(t *testing.T) {
	r := NewResolver(nil).WithPDFInspector(mockPDF{pages: 12})

	aff, err := r.Resolve(context.Background(), trigger("brochure"), testBot())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if aff.Kind != KindMedia || aff.MediaType != "pdf" {
		t.Fatalf("aff = %+v", aff)
	}
	if aff.SizeLabel != "1.5 MB" || aff.Pages != 12 {
		t.Errorf("SizeLabel/Pages = %q/%d, want 1.5 MB/12", aff.SizeLabel, aff.Pages)
	}

	aff, _ = r.Resolve(context.Background(), trigger("photo"), testBot())
	if aff.MediaType != "image" || aff.Pages != 0 {
		t.Errorf("photo aff = %+v", aff)
	}
}

func TestResolve_MediaInspectionFailureKeepsLabel(t *testing.T) {
	r := NewResolver(nil).WithPDFInspector(mockPDF{err: errors.New("404")})
	aff, err := r.Resolve(context.Background(), trigger("brochure"), testBot())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if aff.Pages != 0 || aff.Label != "Brochure" {
		t.Errorf("aff = %+v", aff)
	}
}

func TestResolve_ShowProducts(t *testing.T) {
	catalog := &mockCatalog{products: []model.Product{{Name: "Trail Shoe", Price: 89.5}}}
	r := NewResolver(catalog)

	aff, err := r.Resolve(context.Background(), stream.FunctionCall{
		Name: FuncShowProducts,
		Args: map[string]any{"category": "shoes", "min_price": 10.0, "keywords": []any{"trail", "running"}, "limit": 50.0},
	}, testBot())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if aff == nil || aff.Kind != KindCarousel || len(aff.Products) != 1 || aff.Currency != "EUR" {
		t.Fatalf("aff = %+v", aff)
	}

	q := catalog.queries[0]
	if q.BotID != "bot-1" || q.Category != "shoes" || q.Limit != maxProductLimit {
		t.Errorf("query = %+v", q)
	}
	if q.MinPrice == nil || *q.MinPrice != 10 || q.MaxPrice != nil {
		t.Errorf("price bounds = %v, %v", q.MinPrice, q.MaxPrice)
	}
	if strings.Join(q.Keywords, ",") != "trail,running" {
		t.Errorf("Keywords = %v", q.Keywords)
	}
}

func TestResolve_ProductActionUsesPayloadFilter(t *testing.T) {
	catalog := &mockCatalog{products: []model.Product{{Name: "Sandal", Price: 30}}}
	r := NewResolver(catalog)

	aff, err := r.Resolve(context.Background(), trigger("sale"), testBot())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if aff == nil || aff.Message != "On sale:" || aff.ActionID != "sale" {
		t.Fatalf("aff = %+v", aff)
	}
	q := catalog.queries[0]
	if q.Category != "shoes" || q.MaxPrice == nil || *q.MaxPrice != 100 || q.Limit != defaultProductLimit {
		t.Errorf("query = %+v", q)
	}
}

func TestResolve_ProductsDisabledOrEmpty(t *testing.T) {
	bot := testBot()
	call := stream.FunctionCall{Name: FuncShowProducts}

	catalog := &mockCatalog{products: []model.Product{{Name: "x"}}}
	bot.EcommerceEnabled = false
	if aff, err := NewResolver(catalog).Resolve(context.Background(), call, bot); aff != nil || err != nil {
		t.Errorf("commerce disabled: %+v, %v", aff, err)
	}
	if len(catalog.queries) != 0 {
		t.Error("catalog queried with commerce disabled")
	}

	bot.EcommerceEnabled = true
	if aff, err := NewResolver(&mockCatalog{}).Resolve(context.Background(), call, bot); aff != nil || err != nil {
		t.Errorf("no matches: %+v, %v", aff, err)
	}
}

func TestRenderHTML(t *testing.T) {
	r := NewResolver(&mockCatalog{products: []model.Product{
		{Name: "<Shoe>", Price: 1234.5, URL: "https://shop.example/s", ImageURL: "javascript:alert(1)"},
	}}).WithPDFInspector(mockPDF{pages: 3})
	bot := testBot()

	tests := []struct {
		name     string
		call     stream.FunctionCall
		contains []string
		excludes []string
	}{
		{"phone", trigger("call"), []string{`href="tel:+15551234567"`, "chatembed-icon--phone", "Call</a>"}, nil},
		{"handoff", trigger("human"), []string{`<button type="button"`, `data-action-id="human"`}, []string{"href"}},
		{"unsafe link", trigger("evil"), []string{"<button"}, []string{"javascript"}},
		{"pdf", trigger("brochure"), []string{`href="https://cdn.example/b.pdf"`, "(3 pages, 1.5 MB)"}, nil},
		{"image", trigger("photo"), []string{`<img src="https://cdn.example/p.png"`}, nil},
		{"carousel", stream.FunctionCall{Name: FuncShowProducts}, []string{"&lt;Shoe&gt;", "1,234.50 EUR", `href="https://shop.example/s"`}, []string{"javascript:", "<Shoe>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aff, err := r.Resolve(context.Background(), tt.call, bot)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			out, err := RenderHTML(aff)
			if err != nil {
				t.Fatalf("RenderHTML: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output %q missing %q", out, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(out, bad) {
					t.Errorf("output %q contains %q", out, bad)
				}
			}
		})
	}

	if out, err := RenderHTML(nil); out != "" || err != nil {
		t.Errorf("RenderHTML(nil) = %q, %v", out, err)
	}
}

func TestHTTPPDFInspector(t *testing.T) {
	doc := minimalPDF(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/doc.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(doc)
	}))
	defer srv.Close()

	p := NewHTTPPDFInspector()
	n, err := p.PageCount(context.Background(), srv.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 3 {
		t.Errorf("PageCount = %d, want 3", n)
	}

	if _, err := p.PageCount(context.Background(), srv.URL+"/missing.pdf"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestCountPages_Garbage(t *testing.T) {
	if _, err := countPages([]byte("not a pdf at all")); err == nil {
		t.Error("expected error for garbage input")
	}
}

// minimalPDF builds a valid PDF with the given number of empty pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for range pages {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
