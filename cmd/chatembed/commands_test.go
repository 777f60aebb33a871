package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatembed/internal/actions"
	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/conversation"
	"github.com/kalambet/chatembed/internal/inference"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/session"
	"github.com/kalambet/chatembed/internal/storage"
	"github.com/kalambet/chatembed/internal/widget"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

func TestRenderCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"render", "**hi**", "<b>x</b>"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	got := strings.TrimSpace(out.String())
	if !strings.HasPrefix(got, "<strong>hi</strong>") {
		t.Errorf("output = %q, want bold first", got)
	}
	if strings.Contains(got, "<b>") {
		t.Errorf("output = %q, raw HTML not escaped", got)
	}
}

func TestRenderCommand_Stdin(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("# Title"))
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetIn(nil)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"render"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "<h1>Title</h1>" {
		t.Errorf("output = %q, want <h1>Title</h1>", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorRed, "test")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorRed, "test")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientHealth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	if err := ts.client().health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Path != "/health" {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestAPIClientPostWidget(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /widgets": `{"id":"w-1","session":{"phase":"chatting"}}`,
	})

	resp, err := ts.client().post(ctx, "/widgets", widget.Embed{BotID: "bot-1"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != "w-1" {
		t.Errorf("id = %q", created.ID)
	}
	if body := ts.requests[0].Body; !strings.Contains(body, `"botId":"bot-1"`) {
		t.Errorf("body = %s", body)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want status code", err.Error())
	}
}

func TestLoadSeed(t *testing.T) {
	doc := `
bots:
  - id: support
    name: Support
    actions:
      - id: call
        type: phone
        label: Call us
        payload: "+1 555 123 4567"
integrations:
  - id: site
    botId: support
    welcomeMessage: Hi!
    departmentBots:
      - botId: sales
        departmentLabel: Sales
`
	seed, err := loadSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	if len(seed.Bots) != 1 || len(seed.Bots[0].Actions) != 1 || seed.Bots[0].Actions[0].Type != model.ActionPhone {
		t.Errorf("bots = %+v", seed.Bots)
	}
	if len(seed.Integrations) != 1 || len(seed.Integrations[0].DepartmentBots) != 1 {
		t.Errorf("integrations = %+v", seed.Integrations)
	}

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	if err := applySeed(ctx, store, seed); err != nil {
		t.Fatalf("applySeed: %v", err)
	}
	bot, err := store.GetBot(ctx, "support")
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if bot.Name != "Support" || len(bot.Actions) != 1 {
		t.Errorf("bot = %+v", bot)
	}
	in, err := store.GetIntegration(ctx, "site")
	if err != nil {
		t.Fatalf("GetIntegration: %v", err)
	}
	if in.WelcomeMessage != "Hi!" {
		t.Errorf("integration = %+v", in)
	}
}

func TestLoadSeed_Invalid(t *testing.T) {
	for _, doc := range []string{
		"",
		"bots:\n  - name: no id\n",
		"integrations:\n  - id: site\n",
		"bots: [",
	} {
		if _, err := loadSeed(strings.NewReader(doc)); err == nil {
			t.Errorf("loadSeed(%q) succeeded, want error", doc)
		}
	}
}

func newEmbedCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("bot-id", "", "")
	cmd.Flags().String("integration-id", "", "")
	cmd.Flags().String("embed", "", "")
	return cmd
}

func TestEmbedFromFlags(t *testing.T) {
	cmd := newEmbedCommand()
	if _, err := embedFromFlags(cmd); err == nil {
		t.Error("expected error without any bot")
	}

	path := filepath.Join(t.TempDir(), "embed.yaml")
	if err := os.WriteFile(path, []byte("integrationId: int-1\ntheme: dark\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd.Flags().Set("embed", path)
	e, err := embedFromFlags(cmd)
	if err != nil {
		t.Fatalf("embedFromFlags: %v", err)
	}
	if e.IntegrationID != "int-1" || e.Theme != "dark" {
		t.Errorf("embed = %+v", e)
	}

	cmd.Flags().Set("bot-id", "bot-9")
	e, err = embedFromFlags(cmd)
	if err != nil {
		t.Fatalf("embedFromFlags: %v", err)
	}
	if e.BotID != "bot-9" || e.IntegrationID != "" || e.Theme != "dark" {
		t.Errorf("flag override = %+v", e)
	}
}

func TestTermRenderer(t *testing.T) {
	withNoColor(t)

	var out bytes.Buffer
	r := &termRenderer{out: &out}
	r.Delta("Hel", "")
	r.Delta("Hello", "")
	r.Message(widget.ChatMessage{Message: model.Message{Role: model.RoleModel, Text: "Hello"}})
	if out.String() != "Hello\n" {
		t.Errorf("streamed output = %q", out.String())
	}

	out.Reset()
	r.Delta("Call [", "")
	r.Message(widget.ChatMessage{Message: model.Message{Role: model.RoleModel, Text: "Call"}})
	if out.String() != "Call [\nCall\n" {
		t.Errorf("rewritten output = %q", out.String())
	}

	out.Reset()
	r.Delta("Partial", "")
	r.Message(widget.ChatMessage{
		Message: model.Message{Role: model.RoleModel, Text: widget.ApologyText},
		Local:   true,
	})
	if out.String() != "Partial\n"+widget.ApologyText+"\n" {
		t.Errorf("apology output = %q", out.String())
	}
}

func TestWriteAffordance(t *testing.T) {
	withNoColor(t)

	var out bytes.Buffer
	writeAffordance(&out, &actions.Affordance{
		Kind:    actions.KindButton,
		Label:   "Call us",
		Message: "Give us a ring.",
		Href:    "tel:+15551234567",
	})
	if got := out.String(); got != "Give us a ring.\n  [Call us] tel:+15551234567\n" {
		t.Errorf("button = %q", got)
	}

	out.Reset()
	writeAffordance(&out, &actions.Affordance{
		Kind:     actions.KindCarousel,
		Currency: "EUR",
		Products: []model.Product{{Name: "Boots", Price: 1234.56}},
	})
	if got := out.String(); got != "  • Boots  1,234.56 EUR\n" {
		t.Errorf("carousel = %q", got)
	}

	out.Reset()
	writeAffordance(&out, &actions.Affordance{
		Kind:      actions.KindMedia,
		MediaType: "pdf",
		Label:     "Manual",
		Href:      "https://example.com/m.pdf",
		SizeLabel: "2.1 MB",
		Pages:     12,
	})
	if got := out.String(); got != "  [pdf] Manual https://example.com/m.pdf (2.1 MB, 12 pages)\n" {
		t.Errorf("media = %q", got)
	}
}

type scriptedStreamer struct {
	body string
}

func (s scriptedStreamer) ChatStream(context.Context, inference.ChatRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestTerminal_LeadFormThenChat(t *testing.T) {
	withNoColor(t)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	if err := store.SaveBot(ctx, model.BotConfig{ID: "bot-1", Name: "Support"}); err != nil {
		t.Fatalf("SaveBot: %v", err)
	}

	kv := storage.NewMemoryKV()
	sessions := session.NewStore(kv)
	ctrl := widget.NewController(widget.Deps{
		Configs:       botconfig.NewResolver(store, kv),
		Sessions:      sessions,
		Conversations: conversation.NewResolver(store, sessions),
		Messages:      store,
		Inference:     scriptedStreamer{body: "data: {\"text\":\"Hi Ann!\"}\n\ndata: [DONE]\n\n"},
		Actions:       actions.NewResolver(store),
	})

	collect := true
	s, err := ctrl.Init(ctx, botconfig.Source{BotID: "bot-1", Overrides: botconfig.UIOverrides{CollectLeads: &collect}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	input := "broken\n\nann@example.com\n\nhello\n/quit\n"
	var out bytes.Buffer
	term := &terminal{ctrl: ctrl, in: bufio.NewScanner(strings.NewReader(input)), out: &out}
	if err := term.run(ctx, ctrl.Open(s)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !strings.Contains(out.String(), "Hi Ann!") {
		t.Errorf("output = %q, want bot reply", out.String())
	}
	n, err := store.CountConversations(ctx, "bot-1")
	if err != nil {
		t.Fatalf("CountConversations: %v", err)
	}
	if n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
	if rec := sessions.Load(ctx, "bot-1"); rec == nil || rec.LeadData == nil || rec.LeadData.Email != "ann@example.com" {
		t.Errorf("session record = %+v", rec)
	}
}

func TestDepartmentTitle(t *testing.T) {
	tests := []struct {
		d    model.Department
		want string
	}{
		{model.Department{BotID: "b", Label: "Sales", Name: "Anna"}, "Sales (Anna)"},
		{model.Department{BotID: "b", Label: "Sales"}, "Sales"},
		{model.Department{BotID: "b", Name: "Anna"}, "Anna"},
		{model.Department{BotID: "b"}, "b"},
	}
	for _, tt := range tests {
		if got := departmentTitle(tt.d); got != tt.want {
			t.Errorf("departmentTitle(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
