package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/widget"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, body string, src botconfig.Source) MCPDeps {
	t.Helper()
	ctrl, _ := newTestController(t, &mockStreamer{body: body})
	s, err := ctrl.Init(context.Background(), src)
	if err != nil {
		t.Fatalf("init widget: %v", err)
	}
	return MCPDeps{Host: widget.NewHost(ctrl, s)}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SendMessage(t *testing.T) {
	deps := newTestMCPDeps(t, helloStream, botconfig.Source{BotID: "bot-1"})
	handler := mcpSendMessage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"text": "hi",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Hello there" {
		t.Fatalf("reply = %q, want %q", got, "Hello there")
	}

	s := deps.Host.Session()
	if len(s.Messages) != 2 || s.ConversationID == "" {
		t.Errorf("session after turn = %+v", s)
	}
}

func TestMCPTool_SendMessage_Affordance(t *testing.T) {
	body := "data: {\"text\":\"Give us a ring.\"}\n\ndata: {\"functionCalls\":[{\"name\":\"trigger_action\",\"args\":{\"action_id\":\"call\"}}]}\n\ndata: [DONE]\n\n"
	deps := newTestMCPDeps(t, body, botconfig.Source{BotID: "bot-1"})

	result, err := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"text": "phone?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Content) != 2 {
		t.Fatalf("expected text and affordance, got %d contents", len(result.Content))
	}
	raw := result.Content[1].(mcp.TextContent).Text
	var aff struct {
		Kind string `json:"kind"`
		Href string `json:"href"`
	}
	if err := json.Unmarshal([]byte(raw), &aff); err != nil {
		t.Fatalf("affordance is not JSON: %v", err)
	}
	if aff.Kind != "button" || aff.Href != "tel:+15551234567" {
		t.Errorf("affordance = %+v", aff)
	}
}

func TestMCPTool_SendMessage_ApologyIsError(t *testing.T) {
	deps := newTestMCPDeps(t, "data: {\"error\":\"quota\"}\n\n", botconfig.Source{BotID: "bot-1"})

	result, err := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"text": "hi",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || toolText(t, result) != widget.ApologyText {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_SendMessage_RequiresChatting(t *testing.T) {
	collect := true
	deps := newTestMCPDeps(t, helloStream, botconfig.Source{
		BotID:     "bot-1",
		Overrides: botconfig.UIOverrides{CollectLeads: &collect},
	})

	result, _ := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"text": "hi",
	}))
	if !result.IsError {
		t.Fatal("expected error before the lead form is submitted")
	}

	result, _ = mcpSubmitContact(deps)(context.Background(), makeCallToolRequest("submit_contact", map[string]interface{}{
		"email": "broken",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "email:") {
		t.Errorf("invalid contact result = %q", toolText(t, result))
	}

	result, _ = mcpSubmitContact(deps)(context.Background(), makeCallToolRequest("submit_contact", map[string]interface{}{
		"email": "ann@example.com",
	}))
	if result.IsError {
		t.Fatalf("submit_contact failed: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Chatting with Support." {
		t.Errorf("summary = %q", got)
	}
}

func TestMCPTool_SelectDepartment_WrongPhase(t *testing.T) {
	deps := newTestMCPDeps(t, helloStream, botconfig.Source{BotID: "bot-1"})

	result, _ := mcpSelectDepartment(deps)(context.Background(), makeCallToolRequest("select_department", map[string]interface{}{
		"bot_id": "bot-2",
	}))
	if !result.IsError {
		t.Fatal("expected error outside the department step")
	}
}

func TestMCPTool_RenderMarkdown(t *testing.T) {
	result, err := mcpRenderMarkdown()(context.Background(), makeCallToolRequest("render_markdown", map[string]interface{}{
		"text": "**bold** <script>x</script>",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := toolText(t, result)
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("html = %q, want bold", got)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("html = %q, script not escaped", got)
	}
}

func TestMCPResource_Session(t *testing.T) {
	deps := newTestMCPDeps(t, helloStream, botconfig.Source{BotID: "bot-1"})

	contents, err := mcpResourceSession(deps)(context.Background(), makeReadResourceRequest("widget://session"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.MIMEType != "application/json" {
		t.Errorf("MIMEType = %q", tc.MIMEType)
	}

	var s widget.Session
	if err := json.Unmarshal([]byte(tc.Text), &s); err != nil {
		t.Fatalf("session is not JSON: %v", err)
	}
	if s.Phase != widget.PhaseChatting || s.HomeBotID != "bot-1" {
		t.Errorf("session = %+v", s)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps := newTestMCPDeps(t, helloStream, botconfig.Source{BotID: "bot-1"})
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
