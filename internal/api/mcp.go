package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatembed/internal/markdown"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/widget"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	// Host is the widget the tools talk through. It is created by the
	// caller from an embed document.
	Host *widget.Host
}

// NewMCPServer creates an MCP server exposing one chat widget.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatembed",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chatembed: talk to a configured chat bot as a website visitor would."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a visitor message to the bot and return its reply, including any action it offered."),
			mcp.WithString("text", mcp.Description("The message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_contact",
			mcp.WithDescription("Submit the lead form. At least one of email or phone is required."),
			mcp.WithString("email", mcp.Description("Visitor email address")),
			mcp.WithString("phone", mcp.Description("Visitor phone number")),
		),
		mcpSubmitContact(deps),
	)

	s.AddTool(
		mcp.NewTool("select_department",
			mcp.WithDescription("Choose the department bot to talk to."),
			mcp.WithString("bot_id", mcp.Description("Bot id of the department"), mcp.Required()),
		),
		mcpSelectDepartment(deps),
	)

	s.AddTool(
		mcp.NewTool("render_markdown",
			mcp.WithDescription("Render model markdown to the sanitized HTML the widget would display."),
			mcp.WithString("text", mcp.Description("Markdown text"), mcp.Required()),
		),
		mcpRenderMarkdown(),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"widget://session",
			"Widget Session",
			mcp.WithResourceDescription("Current widget state: phase, resolved bot, conversation and messages"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

// replyCollector keeps the bot messages of one turn.
type replyCollector struct {
	replies []widget.ChatMessage
}

func (c *replyCollector) Delta(string, string) {}

func (c *replyCollector) Message(m widget.ChatMessage) {
	if m.Role == model.RoleModel {
		c.replies = append(c.replies, m)
	}
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}

		var c replyCollector
		if _, err := deps.Host.Send(ctx, text, nil, &c); err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}
		if len(c.replies) == 0 {
			return mcpText("(no reply)"), nil
		}

		reply := c.replies[len(c.replies)-1]
		if reply.Local {
			return mcpError(reply.Text), nil
		}

		result := mcpText(reply.Text)
		if reply.Affordance != nil {
			b, err := json.Marshal(reply.Affordance)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal affordance: %v", err)), nil
			}
			result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: string(b)})
		}
		return result, nil
	}
}

func mcpSubmitContact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := deps.Host.SubmitContact(ctx, req.GetString("email", ""), req.GetString("phone", ""))
		if err != nil {
			if fields, ok := widget.FormErrors(err); ok {
				return mcpError(formatFields(fields)), nil
			}
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}
		return mcpText(phaseSummary(s)), nil
	}
}

func mcpSelectDepartment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		botID, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		s, err := deps.Host.SelectDepartment(ctx, botID)
		if err != nil {
			if errors.Is(err, widget.ErrUnknownDepartment) {
				return mcpError(fmt.Sprintf("unknown department %q", botID)), nil
			}
			return mcpError(fmt.Sprintf("select failed: %v", err)), nil
		}
		return mcpText(phaseSummary(s)), nil
	}
}

func mcpRenderMarkdown() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		return mcpText(markdown.Render(text)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Host.Session())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// phaseSummary describes what the visitor can do next.
func phaseSummary(s widget.Session) string {
	switch s.Phase {
	case widget.PhaseContact:
		return "Contact details required: call submit_contact."
	case widget.PhaseDepartment:
		ids := make([]string, 0, len(s.Resolved.Departments))
		for _, d := range s.Resolved.Departments {
			ids = append(ids, fmt.Sprintf("%s (%s)", d.BotID, d.Name))
		}
		return "Choose a department with select_department: " + strings.Join(ids, ", ")
	case widget.PhaseChatting:
		return fmt.Sprintf("Chatting with %s.", s.Bot().Name)
	default:
		return s.Banner
	}
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fields[k]))
	}
	return strings.Join(parts, "; ")
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
