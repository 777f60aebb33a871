package inference

import (
	"google.golang.org/genai"

	"github.com/kalambet/chatembed/internal/model"
)

const (
	ActionChatStream = "chat-stream"
	// HistoryTurns is how many previous messages are sent with each request.
	HistoryTurns = 10
)

// Image is an optional inline image attached to a user message.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// ChatRequest is the body of a chat-stream call.
type ChatRequest struct {
	Action         string           `json:"action"`
	Bot            model.BotConfig  `json:"bot"`
	History        []*genai.Content `json:"history"`
	Message        string           `json:"message"`
	Image          *Image           `json:"image,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
	Stream         bool             `json:"stream"`
}

// History converts the last HistoryTurns messages to provider contents.
func History(messages []model.Message) []*genai.Content {
	if len(messages) > HistoryTurns {
		messages = messages[len(messages)-HistoryTurns:]
	}
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == model.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}
