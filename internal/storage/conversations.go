package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatembed/internal/model"
)

// --- Conversations ---

// FindLatestConversation returns the most recent anonymous-owner conversation
// of botID whose email or phone matches id. It returns (nil, nil) when there
// is no match or id is empty.
func (s *Store) FindLatestConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error) {
	email := strings.TrimSpace(id.Email)
	phone := strings.TrimSpace(id.Phone)
	if email == "" && phone == "" {
		return nil, nil
	}

	var c model.Conversation
	var startedAt string
	var gotEmail, gotPhone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, email, phone, started_at
		FROM conversations
		WHERE bot_id = ? AND user_id IS NULL
		  AND ((? <> '' AND email = ?) OR (? <> '' AND phone = ?))
		ORDER BY started_at DESC
		LIMIT 1`,
		botID, email, email, phone, phone,
	).Scan(&c.ID, &c.BotID, &gotEmail, &gotPhone, &startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	c.Email, c.Phone = gotEmail.String, gotPhone.String
	if c.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	return &c, nil
}

// CreateConversation inserts a new conversation. Empty identity fields are
// stored as NULL.
func (s *Store) CreateConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error) {
	c := model.Conversation{
		ID:        uuid.New().String(),
		BotID:     botID,
		Email:     strings.TrimSpace(id.Email),
		Phone:     strings.TrimSpace(id.Phone),
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, bot_id, email, phone, started_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.BotID, nullString(c.Email), nullString(c.Phone), formatTime(c.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &c, nil
}

// CountConversations returns the number of conversations of botID.
func (s *Store) CountConversations(ctx context.Context, botID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE bot_id = ?`, botID).Scan(&n)
	return n, err
}

// --- Messages ---

func (s *Store) SaveMessage(ctx context.Context, m model.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, text, timestamp, action_invoked) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Text, formatTime(m.Timestamp), nullString(m.ActionInvoked),
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// ListMessages returns the last limit messages of a conversation, oldest
// first. A limit of zero or less returns all of them.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, timestamp, action_invoked FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Message
	for rows.Next() {
		var m model.Message
		var role, ts string
		var action sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &ts, &action); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.ActionInvoked = action.String
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
