// Package session keeps the per-bot conversation handle and optional visitor
// identity in durable client storage.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/storage"
)

const (
	// DefaultExpiry is how long a record survives without being rewritten.
	DefaultExpiry = 7 * 24 * time.Hour

	keyPrefix = "chatembed:session:"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Record is the stored session of one bot.
type Record struct {
	ConversationID string          `json:"conversationId,omitempty"`
	Timestamp      int64           `json:"timestamp"` // unix millis of the last write
	LeadData       *model.Identity `json:"leadData,omitempty"`
	// DepartmentBotID is the department bot the conversation belongs to.
	// Empty when the visitor talks to the bot the record is keyed by.
	DepartmentBotID string `json:"departmentBotId,omitempty"`
}

// SavedAt returns the record timestamp as a time.
func (r Record) SavedAt() time.Time { return time.UnixMilli(r.Timestamp) }

// Store is the only writer of session records. Writes are best-effort:
// failures are logged and swallowed.
type Store struct {
	kv     storage.KV
	clock  Clock
	expiry time.Duration
	logger *slog.Logger
}

func NewStore(kv storage.KV) *Store {
	return NewStoreWithClock(kv, realClock{}, DefaultExpiry)
}

// NewStoreWithClock creates a Store with a custom clock and expiry. A nil
// clock uses the wall clock.
func NewStoreWithClock(kv storage.KV, clock Clock, expiry time.Duration) *Store {
	if clock == nil {
		clock = realClock{}
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{kv: kv, clock: clock, expiry: expiry, logger: slog.Default()}
}

// Key returns the storage key of botID's record.
func Key(botID string) string { return keyPrefix + botID }

// Save records conversationID for botID. A nil identity keeps the lead data
// already stored.
func (s *Store) Save(ctx context.Context, botID, conversationID string, identity *model.Identity) {
	s.SaveDepartment(ctx, botID, "", conversationID, identity)
}

// SaveDepartment records a conversation held with departmentBotID under the
// record of homeBotID, the bot the widget was embedded with.
func (s *Store) SaveDepartment(ctx context.Context, homeBotID, departmentBotID, conversationID string, identity *model.Identity) {
	rec := Record{ConversationID: conversationID, LeadData: identity, DepartmentBotID: departmentBotID}
	if identity == nil {
		if prev := s.Load(ctx, homeBotID); prev != nil {
			rec.LeadData = prev.LeadData
		}
	}
	s.write(ctx, homeBotID, rec)
}

// SaveLead stores identity before any conversation exists, so a reload can
// skip the contact step.
func (s *Store) SaveLead(ctx context.Context, botID string, identity model.Identity) {
	rec := Record{LeadData: &identity}
	if prev := s.Load(ctx, botID); prev != nil {
		rec.ConversationID = prev.ConversationID
		rec.DepartmentBotID = prev.DepartmentBotID
	}
	s.write(ctx, botID, rec)
}

// Load returns botID's record, or nil when there is none. Records older than
// the expiry and undecodable records are removed.
func (s *Store) Load(ctx context.Context, botID string) *Record {
	raw, ok, err := s.kv.Get(ctx, Key(botID))
	if err != nil {
		s.logger.Warn("session read failed", "bot_id", botID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Debug("discarding undecodable session", "bot_id", botID, "error", err)
		s.Clear(ctx, botID)
		return nil
	}
	if s.clock.Now().Sub(rec.SavedAt()) > s.expiry {
		s.Clear(ctx, botID)
		return nil
	}
	return &rec
}

// Clear removes botID's record.
func (s *Store) Clear(ctx context.Context, botID string) {
	if err := s.kv.Delete(ctx, Key(botID)); err != nil {
		s.logger.Warn("persistence write failed", "key", Key(botID), "error", err)
	}
}

// BotIDs lists the bots that have a stored record, expired or not.
func (s *Store) BotIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefix))
	}
	return ids, nil
}

func (s *Store) write(ctx context.Context, botID string, rec Record) {
	rec.Timestamp = s.clock.Now().UnixMilli()
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("encoding session", "bot_id", botID, "error", err)
		return
	}
	if err := s.kv.Set(ctx, Key(botID), string(raw)); err != nil {
		s.logger.Warn("persistence write failed", "key", Key(botID), "error", err)
	}
}
