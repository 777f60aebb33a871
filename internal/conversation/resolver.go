// Package conversation reconciles a visitor with at most one conversation
// record per bot and identity.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/session"
)

// Store is the slice of the persistence collaborator the resolver needs.
// Implemented by storage.Store and supabase.Client.
type Store interface {
	// FindLatestConversation returns the newest ownerless conversation of
	// botID matching the identity's email or phone, or (nil, nil).
	FindLatestConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error)
	CreateConversation(ctx context.Context, botID string, id model.Identity) (*model.Conversation, error)
}

// ResolutionError reports a failed find or create.
type ResolutionError struct {
	BotID string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving conversation for bot %s: %v", e.BotID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver finds or creates conversations. It holds no state besides the
// in-flight coalescing of identical requests.
type Resolver struct {
	store    Store
	sessions *session.Store
	group    singleflight.Group
	logger   *slog.Logger
}

// NewResolver creates a Resolver. sessions may be nil, in which case no
// session record is refreshed.
func NewResolver(store Store, sessions *session.Store) *Resolver {
	return &Resolver{store: store, sessions: sessions, logger: slog.Default()}
}

// Resolve returns the conversation id to use for botID. With an identity the
// newest matching conversation is reused; otherwise, or when none matches, a
// new one is created. The session record of botID is refreshed with the
// result.
func (r *Resolver) Resolve(ctx context.Context, botID string, identity *model.Identity) (string, error) {
	return r.resolve(ctx, botID, "", botID, identity)
}

// ResolveDepartment resolves a conversation with the department bot botID
// and records it, with the department, in the session record of homeBotID.
func (r *Resolver) ResolveDepartment(ctx context.Context, homeBotID, botID string, identity *model.Identity) (string, error) {
	return r.resolve(ctx, homeBotID, botID, botID, identity)
}

func (r *Resolver) resolve(ctx context.Context, homeBotID, departmentBotID, botID string, identity *model.Identity) (string, error) {
	id := normalize(identity)

	if id.IsZero() {
		// Anonymous visitors have no reconciliation key.
		conv, err := r.store.CreateConversation(ctx, botID, model.Identity{})
		if err != nil {
			return "", &ResolutionError{BotID: botID, Err: err}
		}
		r.remember(ctx, homeBotID, departmentBotID, conv.ID, nil)
		return conv.ID, nil
	}

	key := botID + "\x00" + id.Email + "\x00" + id.Phone
	v, err, _ := r.group.Do(key, func() (any, error) {
		found, err := r.store.FindLatestConversation(ctx, botID, id)
		if err != nil {
			return "", fmt.Errorf("finding conversation: %w", err)
		}
		if found != nil {
			r.logger.Debug("reusing conversation", "bot_id", botID, "conversation_id", found.ID)
			return found.ID, nil
		}
		created, err := r.store.CreateConversation(ctx, botID, id)
		if err != nil {
			return "", fmt.Errorf("creating conversation: %w", err)
		}
		return created.ID, nil
	})
	if err != nil {
		return "", &ResolutionError{BotID: botID, Err: err}
	}

	convID := v.(string)
	r.remember(ctx, homeBotID, departmentBotID, convID, &id)
	return convID, nil
}

func (r *Resolver) remember(ctx context.Context, homeBotID, departmentBotID, convID string, identity *model.Identity) {
	if r.sessions == nil {
		return
	}
	r.sessions.SaveDepartment(ctx, homeBotID, departmentBotID, convID, identity)
}

func normalize(identity *model.Identity) model.Identity {
	if identity == nil {
		return model.Identity{}
	}
	return model.Identity{
		Email: strings.ToLower(strings.TrimSpace(identity.Email)),
		Phone: strings.TrimSpace(identity.Phone),
	}
}
