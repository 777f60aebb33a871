package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/chatembed/internal/actions"
	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/config"
	"github.com/kalambet/chatembed/internal/conversation"
	"github.com/kalambet/chatembed/internal/inference"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/session"
	"github.com/kalambet/chatembed/internal/storage"
	"github.com/kalambet/chatembed/internal/supabase"
	"github.com/kalambet/chatembed/internal/widget"
)

// backend is the persistence collaborator: the Supabase REST API or the
// local SQLite store.
type backend interface {
	botconfig.Fetcher
	conversation.Store
	widget.MessageStore
	SearchProducts(ctx context.Context, q model.ProductQuery) ([]model.Product, error)
}

// runtime is everything a widget host needs, built from configuration.
type runtime struct {
	cfg      config.Config
	kv       storage.KV
	sessions *session.Store
	ctrl     *widget.Controller
	closers  []func() error
}

type runtimeOptions struct {
	// local serves bots, conversations and products from the SQLite store
	// instead of the REST API.
	local bool
	// apiBaseURL and anonKey override the configured connection.
	apiBaseURL string
	anonKey    string
}

func newRuntime(ctx context.Context, cfg config.Config, opts runtimeOptions) (*runtime, error) {
	if opts.apiBaseURL != "" {
		cfg.API.BaseURL = opts.apiBaseURL
	}
	if opts.anonKey != "" {
		cfg.API.AnonKey = opts.anonKey
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var store *storage.Store
	if opts.local || cfg.Storage.Driver == "sqlite" {
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		store = s
		rt.closers = append(rt.closers, s.Close)
	}

	kv, err := rt.openKV(ctx, store)
	if err != nil {
		return nil, err
	}
	rt.kv = kv

	var be backend
	if opts.local {
		be = store
	} else {
		if err := cfg.RequireRemote(); err != nil {
			return nil, err
		}
		client, err := supabase.New(supabase.Config{URL: cfg.API.BaseURL, APIKey: cfg.API.AnonKey})
		if err != nil {
			return nil, err
		}
		be = client
	}

	rt.sessions = session.NewStoreWithClock(kv, nil, cfg.Session.Expiry)
	rt.ctrl = widget.NewController(widget.Deps{
		Configs:       botconfig.NewResolverWithClock(be, kv, nil, cfg.Cache.ConfigTTL),
		Sessions:      rt.sessions,
		Conversations: conversation.NewResolver(be, rt.sessions),
		Messages:      be,
		Inference:     inference.NewClient(cfg.API.BaseURL, cfg.API.AnonKey, cfg.API.Function),
		Actions:       actions.NewResolver(be).WithPDFInspector(actions.NewHTTPPDFInspector()),
	})

	slog.Debug("runtime ready", "local", opts.local, "kv", cfg.Storage.Driver)
	ok = true
	return rt, nil
}

// openKV selects the durable client storage driver.
func (rt *runtime) openKV(ctx context.Context, store *storage.Store) (storage.KV, error) {
	switch rt.cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: rt.cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", rt.cfg.Redis.Addr, err)
		}
		// Session and config keys carry their own chatembed: namespace.
		kv := storage.NewRedisKV(client, "")
		rt.closers = append(rt.closers, kv.Close)
		return kv, nil
	case "sqlite":
		if store == nil {
			return nil, errors.New("sqlite storage not open")
		}
		return store.KV(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", rt.cfg.Storage.Driver)
	}
}

// Close releases storage in reverse order of opening.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// openStore opens the local SQLite store for the maintenance commands.
func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}
