package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = strconv.Itoa(val); return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

// clearEnv blanks every CHATEMBED_* variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.API.Function != "chat" {
		t.Errorf("API.Function = %q, want chat", cfg.API.Function)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Cache.ConfigTTL != 5*time.Minute {
		t.Errorf("Cache.ConfigTTL = %v, want 5m", cfg.Cache.ConfigTTL)
	}
	if cfg.Session.Expiry != 7*24*time.Hour {
		t.Errorf("Session.Expiry = %v, want 168h", cfg.Session.Expiry)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestBackendValues verifies that all keys are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := mapBackend{
		"api.base_url":     "https://example.supabase.co",
		"api.function":     "widget-chat",
		"server.port":      "5000",
		"storage.driver":   "redis",
		"storage.data_dir": "/tmp/chatembed-test",
		"redis.addr":       "redis:6380",
		"cache.config_ttl": "90s",
		"session.expiry":   "24h",
		"log.level":        "debug",
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://example.supabase.co" || cfg.API.Function != "widget-chat" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "redis" || cfg.Storage.DataDir != "/tmp/chatembed-test" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Cache.ConfigTTL != 90*time.Second || cfg.Session.Expiry != 24*time.Hour {
		t.Errorf("durations = %v, %v", cfg.Cache.ConfigTTL, cfg.Session.Expiry)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestSecretNotReadFromBackend verifies the anon key never comes from the plain backend.
func TestSecretNotReadFromBackend(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{"api.anon_key": "plain"}, mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.AnonKey != "" {
		t.Errorf("AnonKey = %q, want empty", cfg.API.AnonKey)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATEMBED_SERVER_PORT", "6000")
	t.Setenv("CHATEMBED_API_ANON_KEY", "env-key")
	t.Setenv("CHATEMBED_SESSION_EXPIRY", "1h")

	cfg, err := loadWith(mapBackend{"server.port": "5000"}, mockKeychain{value: "keychain-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.API.AnonKey != "env-key" {
		t.Errorf("AnonKey = %q, want env-key", cfg.API.AnonKey)
	}
	if cfg.Session.Expiry != time.Hour {
		t.Errorf("Session.Expiry = %v, want 1h", cfg.Session.Expiry)
	}
}

// TestInvalidEnvKeepsDefault verifies malformed env values fall back to defaults.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATEMBED_SERVER_PORT", "not-a-port")
	t.Setenv("CHATEMBED_CACHE_CONFIG_TTL", "soon")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 || cfg.Cache.ConfigTTL != 5*time.Minute {
		t.Errorf("got port %d ttl %v, want defaults", cfg.Server.Port, cfg.Cache.ConfigTTL)
	}
}

// TestKeychainFallback verifies the keychain is consulted when no anon key is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.AnonKey != "keychain-secret" {
		t.Errorf("AnonKey = %q, want %q", cfg.API.AnonKey, "keychain-secret")
	}
}

func TestInvalidDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATEMBED_STORAGE_DRIVER", "postgres")

	if _, err := loadWith(mapBackend{}, mockKeychain{}); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

// TestRequireRemote verifies a clear error when the backend connection is missing.
func TestRequireRemote(t *testing.T) {
	var cfg Config
	err := cfg.RequireRemote()
	if err == nil {
		t.Fatal("expected error for missing remote config")
	}
	for _, want := range []string{"missing required config", "CHATEMBED_API_BASE_URL", "CHATEMBED_API_ANON_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}

	cfg.API = APIConfig{BaseURL: "https://x.supabase.co", AnonKey: "k"}
	if err := cfg.RequireRemote(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.AnonKey = "secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "api.anon_key" || ki.Value == "secret" {
			t.Errorf("ShowAll exposed %+v", ki)
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys = %v", ValidKeys())
	}
}
