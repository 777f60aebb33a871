package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	API     APIConfig
	Server  ServerConfig
	Storage StorageConfig
	Redis   RedisConfig
	Cache   CacheConfig
	Session SessionConfig
	Log     LogConfig
}

// APIConfig points at the backend that serves the REST tables and the chat
// function.
type APIConfig struct {
	BaseURL  string
	AnonKey  string
	Function string
}

type ServerConfig struct {
	Port int
}

// StorageConfig selects the durable key/value driver: "sqlite", "memory" or
// "redis". The SQLite database also backs local mode.
type StorageConfig struct {
	Driver  string
	DataDir string
}

type RedisConfig struct {
	Addr string
}

type CacheConfig struct {
	ConfigTTL time.Duration
}

type SessionConfig struct {
	Expiry time.Duration
}

type LogConfig struct {
	Level string
}

var storageDrivers = []string{"sqlite", "memory", "redis"}

func defaults() Config {
	return Config{
		API: APIConfig{
			Function: "chat",
		},
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			ConfigTTL: 5 * time.Minute,
		},
		Session: SessionConfig{
			Expiry: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.chatembed.app) and the
// anon key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/chatembed/config.json
// and the anon key falls back to a secrets file.
//
// Environment variables (CHATEMBED_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for the anon key if still empty.
	if cfg.API.AnonKey == "" {
		if key, err := kc.Get(keychainService, anonKeyAccount); err == nil && key != "" {
			cfg.API.AnonKey = key
		}
	}

	if !validDriver(cfg.Storage.Driver) {
		return Config{}, fmt.Errorf("invalid storage.driver %q: want one of %s",
			cfg.Storage.Driver, strings.Join(storageDrivers, ", "))
	}

	return cfg, nil
}

// RequireRemote reports a clear error when the backend connection is not
// configured. Local mode does not need it.
func (c Config) RequireRemote() error {
	var missing []string
	if c.API.BaseURL == "" {
		missing = append(missing, "API base URL (CHATEMBED_API_BASE_URL)")
	}
	if c.API.AnonKey == "" {
		missing = append(missing, "anon key (CHATEMBED_API_ANON_KEY"+apiKeyHint()+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validDriver(d string) bool {
	for _, v := range storageDrivers {
		if d == v {
			return true
		}
	}
	return false
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
