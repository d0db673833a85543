// Package config loads swipelist settings from an optional TOML file, a .env
// file and the process environment, in that order of increasing precedence.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// CookieKeySize is the required decoded length of a cookie key.
const CookieKeySize = 32

// ConfigurationError reports a setting that prevents startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the complete server configuration.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Spotify     SpotifyConfig `toml:"spotify"`
	Session     SessionConfig `toml:"session"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds listener and frontend settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// FrontendURI is the web app origin, used for CORS and callback redirects.
	FrontendURI string `toml:"frontend_uri"`
	// StaticDir, when set, is served as the built web app.
	StaticDir       string `toml:"static_dir"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GetShutdownTimeout parses ShutdownTimeout, defaulting to 10s.
func (s ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, 10*time.Second)
}

// SpotifyConfig holds the public client registration and endpoints.
type SpotifyConfig struct {
	ClientID    string `toml:"client_id"`
	RedirectURI string `toml:"redirect_uri"`
	AccountsURL string `toml:"accounts_url"`
	APIURL      string `toml:"api_url"`
	Timeout     string `toml:"timeout"`
}

// GetTimeout parses Timeout, defaulting to 10s.
func (s SpotifyConfig) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, 10*time.Second)
}

// SessionConfig holds cookie sealing and refresh settings.
type SessionConfig struct {
	// CookieKey is a base64 encoded 32 byte key.
	CookieKey   string `toml:"cookie_key"`
	CookieKeyID string `toml:"cookie_key_id"`
	// PreviousKeys lists retired keys still accepted for opening cookies,
	// as "id:base64key" entries.
	PreviousKeys []string `toml:"previous_keys"`
	CookieDomain string   `toml:"cookie_domain"`
	// RefreshSkew enables proactive refresh when set, e.g. "2m".
	RefreshSkew string `toml:"refresh_skew"`
}

// GetRefreshSkew parses RefreshSkew. Empty or invalid means disabled.
func (s SessionConfig) GetRefreshSkew() time.Duration {
	return parseDuration(s.RefreshSkew, 0)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ShutdownTimeout: "10s",
		},
		Spotify: SpotifyConfig{
			AccountsURL: "https://accounts.spotify.com",
			APIURL:      "https://api.spotify.com/v1",
			Timeout:     "10s",
		},
		Session: SessionConfig{
			CookieKeyID: "1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads .env style files into the environment without replacing
// variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from TOML files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	// NODE_ENV is accepted for deployments shared with the web app.
	if env := firstEnv("APP_ENV", "NODE_ENV"); env != "" {
		config.Environment = env
	}
	if v := os.Getenv("HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("FRONTEND_URI"); v != "" {
		config.Server.FrontendURI = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		config.Server.StaticDir = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		config.Spotify.ClientID = v
	}
	if v := os.Getenv("REDIRECT_URI"); v != "" {
		config.Spotify.RedirectURI = v
	}
	if v := os.Getenv("SPOTIFY_ACCOUNTS_URL"); v != "" {
		config.Spotify.AccountsURL = v
	}
	if v := os.Getenv("SPOTIFY_API_URL"); v != "" {
		config.Spotify.APIURL = v
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		config.Spotify.Timeout = v
	}
	if v := os.Getenv("COOKIE_KEY"); v != "" {
		config.Session.CookieKey = v
	}
	if v := os.Getenv("COOKIE_KEY_ID"); v != "" {
		config.Session.CookieKeyID = v
	}
	if v := os.Getenv("COOKIE_PREVIOUS_KEYS"); v != "" {
		config.Session.PreviousKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("COOKIE_DOMAIN"); v != "" {
		config.Session.CookieDomain = v
	}
	if v := os.Getenv("REFRESH_SKEW"); v != "" {
		config.Session.RefreshSkew = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Validate checks the settings needed to serve. It returns a
// *ConfigurationError for the first problem found.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" {
		return &ConfigurationError{Field: "CLIENT_ID", Reason: "must be set"}
	}
	if err := validateURL("REDIRECT_URI", c.Spotify.RedirectURI); err != nil {
		return err
	}
	if err := validateURL("FRONTEND_URI", c.Server.FrontendURI); err != nil {
		return err
	}
	if err := validateURL("SPOTIFY_ACCOUNTS_URL", c.Spotify.AccountsURL); err != nil {
		return err
	}
	if err := validateURL("SPOTIFY_API_URL", c.Spotify.APIURL); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigurationError{Field: "PORT", Reason: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if c.Spotify.Timeout != "" {
		if d, err := time.ParseDuration(c.Spotify.Timeout); err != nil || d <= 0 {
			return &ConfigurationError{Field: "HTTP_TIMEOUT", Reason: fmt.Sprintf("invalid duration %q", c.Spotify.Timeout)}
		}
	}
	if c.Session.RefreshSkew != "" {
		if d, err := time.ParseDuration(c.Session.RefreshSkew); err != nil || d < 0 {
			return &ConfigurationError{Field: "REFRESH_SKEW", Reason: fmt.Sprintf("invalid duration %q", c.Session.RefreshSkew)}
		}
	}
	if c.Session.CookieKey == "" {
		if c.IsProduction() {
			return &ConfigurationError{Field: "COOKIE_KEY", Reason: "must be set in production"}
		}
		return nil
	}
	_, _, err := c.Session.Keys()
	return err
}

// Keys decodes the cookie keys. The current key is keyed by CookieKeyID.
// keyID is empty when no CookieKey is configured.
func (s SessionConfig) Keys() (keyID string, keys map[string][]byte, err error) {
	if s.CookieKey == "" {
		return "", nil, nil
	}
	keyID = s.CookieKeyID
	if keyID == "" {
		keyID = "1"
	}
	current, err := decodeKey(s.CookieKey)
	if err != nil {
		return "", nil, &ConfigurationError{Field: "COOKIE_KEY", Reason: err.Error()}
	}
	keys = map[string][]byte{keyID: current}
	for _, entry := range s.PreviousKeys {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, enc, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return "", nil, &ConfigurationError{Field: "COOKIE_PREVIOUS_KEYS", Reason: "entries must be id:base64key"}
		}
		if id == keyID {
			return "", nil, &ConfigurationError{Field: "COOKIE_PREVIOUS_KEYS", Reason: fmt.Sprintf("key id %q reuses the current key id", id)}
		}
		k, err := decodeKey(enc)
		if err != nil {
			return "", nil, &ConfigurationError{Field: "COOKIE_PREVIOUS_KEYS", Reason: fmt.Sprintf("key %q: %v", id, err)}
		}
		keys[id] = k
	}
	return keyID, keys, nil
}

// EphemeralKey returns a random cookie key. Sessions sealed with it do not
// survive a restart.
func EphemeralKey() ([]byte, error) {
	k := make([]byte, CookieKeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if k, err := enc.DecodeString(s); err == nil {
			if len(k) != CookieKeySize {
				return nil, fmt.Errorf("decoded key is %d bytes, want %d", len(k), CookieKeySize)
			}
			return k, nil
		}
	}
	return nil, errors.New("not valid base64")
}

func validateURL(field, raw string) error {
	if raw == "" {
		return &ConfigurationError{Field: field, Reason: "must be set"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("invalid URL %q", raw)}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
