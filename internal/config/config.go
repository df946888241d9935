package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Database
	DatabasePath string

	// HTTP server
	ListenAddr string

	// Media directory resolved handles are read from
	MediaDir string

	// LinkedIn OAuth app
	LinkedInClientID     string
	LinkedInClientSecret string
	LinkedInRedirectURI  string

	// Mastodon OAuth app, registered on one server
	MastodonServer       string
	MastodonClientID     string
	MastodonClientSecret string
	MastodonRedirectURI  string

	// Bluesky PDS (default: https://bsky.social)
	BlueskyPDSURL string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
// It automatically loads .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:         getEnv("DATABASE_PATH", "data/crosspost.db"),
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		MediaDir:             getEnv("MEDIA_DIR", "data/media"),
		LinkedInClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
		LinkedInRedirectURI:  getEnv("LINKEDIN_REDIRECT_URI", ""),
		MastodonServer:       normalizeServerURL(getEnv("MASTODON_SERVER", "")),
		MastodonClientID:     getEnv("MASTODON_CLIENT_ID", ""),
		MastodonClientSecret: getEnv("MASTODON_CLIENT_SECRET", ""),
		MastodonRedirectURI:  getEnv("MASTODON_REDIRECT_URI", ""),
		BlueskyPDSURL:        normalizeServerURL(getEnv("BLUESKY_PDS_URL", "https://bsky.social")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	return nil
}

// ValidateForLinkedIn checks configuration needed for the LinkedIn OAuth flow.
func (c *Config) ValidateForLinkedIn() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LinkedInClientID == "" {
		return fmt.Errorf("LINKEDIN_CLIENT_ID is required")
	}
	if c.LinkedInClientSecret == "" {
		return fmt.Errorf("LINKEDIN_CLIENT_SECRET is required")
	}
	if c.LinkedInRedirectURI == "" {
		return fmt.Errorf("LINKEDIN_REDIRECT_URI is required")
	}
	return nil
}

// ValidateForMastodon checks configuration needed for the Mastodon OAuth flow.
func (c *Config) ValidateForMastodon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MastodonServer == "" {
		return fmt.Errorf("MASTODON_SERVER is required")
	}
	if c.MastodonClientID == "" {
		return fmt.Errorf("MASTODON_CLIENT_ID is required")
	}
	if c.MastodonClientSecret == "" {
		return fmt.Errorf("MASTODON_CLIENT_SECRET is required")
	}
	if c.MastodonRedirectURI == "" {
		return fmt.Errorf("MASTODON_REDIRECT_URI is required")
	}
	return nil
}

// ValidateForServe checks all configuration needed for serve mode.
// At least one platform must be fully configured; Bluesky always is
// because app passwords need no OAuth app registration.
func (c *Config) ValidateForServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.BlueskyPDSURL == "" {
		return fmt.Errorf("BLUESKY_PDS_URL is required")
	}
	return nil
}

// LinkedInConfigured reports whether the LinkedIn OAuth app is set up.
func (c *Config) LinkedInConfigured() bool {
	return c.ValidateForLinkedIn() == nil
}

// MastodonConfigured reports whether the Mastodon OAuth app is set up.
func (c *Config) MastodonConfigured() bool {
	return c.ValidateForMastodon() == nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// normalizeServerURL ensures a server URL has a scheme and no trailing
// slash, so "mastodon.social" and "https://mastodon.social/" both work.
func normalizeServerURL(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}
