package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env and restore after test
	origEnv := os.Environ()
	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range origEnv {
			for i := 0; i < len(e); i++ {
				if e[i] == '=' {
					os.Setenv(e[:i], e[i+1:])
					break
				}
			}
		}
	})

	t.Run("defaults", func(t *testing.T) {
		os.Clearenv()
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "data/crosspost.db", cfg.DatabasePath)
		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, "data/media", cfg.MediaDir)
		assert.Equal(t, "https://bsky.social", cfg.BlueskyPDSURL)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("custom values", func(t *testing.T) {
		os.Clearenv()
		os.Setenv("DATABASE_PATH", "/custom/path.db")
		os.Setenv("LISTEN_ADDR", ":9090")
		os.Setenv("LINKEDIN_CLIENT_ID", "li-client")
		os.Setenv("MASTODON_SERVER", "mastodon.social")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "/custom/path.db", cfg.DatabasePath)
		assert.Equal(t, ":9090", cfg.ListenAddr)
		assert.Equal(t, "li-client", cfg.LinkedInClientID)
		assert.Equal(t, "https://mastodon.social", cfg.MastodonServer)
	})

	t.Run("server url normalization", func(t *testing.T) {
		os.Clearenv()
		os.Setenv("MASTODON_SERVER", "https://fosstodon.org/")
		os.Setenv("BLUESKY_PDS_URL", "pds.example.com")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://fosstodon.org", cfg.MastodonServer)
		assert.Equal(t, "https://pds.example.com", cfg.BlueskyPDSURL)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{DatabasePath: "test.db"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing database path", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_PATH")
	})
}

func TestConfig_ValidateForLinkedIn(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{
			DatabasePath:         "test.db",
			LinkedInClientID:     "id",
			LinkedInClientSecret: "secret",
			LinkedInRedirectURI:  "http://localhost:8080/oauth/linkedin/callback",
		}
		assert.NoError(t, cfg.ValidateForLinkedIn())
		assert.True(t, cfg.LinkedInConfigured())
	})

	t.Run("missing client secret", func(t *testing.T) {
		cfg := &Config{
			DatabasePath:        "test.db",
			LinkedInClientID:    "id",
			LinkedInRedirectURI: "http://localhost:8080/oauth/linkedin/callback",
		}
		err := cfg.ValidateForLinkedIn()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "LINKEDIN_CLIENT_SECRET")
		assert.False(t, cfg.LinkedInConfigured())
	})
}

func TestConfig_ValidateForMastodon(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{
			DatabasePath:         "test.db",
			MastodonServer:       "https://mastodon.social",
			MastodonClientID:     "id",
			MastodonClientSecret: "secret",
			MastodonRedirectURI:  "http://localhost:8080/oauth/mastodon/callback",
		}
		assert.NoError(t, cfg.ValidateForMastodon())
	})

	t.Run("missing server", func(t *testing.T) {
		cfg := &Config{
			DatabasePath:     "test.db",
			MastodonClientID: "id",
		}
		err := cfg.ValidateForMastodon()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "MASTODON_SERVER")
	})
}

func TestConfig_ValidateForServe(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{
			DatabasePath:  "test.db",
			ListenAddr:    ":8080",
			BlueskyPDSURL: "https://bsky.social",
		}
		assert.NoError(t, cfg.ValidateForServe())
	})

	t.Run("missing listen addr", func(t *testing.T) {
		cfg := &Config{DatabasePath: "test.db", BlueskyPDSURL: "https://bsky.social"}
		err := cfg.ValidateForServe()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "LISTEN_ADDR")
	})
}
