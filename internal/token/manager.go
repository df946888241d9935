// Package token decides whether a stored credential is usable, refreshes
// it when it is not, and resolves the platform-side posting identity.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/abdulachik/crosspost/internal/db"
	"github.com/abdulachik/crosspost/internal/publisher"
	"golang.org/x/sync/singleflight"
)

// Store is the credential persistence the manager needs.
type Store interface {
	GetCredential(ctx context.Context, userID, platform string) (credential.Credential, error)
	PutCredential(ctx context.Context, cred credential.Credential) error
}

// PlatformClient refreshes credentials and resolves identities for one
// platform. Publishers implement it.
type PlatformClient interface {
	Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error)
	ResolveIdentity(ctx context.Context, accessToken string) (string, error)
}

// Manager owns the credential lifecycle for all platforms.
type Manager struct {
	store   Store
	clients map[string]PlatformClient
	group   singleflight.Group
	now     func() time.Time
}

// Config holds manager configuration.
type Config struct {
	Store   Store
	Clients map[string]PlatformClient
	Now     func() time.Time // test override
}

// New creates a new token manager.
func New(cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:   cfg.Store,
		clients: cfg.Clients,
		now:     now,
	}
}

// EnsureValid returns a usable access token and the canonical posting
// identity for the (user, platform) pair, refreshing and persisting the
// credential first when needed. Concurrent calls for the same key share a
// single refresh.
func (m *Manager) EnsureValid(ctx context.Context, userID, platform string) (publisher.Session, error) {
	client, ok := m.clients[platform]
	if !ok {
		return publisher.Session{}, fmt.Errorf("unknown platform %q", platform)
	}

	cred, err := m.store.GetCredential(ctx, userID, platform)
	if errors.Is(err, db.ErrNotFound) {
		return publisher.Session{}, publisher.AuthError{Platform: platform, Reason: "no credential"}
	}
	if err != nil {
		return publisher.Session{}, fmt.Errorf("load credential: %w", err)
	}

	if cred.Expired(m.now()) {
		if !cred.Refreshable() {
			return publisher.Session{}, publisher.AuthError{Platform: platform, Reason: "credential expired, reauthorize"}
		}
		cred, err = m.refresh(ctx, userID, platform, client)
		if err != nil {
			return publisher.Session{}, err
		}
	}

	identity, err := client.ResolveIdentity(ctx, cred.AccessToken)
	if err != nil {
		return publisher.Session{}, fmt.Errorf("resolve identity: %w", err)
	}

	return publisher.Session{AccessToken: cred.AccessToken, Identity: identity}, nil
}

// refresh renews the credential through singleflight so two callers
// racing on the same key never issue two upstream refreshes; the loser
// waits for and reuses the winner's result.
func (m *Manager) refresh(ctx context.Context, userID, platform string, client PlatformClient) (credential.Credential, error) {
	key := userID + "|" + platform

	v, err, shared := m.group.Do(key, func() (any, error) {
		// Re-read: a refresh that completed while we waited for the lock
		// already persisted a fresh credential.
		cred, err := m.store.GetCredential(ctx, userID, platform)
		if err != nil {
			return nil, fmt.Errorf("load credential: %w", err)
		}
		if !cred.Expired(m.now()) {
			return cred, nil
		}

		slog.Info("refreshing credential", "user", userID, "platform", platform)

		renewed, err := client.Refresh(ctx, cred)
		if err != nil {
			// Never fall back to the stale token
			return nil, fmt.Errorf("refresh credential: %w", err)
		}
		if err := m.store.PutCredential(ctx, renewed); err != nil {
			return nil, fmt.Errorf("persist refreshed credential: %w", err)
		}
		return renewed, nil
	})
	if err != nil {
		return credential.Credential{}, err
	}
	if shared {
		slog.Debug("reused in-flight refresh", "user", userID, "platform", platform)
	}

	return v.(credential.Credential), nil
}
