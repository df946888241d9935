package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abdulachik/crosspost/internal/credential"
)

// ErrNotFound is returned when no row matches a lookup. Infrastructure
// failures are reported as distinct errors, never collapsed into this.
var ErrNotFound = errors.New("not found")

// GetCredential loads the stored credential for a (user, platform) pair.
func (s *Store) GetCredential(ctx context.Context, userID, platform string) (credential.Credential, error) {
	var c credential.Credential
	err := s.QueryRowContext(ctx, `
		SELECT user_id, platform, access_token, refresh_token, obtained_at, expires_in, scope
		FROM credentials WHERE user_id = ? AND platform = ?`,
		userID, platform,
	).Scan(&c.UserID, &c.Platform, &c.AccessToken, &c.RefreshToken, &c.ObtainedAt, &c.ExpiresIn, &c.Scope)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	c.ObtainedAt = c.ObtainedAt.UTC()
	return c, nil
}

// PutCredential stores a credential, fully replacing any existing record
// for the same (user, platform) key.
func (s *Store) PutCredential(ctx context.Context, c credential.Credential) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO credentials (user_id, platform, access_token, refresh_token, obtained_at, expires_in, scope)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			obtained_at = excluded.obtained_at,
			expires_in = excluded.expires_in,
			scope = excluded.scope`,
		c.UserID, c.Platform, c.AccessToken, c.RefreshToken, c.ObtainedAt.UTC(), c.ExpiresIn, c.Scope,
	)
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential for a (user, platform) pair.
// Only an explicit user disconnect goes through here.
func (s *Store) DeleteCredential(ctx context.Context, userID, platform string) error {
	res, err := s.ExecContext(ctx,
		"DELETE FROM credentials WHERE user_id = ? AND platform = ?", userID, platform)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPlatforms returns the platforms the user has a credential for, in
// stable order.
func (s *Store) ListPlatforms(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT platform FROM credentials WHERE user_id = ? ORDER BY platform", userID)
	if err != nil {
		return nil, fmt.Errorf("query platforms: %w", err)
	}
	defer rows.Close()

	var platforms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		platforms = append(platforms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate platforms: %w", err)
	}
	return platforms, nil
}

// SaveOAuthState records a CSRF state value for an in-progress authorization.
func (s *Store) SaveOAuthState(ctx context.Context, state, userID, platform string) error {
	_, err := s.ExecContext(ctx,
		"INSERT INTO oauth_states (state, user_id, platform) VALUES (?, ?, ?)",
		state, userID, platform)
	if err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState validates and deletes a state value, returning the user
// it was issued to. A state can be consumed at most once.
func (s *Store) ConsumeOAuthState(ctx context.Context, state, platform string) (string, error) {
	var userID string
	err := s.QueryRowContext(ctx,
		"SELECT user_id FROM oauth_states WHERE state = ? AND platform = ?",
		state, platform).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query oauth state: %w", err)
	}
	if _, err := s.ExecContext(ctx, "DELETE FROM oauth_states WHERE state = ?", state); err != nil {
		return "", fmt.Errorf("delete oauth state: %w", err)
	}
	return userID, nil
}

// PublishLogEntry is one recorded per-target publish outcome.
type PublishLogEntry struct {
	UserID         string
	Platform       string
	Status         string // published | failed
	PlatformPostID string
	HTTPStatus     int
	Message        string
	CreatedAt      time.Time
}

// RecordPublish appends a publish outcome to the log.
func (s *Store) RecordPublish(ctx context.Context, e PublishLogEntry) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO publish_log (user_id, platform, status, platform_post_id, http_status, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Platform, e.Status, e.PlatformPostID, e.HTTPStatus, e.Message)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}
