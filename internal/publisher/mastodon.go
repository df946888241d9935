package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/abdulachik/crosspost/internal/oauth"
	mastodonapi "github.com/mattn/go-mastodon"
)

const mastodonMaxLength = 500

// MastodonPublisher posts statuses to a Mastodon instance.
type MastodonPublisher struct {
	server  string
	oauth   *oauth.Client
	timeout time.Duration
}

// MastodonConfig holds configuration for the Mastodon publisher.
type MastodonConfig struct {
	Server string
	OAuth  *oauth.Client
}

// NewMastodonPublisher creates a new Mastodon publisher.
func NewMastodonPublisher(cfg MastodonConfig) *MastodonPublisher {
	return &MastodonPublisher{
		server:  cfg.Server,
		oauth:   cfg.OAuth,
		timeout: 30 * time.Second,
	}
}

// Platform returns the platform name.
func (m *MastodonPublisher) Platform() string {
	return "mastodon"
}

func (m *MastodonPublisher) client(accessToken string) *mastodonapi.Client {
	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:      m.server,
		AccessToken: accessToken,
	})
	client.Timeout = m.timeout
	return client
}

// Refresh renews the token via the instance's OAuth2 token endpoint.
// Most instances issue non-expiring tokens, so this rarely runs.
func (m *MastodonPublisher) Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	token, err := m.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		var statusErr oauth.StatusError
		if errors.As(err, &statusErr) {
			return credential.Credential{}, UpstreamError{
				Platform:   "mastodon",
				StatusCode: statusErr.StatusCode,
				Body:       statusErr.Body,
			}
		}
		return credential.Credential{}, TransportError{Platform: "mastodon", Err: err}
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	return credential.Credential{
		UserID:       cred.UserID,
		Platform:     cred.Platform,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ObtainedAt:   time.Now().UTC(),
		ExpiresIn:    token.ExpiresIn,
		Scope:        token.Scope,
	}, nil
}

// ResolveIdentity verifies the token and returns the account handle.
func (m *MastodonPublisher) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	account, err := m.client(accessToken).GetAccountCurrentUser(ctx)
	if err != nil {
		return "", m.wrapError(err)
	}
	return account.Acct, nil
}

// Publish posts a status with uploaded media or an appended link.
func (m *MastodonPublisher) Publish(ctx context.Context, post Post, session Session) (*Result, error) {
	client := m.client(session.AccessToken)

	toot := &mastodonapi.Toot{
		Status:   Truncate(post.Text, mastodonMaxLength),
		Language: post.Language,
	}

	switch SelectShape(post) {
	case ShapeImage:
		// Mastodon accepts media in one call per asset; uploads stay
		// sequential here because the library client is not safe to share
		// across goroutines for uploads with one reader each.
		for _, asset := range post.Media {
			attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
				File:        bytes.NewReader(asset.Bytes),
				Description: asset.AltText,
			})
			if err != nil {
				return nil, m.wrapError(fmt.Errorf("upload media: %w", err))
			}
			toot.MediaIDs = append(toot.MediaIDs, attachment.ID)
		}
	case ShapeArticle:
		// No dedicated article shape; the instance renders the link card
		toot.Status = toot.Status + "\n\n" + post.Link
	}

	status, err := client.PostStatus(ctx, toot)
	if err != nil {
		return nil, m.wrapError(fmt.Errorf("post status: %w", err))
	}
	if status.ID == "" {
		return nil, TransportError{Platform: "mastodon", Err: fmt.Errorf("no post id in response")}
	}

	slog.Info("posted to Mastodon", "id", status.ID, "url", status.URL)
	return &Result{PostID: string(status.ID)}, nil
}

// statusCodePattern matches the HTTP status the library folds into its
// error messages ("bad request: 401 Unauthorized: ..."). Anchoring on the
// colon-space prefix and the capitalized reason phrase keeps digits from
// addresses or ports (dial tcp 203.0.113.5:443) out of the match.
var statusCodePattern = regexp.MustCompile(`: ([1-5]\d\d) [A-Z]`)

func (m *MastodonPublisher) wrapError(err error) error {
	if match := statusCodePattern.FindStringSubmatch(err.Error()); match != nil {
		code, _ := strconv.Atoi(match[1])
		return UpstreamError{Platform: "mastodon", StatusCode: code, Body: err.Error()}
	}
	return TransportError{Platform: "mastodon", Err: err}
}
