// Package oauth implements the OAuth2 authorization-code flow pieces shared
// by the platforms that use it: authorize URL construction, code exchange,
// and refresh-token renewal.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Endpoints names a provider's authorize and token URLs.
type Endpoints struct {
	AuthURL  string
	TokenURL string
}

// Config holds one provider's application registration.
type Config struct {
	Endpoints    Endpoints
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Token is the provider's token-endpoint response.
type Token struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	Scope                 string `json:"scope"`
}

// StatusError is a non-2xx token-endpoint response with its body preserved.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("token endpoint responded %d: %s", e.StatusCode, e.Body)
}

// Client talks to one provider's OAuth2 endpoints.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New creates a client with its own scoped HTTP client.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		cfg:        cfg,
	}
}

// AuthorizeURL builds the provider authorize redirect for one flow attempt.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	if state != "" {
		q.Set("state", state)
	}

	sep := "?"
	if strings.Contains(c.cfg.Endpoints.AuthURL, "?") {
		sep = "&"
	}
	return c.cfg.Endpoints.AuthURL + sep + q.Encode()
}

// Exchange redeems an authorization code for a token.
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.RedirectURI)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)

	return c.postToken(ctx, data)
}

// Refresh renews a token using its refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)

	return c.postToken(ctx, data)
}

func (c *Client) postToken(ctx context.Context, data url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoints.TokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Token{}, StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return Token{}, fmt.Errorf("parse response: %w", err)
	}
	if token.AccessToken == "" {
		return Token{}, fmt.Errorf("token endpoint returned no access_token")
	}

	return token, nil
}
