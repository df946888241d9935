package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abdulachik/crosspost/internal/credential"
	"golang.org/x/sync/errgroup"
)

const (
	blueskyDefaultPDSURL = "https://bsky.social"

	// Bluesky access tokens are short-lived; the session carries a refresh
	// JWT that maps onto the credential's refresh token.
	blueskySessionLifetime = 7200

	blueskyMaxLength = 300
)

// BlueskyPublisher posts records via the AT Protocol XRPC API.
type BlueskyPublisher struct {
	httpClient *http.Client
	pdsURL     string
	preview    PreviewResolver
}

// BlueskyConfig holds configuration for the Bluesky publisher.
type BlueskyConfig struct {
	PDSURL  string // override for tests; defaults to bsky.social
	Preview PreviewResolver
}

// NewBlueskyPublisher creates a new Bluesky publisher.
func NewBlueskyPublisher(cfg BlueskyConfig) *BlueskyPublisher {
	pdsURL := cfg.PDSURL
	if pdsURL == "" {
		pdsURL = blueskyDefaultPDSURL
	}

	return &BlueskyPublisher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pdsURL:     strings.TrimRight(pdsURL, "/"),
		preview:    cfg.Preview,
	}
}

// Platform returns the platform name.
func (b *BlueskyPublisher) Platform() string {
	return "bluesky"
}

// blueskySession is the createSession / refreshSession response.
type blueskySession struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// Connect creates a session from a handle and app password and maps it
// onto a credential record.
func (b *BlueskyPublisher) Connect(ctx context.Context, userID, handle, appPassword string) (credential.Credential, error) {
	reqBody, err := json.Marshal(map[string]string{
		"identifier": handle,
		"password":   appPassword,
	})
	if err != nil {
		return credential.Credential{}, fmt.Errorf("marshal request: %w", err)
	}

	session, err := b.session(ctx, "/xrpc/com.atproto.server.createSession", "", reqBody)
	if err != nil {
		return credential.Credential{}, err
	}

	slog.Debug("authenticated with Bluesky", "handle", session.Handle, "did", session.DID)

	return credential.Credential{
		UserID:       userID,
		Platform:     "bluesky",
		AccessToken:  session.AccessJwt,
		RefreshToken: session.RefreshJwt,
		ObtainedAt:   time.Now().UTC(),
		ExpiresIn:    blueskySessionLifetime,
	}, nil
}

// Refresh renews the session using the refresh JWT.
func (b *BlueskyPublisher) Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	session, err := b.session(ctx, "/xrpc/com.atproto.server.refreshSession", cred.RefreshToken, nil)
	if err != nil {
		return credential.Credential{}, err
	}

	return credential.Credential{
		UserID:       cred.UserID,
		Platform:     cred.Platform,
		AccessToken:  session.AccessJwt,
		RefreshToken: session.RefreshJwt,
		ObtainedAt:   time.Now().UTC(),
		ExpiresIn:    blueskySessionLifetime,
	}, nil
}

func (b *BlueskyPublisher) session(ctx context.Context, path, bearer string, body []byte) (blueskySession, error) {
	status, respBody, err := b.call(ctx, http.MethodPost, path, bearer, "application/json", body)
	if err != nil {
		return blueskySession{}, TransportError{Platform: "bluesky", Err: err}
	}
	if status != http.StatusOK {
		return blueskySession{}, UpstreamError{Platform: "bluesky", StatusCode: status, Body: string(respBody)}
	}

	var session blueskySession
	if err := json.Unmarshal(respBody, &session); err != nil {
		return blueskySession{}, TransportError{Platform: "bluesky", Err: fmt.Errorf("parse session: %w", err)}
	}
	return session, nil
}

// ResolveIdentity returns the DID the session belongs to.
func (b *BlueskyPublisher) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	status, body, err := b.call(ctx, http.MethodGet, "/xrpc/com.atproto.server.getSession", accessToken, "", nil)
	if err != nil {
		return "", TransportError{Platform: "bluesky", Err: err}
	}
	if status != http.StatusOK {
		return "", UpstreamError{Platform: "bluesky", StatusCode: status, Body: string(body)}
	}

	var session blueskySession
	if err := json.Unmarshal(body, &session); err != nil {
		return "", TransportError{Platform: "bluesky", Err: fmt.Errorf("parse session: %w", err)}
	}
	if session.DID == "" {
		return "", TransportError{Platform: "bluesky", Err: fmt.Errorf("session has no DID")}
	}
	return session.DID, nil
}

// blueskyEmbed is the post embed: images or an external link card.
type blueskyEmbed struct {
	Type     string          `json:"$type"`
	Images   []blueskyImage  `json:"images,omitempty"`
	External *blueskyExtLink `json:"external,omitempty"`
}

type blueskyImage struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"`
}

type blueskyExtLink struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type blueskyRecord struct {
	Type      string        `json:"$type"`
	Text      string        `json:"text"`
	CreatedAt string        `json:"createdAt"`
	Langs     []string      `json:"langs,omitempty"`
	Embed     *blueskyEmbed `json:"embed,omitempty"`
}

type blueskyCreateRecord struct {
	Repo       string        `json:"repo"`
	Collection string        `json:"collection"`
	Record     blueskyRecord `json:"record"`
}

type blueskyCreateResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Publish creates a feed post with an optional image or link embed.
func (b *BlueskyPublisher) Publish(ctx context.Context, post Post, session Session) (*Result, error) {
	record := blueskyRecord{
		Type:      "app.bsky.feed.post",
		Text:      Truncate(post.Text, blueskyMaxLength),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if post.Language != "" {
		record.Langs = []string{post.Language}
	}

	switch SelectShape(post) {
	case ShapeImage:
		refs, err := b.uploadAll(ctx, session.AccessToken, post.Media)
		if err != nil {
			return nil, err
		}
		embed := &blueskyEmbed{Type: "app.bsky.embed.images"}
		for i, ref := range refs {
			embed.Images = append(embed.Images, blueskyImage{
				Alt:   post.Media[i].AltText,
				Image: ref.Blob,
			})
		}
		record.Embed = embed
	case ShapeArticle:
		external := &blueskyExtLink{URI: post.Link, Title: post.Link}
		if b.preview != nil {
			if pv, err := b.preview.Fetch(ctx, post.Link); err != nil {
				slog.Debug("link preview unavailable", "url", post.Link, "error", err)
			} else if pv.Title != "" {
				external.Title = pv.Title
				external.Description = pv.Title
			}
		}
		record.Embed = &blueskyEmbed{Type: "app.bsky.embed.external", External: external}
	}

	reqBody, err := json.Marshal(blueskyCreateRecord{
		Repo:       session.Identity,
		Collection: "app.bsky.feed.post",
		Record:     record,
	})
	if err != nil {
		return nil, TransportError{Platform: "bluesky", Err: fmt.Errorf("marshal request: %w", err)}
	}

	status, body, err := b.call(ctx, http.MethodPost, "/xrpc/com.atproto.repo.createRecord", session.AccessToken, "application/json", reqBody)
	if err != nil {
		return nil, TransportError{Platform: "bluesky", Err: err}
	}
	if status != http.StatusOK {
		return nil, UpstreamError{Platform: "bluesky", StatusCode: status, Body: string(body)}
	}

	var created blueskyCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, TransportError{Platform: "bluesky", Err: fmt.Errorf("parse response: %w", err)}
	}
	if created.URI == "" {
		return nil, TransportError{Platform: "bluesky", Err: fmt.Errorf("no post id in response")}
	}

	slog.Info("posted to Bluesky", "uri", created.URI)
	return &Result{PostID: created.URI}, nil
}

// uploadAll uploads every declared image blob; the post requires all of
// them to succeed.
func (b *BlueskyPublisher) uploadAll(ctx context.Context, accessToken string, assets []MediaAsset) ([]UploadedRef, error) {
	refs := make([]UploadedRef, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range assets {
		g.Go(func() error {
			ref, err := b.uploadBlob(gctx, accessToken, asset)
			if err != nil {
				return err
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (b *BlueskyPublisher) uploadBlob(ctx context.Context, accessToken string, asset MediaAsset) (UploadedRef, error) {
	status, body, err := b.call(ctx, http.MethodPost, "/xrpc/com.atproto.repo.uploadBlob", accessToken, asset.MimeType, asset.Bytes)
	if err != nil {
		return UploadedRef{}, TransportError{Platform: "bluesky", Err: err}
	}
	if status != http.StatusOK {
		return UploadedRef{}, UpstreamError{Platform: "bluesky", StatusCode: status, Body: string(body)}
	}

	var parsed struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return UploadedRef{}, TransportError{Platform: "bluesky", Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Blob) == 0 {
		return UploadedRef{}, TransportError{Platform: "bluesky", Err: fmt.Errorf("upload returned no blob")}
	}

	return UploadedRef{Blob: parsed.Blob}, nil
}

func (b *BlueskyPublisher) call(ctx context.Context, method, path, bearer, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.pdsURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
