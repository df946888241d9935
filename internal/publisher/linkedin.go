package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/abdulachik/crosspost/internal/oauth"
	"github.com/abdulachik/crosspost/internal/preview"
	"golang.org/x/sync/errgroup"
)

const (
	linkedinDefaultBaseURL = "https://api.linkedin.com"

	// LinkedInAuthURL and LinkedInTokenURL are the provider OAuth2 endpoints.
	LinkedInAuthURL  = "https://www.linkedin.com/oauth/v2/authorization"
	LinkedInTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"

	linkedinImageRecipe = "urn:li:digitalmediaRecipe:feedshare-image"
	linkedinPersonURN   = "urn:li:person:"

	linkedinMaxTitle       = 200
	linkedinMaxDescription = 256
)

// PreviewResolver supplies optional title/thumbnail metadata for a link.
type PreviewResolver interface {
	Fetch(ctx context.Context, url string) (preview.Preview, error)
}

// LinkedInPublisher posts UGC shares via the LinkedIn REST API.
type LinkedInPublisher struct {
	httpClient *http.Client
	baseURL    string
	oauth      *oauth.Client
	uploader   *Uploader
	preview    PreviewResolver
}

// LinkedInConfig holds configuration for the LinkedIn publisher.
type LinkedInConfig struct {
	BaseURL string // override for tests; defaults to the public API host
	OAuth   *oauth.Client
	Preview PreviewResolver
}

// NewLinkedInPublisher creates a new LinkedIn publisher.
func NewLinkedInPublisher(cfg LinkedInConfig) *LinkedInPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = linkedinDefaultBaseURL
	}

	p := &LinkedInPublisher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		oauth:      cfg.OAuth,
		preview:    cfg.Preview,
	}
	p.uploader = NewUploader("linkedin", p.httpClient, p.registerUpload)
	return p
}

// Platform returns the platform name.
func (p *LinkedInPublisher) Platform() string {
	return "linkedin"
}

// Refresh exchanges the refresh token for a new credential record.
func (p *LinkedInPublisher) Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	token, err := p.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		var statusErr oauth.StatusError
		if errors.As(err, &statusErr) {
			return credential.Credential{}, UpstreamError{
				Platform:   "linkedin",
				StatusCode: statusErr.StatusCode,
				Body:       statusErr.Body,
			}
		}
		return credential.Credential{}, TransportError{Platform: "linkedin", Err: err}
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// Provider did not rotate it; the old one stays valid
		refreshToken = cred.RefreshToken
	}
	scope := token.Scope
	if scope == "" {
		scope = cred.Scope
	}

	return credential.Credential{
		UserID:       cred.UserID,
		Platform:     cred.Platform,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ObtainedAt:   time.Now().UTC(),
		ExpiresIn:    token.ExpiresIn,
		Scope:        scope,
	}, nil
}

// linkedinUserinfo is the OpenID userinfo response.
type linkedinUserinfo struct {
	Sub string `json:"sub"`
}

// ResolveIdentity returns the member URN the post is authored as.
func (p *LinkedInPublisher) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	status, body, _, err := p.call(ctx, http.MethodGet, "/v2/userinfo", accessToken, nil)
	if err != nil {
		return "", TransportError{Platform: "linkedin", Err: err}
	}
	if status != http.StatusOK {
		return "", UpstreamError{Platform: "linkedin", StatusCode: status, Body: string(body)}
	}

	var info linkedinUserinfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", TransportError{Platform: "linkedin", Err: fmt.Errorf("parse userinfo: %w", err)}
	}
	if info.Sub == "" {
		return "", TransportError{Platform: "linkedin", Err: fmt.Errorf("userinfo returned no subject")}
	}

	return NormalizeMemberURN(info.Sub), nil
}

// NormalizeMemberURN maps a bare member id to its person URN so downstream
// payloads always receive one canonical form.
func NormalizeMemberURN(id string) string {
	if strings.HasPrefix(id, "urn:") {
		return id
	}
	return linkedinPersonURN + id
}

type linkedinText struct {
	Text string `json:"text"`
}

type linkedinMedia struct {
	Status      string        `json:"status"`
	Media       string        `json:"media,omitempty"`
	OriginalURL string        `json:"originalUrl,omitempty"`
	Title       *linkedinText `json:"title,omitempty"`
	Description *linkedinText `json:"description,omitempty"`
}

type linkedinShareContent struct {
	ShareCommentary    linkedinText    `json:"shareCommentary"`
	ShareMediaCategory string          `json:"shareMediaCategory"`
	Media              []linkedinMedia `json:"media,omitempty"`
}

type linkedinUGCPost struct {
	Author          string                          `json:"author"`
	LifecycleState  string                          `json:"lifecycleState"`
	SpecificContent map[string]linkedinShareContent `json:"specificContent"`
	Visibility      map[string]string               `json:"visibility"`
}

// Publish creates a UGC post in the shape the request calls for.
func (p *LinkedInPublisher) Publish(ctx context.Context, post Post, session Session) (*Result, error) {
	content := linkedinShareContent{
		ShareCommentary:    linkedinText{Text: post.Text},
		ShareMediaCategory: "NONE",
	}

	switch SelectShape(post) {
	case ShapeImage:
		refs, err := p.uploadAll(ctx, session, post.Media)
		if err != nil {
			return nil, err
		}
		content.ShareMediaCategory = "IMAGE"
		for i, ref := range refs {
			media := linkedinMedia{Status: "READY", Media: ref.ID}
			if alt := post.Media[i].AltText; alt != "" {
				media.Description = &linkedinText{Text: Truncate(alt, linkedinMaxDescription)}
			}
			content.Media = append(content.Media, media)
		}
	case ShapeArticle:
		content.ShareMediaCategory = "ARTICLE"
		media := linkedinMedia{Status: "READY", OriginalURL: post.Link}
		if p.preview != nil {
			if pv, err := p.preview.Fetch(ctx, post.Link); err != nil {
				slog.Debug("link preview unavailable", "url", post.Link, "error", err)
			} else {
				if pv.Title != "" {
					media.Title = &linkedinText{Text: Truncate(pv.Title, linkedinMaxTitle)}
					media.Description = &linkedinText{Text: Truncate(pv.Title, linkedinMaxDescription)}
				}
			}
		}
		content.Media = []linkedinMedia{media}
	}

	payload := linkedinUGCPost{
		Author:         session.Identity,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]linkedinShareContent{
			"com.linkedin.ugc.ShareContent": content,
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, TransportError{Platform: "linkedin", Err: fmt.Errorf("marshal request: %w", err)}
	}

	status, body, header, err := p.call(ctx, http.MethodPost, "/v2/ugcPosts", session.AccessToken, reqBody)
	if err != nil {
		return nil, TransportError{Platform: "linkedin", Err: err}
	}
	if status < 200 || status > 299 {
		return nil, UpstreamError{Platform: "linkedin", StatusCode: status, Body: string(body)}
	}

	// The id comes back in the X-RestLi-Id header or in the body; fail
	// closed when neither yields one.
	postID := ExtractPostID(header.Get("X-RestLi-Id"), body, "id")
	if postID == "" {
		return nil, TransportError{Platform: "linkedin", Err: fmt.Errorf("no post id in response")}
	}

	slog.Info("posted to LinkedIn", "post_id", postID)
	return &Result{PostID: postID}, nil
}

// uploadAll uploads every declared image; independent assets go up
// concurrently, but the post requires all of them to succeed.
func (p *LinkedInPublisher) uploadAll(ctx context.Context, session Session, assets []MediaAsset) ([]UploadedRef, error) {
	refs := make([]UploadedRef, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range assets {
		g.Go(func() error {
			ref, err := p.uploader.Upload(gctx, session.AccessToken, session.Identity, linkedinImageRecipe, asset)
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

type linkedinRegisterRequest struct {
	RegisterUploadRequest struct {
		Recipes              []string `json:"recipes"`
		Owner                string   `json:"owner"`
		ServiceRelationships []struct {
			RelationshipType string `json:"relationshipType"`
			Identifier       string `json:"identifier"`
		} `json:"serviceRelationships"`
	} `json:"registerUploadRequest"`
}

type linkedinRegisterResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism map[string]struct {
			UploadURL string `json:"uploadUrl"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

func (p *LinkedInPublisher) registerUpload(ctx context.Context, accessToken, owner, mediaKind string) (Registration, error) {
	var reqPayload linkedinRegisterRequest
	reqPayload.RegisterUploadRequest.Recipes = []string{mediaKind}
	reqPayload.RegisterUploadRequest.Owner = owner
	reqPayload.RegisterUploadRequest.ServiceRelationships = []struct {
		RelationshipType string `json:"relationshipType"`
		Identifier       string `json:"identifier"`
	}{{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"}}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return Registration{}, TransportError{Platform: "linkedin", Err: fmt.Errorf("marshal request: %w", err)}
	}

	status, body, _, err := p.call(ctx, http.MethodPost, "/v2/assets?action=registerUpload", accessToken, reqBody)
	if err != nil {
		return Registration{}, TransportError{Platform: "linkedin", Err: err}
	}
	if status < 200 || status > 299 {
		return Registration{}, UpstreamError{Platform: "linkedin", StatusCode: status, Body: string(body)}
	}

	var parsed linkedinRegisterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Registration{}, TransportError{Platform: "linkedin", Err: fmt.Errorf("parse response: %w", err)}
	}

	var uploadURL string
	for _, mechanism := range parsed.Value.UploadMechanism {
		if mechanism.UploadURL != "" {
			uploadURL = mechanism.UploadURL
			break
		}
	}
	if uploadURL == "" || parsed.Value.Asset == "" {
		return Registration{}, TransportError{Platform: "linkedin", Err: fmt.Errorf("registration response missing upload URL or asset")}
	}

	return Registration{UploadURL: uploadURL, AssetRef: parsed.Value.Asset}, nil
}

// call issues one API request and returns the raw status, body and headers.
func (p *LinkedInPublisher) call(ctx context.Context, method, path, accessToken string, body []byte) (int, []byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, resp.Header, nil
}
