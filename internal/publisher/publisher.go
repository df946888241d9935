package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/abdulachik/crosspost/internal/credential"
)

// Post is the normalized content handed to every platform publisher.
// Media is already resolved to bytes; uploading it is the publisher's job.
type Post struct {
	Text     string
	Link     string
	Media    []MediaAsset
	Language string
}

// MediaAsset is one resolved media handle. It lives only for the duration
// of a single publish call.
type MediaAsset struct {
	Bytes    []byte
	MimeType string
	AltText  string
}

// UploadedRef is the platform-specific handle for a pre-uploaded asset.
// ID carries an opaque asset id or URN; Blob keeps the raw upload response
// for platforms that embed it verbatim in the post payload.
type UploadedRef struct {
	ID   string
	Blob json.RawMessage
}

// Session is a usable access token plus the canonical platform-side
// identity of the posting user.
type Session struct {
	AccessToken string
	Identity    string
}

// Result is a successful publish.
type Result struct {
	PostID string
}

// Publisher is one platform variant. Implementations map the normalized
// post into the platform's native content shape, upload media as needed,
// and perform the create-post call.
type Publisher interface {
	// Platform returns the platform identifier.
	Platform() string

	// Refresh exchanges the credential's refresh token for a new credential.
	Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error)

	// ResolveIdentity returns the canonical posting identity for the token.
	ResolveIdentity(ctx context.Context, accessToken string) (string, error)

	// Publish creates the post and returns the platform post id.
	Publish(ctx context.Context, post Post, session Session) (*Result, error)
}

// Shape is the selected native content shape for a post.
type Shape int

const (
	ShapeText Shape = iota
	ShapeImage
	ShapeArticle
)

// SelectShape applies the shared priority order: images win over a link,
// a link wins over plain text.
func SelectShape(post Post) Shape {
	switch {
	case len(post.Media) > 0:
		return ShapeImage
	case post.Link != "":
		return ShapeArticle
	default:
		return ShapeText
	}
}

// Truncate shortens s to at most max runes, appending an ellipsis when
// anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}

// ExtractPostID looks for the platform post id first in the named response
// header, then under the named key of the decoded JSON body. An empty
// result means neither yielded an id and the caller must fail closed.
func ExtractPostID(header string, body []byte, bodyKey string) string {
	if header != "" {
		return header
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ""
	}
	raw, ok := decoded[bodyKey]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}
