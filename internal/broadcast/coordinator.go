// Package broadcast fans one authoring request out to the user's
// configured platforms, isolating per-target failures and aggregating a
// composite result.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/abdulachik/crosspost/internal/db"
	"github.com/abdulachik/crosspost/internal/media"
	"github.com/abdulachik/crosspost/internal/publisher"
)

// ImageRef names one media handle and its alt text.
type ImageRef struct {
	Handle string `json:"handle" form:"handle"`
	Alt    string `json:"alt" form:"alt"`
}

// Request is one authoring request.
type Request struct {
	Content     string     `json:"content" form:"content"`
	Link        string     `json:"link" form:"link"`
	Images      []ImageRef `json:"images"`
	Targets     []string   `json:"targets" form:"targets"`
	Language    string     `json:"language" form:"language"`
	CleanupHTML bool       `json:"cleanup_html" form:"cleanup_html"`
}

// Outcome is the terminal state of one (request, target) pair.
type Outcome struct {
	Target     string `json:"target"`
	OK         bool   `json:"ok"`
	PostID     string `json:"post_id,omitempty"`
	StatusCode int    `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	Body       string `json:"-"`
}

// Status is the derived overall outcome of a broadcast.
type Status int

const (
	StatusOK Status = iota
	StatusPartial
	StatusFailed
)

// Result is the composite outcome, ordered by resolved target.
type Result struct {
	Outcomes []Outcome
}

// Status derives the overall state; it is never stored.
func (r *Result) Status() Status {
	succeeded := 0
	for _, o := range r.Outcomes {
		if o.OK {
			succeeded++
		}
	}
	switch succeeded {
	case len(r.Outcomes):
		return StatusOK
	case 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// TokenManager yields a usable session for one target.
type TokenManager interface {
	EnsureValid(ctx context.Context, userID, platform string) (publisher.Session, error)
}

// Store lists configured platforms and records outcomes.
type Store interface {
	ListPlatforms(ctx context.Context, userID string) ([]string, error)
	RecordPublish(ctx context.Context, e db.PublishLogEntry) error
}

// MediaResolver turns an opaque handle into asset bytes.
type MediaResolver interface {
	Resolve(ctx context.Context, handle string) (publisher.MediaAsset, error)
}

// Coordinator drives the per-target publish pipeline.
type Coordinator struct {
	store      Store
	tokens     TokenManager
	publishers map[string]publisher.Publisher
	media      MediaResolver
}

// Config holds coordinator configuration.
type Config struct {
	Store      Store
	Tokens     TokenManager
	Publishers map[string]publisher.Publisher
	Media      MediaResolver
}

// New creates a new coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		store:      cfg.Store,
		tokens:     cfg.Tokens,
		publishers: cfg.Publishers,
		media:      cfg.Media,
	}
}

// Broadcast validates the request, resolves the target set, and publishes
// to every target independently. It returns a ValidationError before any
// network call for malformed requests; per-target failures land in the
// result, never as an error.
func (c *Coordinator) Broadcast(ctx context.Context, userID string, req Request) (*Result, error) {
	text := req.Content
	if req.CleanupHTML {
		text = CleanHTML(text)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ValidationError{Reason: "content must not be blank"}
	}

	targets, err := c.resolveTargets(ctx, userID, req.Targets)
	if err != nil {
		return nil, err
	}

	assets, err := c.resolveMedia(ctx, req.Images)
	if err != nil {
		// A bad or unknown handle is the caller's mistake; anything else
		// (permissions, disk) is ours and must not surface as a 400.
		if errors.Is(err, media.ErrInvalidHandle) || errors.Is(err, fs.ErrNotExist) {
			return nil, ValidationError{Reason: err.Error()}
		}
		return nil, fmt.Errorf("resolve media: %w", err)
	}

	post := publisher.Post{
		Text:     text,
		Link:     req.Link,
		Media:    assets,
		Language: req.Language,
	}

	// Detach from the inbound request: an abandoned caller must not tear
	// down an in-flight platform write and leave a post with no recorded
	// outcome.
	bctx := context.WithoutCancel(ctx)

	outcomes := make([]Outcome, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = c.publishOne(bctx, userID, target, post)
		}()
	}
	wg.Wait()

	result := &Result{Outcomes: outcomes}
	c.record(bctx, userID, result)
	return result, nil
}

// resolveTargets intersects the explicit list with the user's configured
// platforms, or takes all configured platforms when no list was given.
func (c *Coordinator) resolveTargets(ctx context.Context, userID string, explicit []string) ([]string, error) {
	configured, err := c.store.ListPlatforms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}

	configuredSet := make(map[string]bool, len(configured))
	for _, p := range configured {
		if _, known := c.publishers[p]; known {
			configuredSet[p] = true
		}
	}

	var targets []string
	seen := make(map[string]bool)
	pick := func(name string) {
		if configuredSet[name] && !seen[name] {
			seen[name] = true
			targets = append(targets, name)
		}
	}

	if len(explicit) > 0 {
		for _, name := range explicit {
			pick(name)
		}
	} else {
		for _, name := range configured {
			pick(name)
		}
	}

	if len(targets) == 0 {
		return nil, ValidationError{Reason: "no targets"}
	}
	return targets, nil
}

func (c *Coordinator) resolveMedia(ctx context.Context, images []ImageRef) ([]publisher.MediaAsset, error) {
	if len(images) == 0 {
		return nil, nil
	}
	assets := make([]publisher.MediaAsset, len(images))
	for i, img := range images {
		asset, err := c.media.Resolve(ctx, img.Handle)
		if err != nil {
			return nil, err
		}
		asset.AltText = img.Alt
		assets[i] = asset
	}
	return assets, nil
}

// publishOne runs the per-target pipeline: credential, then publish. Its
// failure never reaches sibling targets.
func (c *Coordinator) publishOne(ctx context.Context, userID, target string, post publisher.Post) Outcome {
	session, err := c.tokens.EnsureValid(ctx, userID, target)
	if err != nil {
		return failureOutcome(target, err)
	}

	result, err := c.publishers[target].Publish(ctx, post, session)
	if err != nil {
		return failureOutcome(target, err)
	}

	return Outcome{Target: target, OK: true, PostID: result.PostID}
}

// failureOutcome maps the error kind onto the composite entry shape.
func failureOutcome(target string, err error) Outcome {
	slog.Warn("publish failed", "target", target, "error", err)

	var authErr publisher.AuthError
	if errors.As(err, &authErr) {
		return Outcome{Target: target, StatusCode: http.StatusUnauthorized, Message: authErr.Error()}
	}

	var upstream publisher.UpstreamError
	if errors.As(err, &upstream) {
		return Outcome{
			Target:     target,
			StatusCode: upstream.StatusCode,
			Message:    fmt.Sprintf("%s rejected the post", target),
			Body:       upstream.Body,
		}
	}

	// Transport or parse failure; keep the message free of raw bodies
	return Outcome{Target: target, StatusCode: http.StatusInternalServerError, Message: err.Error()}
}

func (c *Coordinator) record(ctx context.Context, userID string, result *Result) {
	for _, o := range result.Outcomes {
		entry := db.PublishLogEntry{
			UserID:         userID,
			Platform:       o.Target,
			Status:         "failed",
			PlatformPostID: o.PostID,
			HTTPStatus:     o.StatusCode,
			Message:        o.Message,
		}
		if o.OK {
			entry.Status = "published"
		}
		if err := c.store.RecordPublish(ctx, entry); err != nil {
			slog.Warn("failed to record publish outcome", "target", o.Target, "error", err)
		}
	}
}
