// Package preview fetches title and thumbnail metadata for an outbound
// link so publishers can build richer article shares. Failures here are
// soft: callers fall back to the bare URL.
package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	requestTimeout = 10 * time.Second

	// maxBodyBytes bounds how much HTML is read; og: tags live in <head>.
	maxBodyBytes = 512 * 1024
)

// Preview holds the optional metadata extracted for a URL.
type Preview struct {
	Title    string
	ImageURL string
}

// Resolver fetches preview metadata over HTTP.
type Resolver struct {
	httpClient *http.Client
	userAgent  string
}

// New creates a resolver with its own scoped HTTP client.
func New() *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: requestTimeout},
		userAgent:  "crosspost/1.0 (+link preview)",
	}
}

// Fetch retrieves the page and extracts og:title / og:image, falling back
// to the document title.
func (r *Resolver) Fetch(ctx context.Context, url string) (Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Preview{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Preview{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Preview{}, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	return parse(io.LimitReader(resp.Body, maxBodyBytes))
}

func parse(body io.Reader) (Preview, error) {
	var p Preview
	var docTitle string

	tokenizer := html.NewTokenizer(body)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or a parse error; keep whatever was collected
			if p.Title == "" {
				p.Title = strings.TrimSpace(docTitle)
			}
			return p, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "meta":
				prop, content := metaAttrs(token)
				switch prop {
				case "og:title":
					p.Title = content
				case "og:image":
					p.ImageURL = content
				}
			case "title":
				if tokenizer.Next() == html.TextToken {
					docTitle = tokenizer.Token().Data
				}
			case "body":
				// Past <head>; nothing useful follows
				if p.Title == "" {
					p.Title = strings.TrimSpace(docTitle)
				}
				return p, nil
			}
		}
	}
}

func metaAttrs(token html.Token) (property, content string) {
	for _, attr := range token.Attr {
		switch attr.Key {
		case "property", "name":
			property = attr.Val
		case "content":
			content = attr.Val
		}
	}
	return property, content
}
