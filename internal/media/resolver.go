// Package media resolves opaque media handles to their bytes. Handles name
// files under the configured media directory; storage and resizing happen
// upstream of this service.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdulachik/crosspost/internal/publisher"
)

// ErrInvalidHandle marks a handle the caller got wrong: a path outside the
// media directory. Read failures on a well-formed handle wrap the underlying
// os error instead, so callers can tell the two apart.
var ErrInvalidHandle = errors.New("invalid media handle")

// Resolver loads assets from the local media directory.
type Resolver struct {
	dir string
}

// NewResolver creates a resolver rooted at dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve reads the handle's bytes and sniffs its mime type. The alt text
// travels with the request, not the stored file, so the caller attaches it.
func (r *Resolver) Resolve(ctx context.Context, handle string) (publisher.MediaAsset, error) {
	clean := filepath.Clean(handle)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return publisher.MediaAsset{}, fmt.Errorf("%w %q", ErrInvalidHandle, handle)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, clean))
	if err != nil {
		return publisher.MediaAsset{}, fmt.Errorf("read media %q: %w", handle, err)
	}

	return publisher.MediaAsset{
		Bytes:    data,
		MimeType: http.DetectContentType(data),
	}, nil
}
