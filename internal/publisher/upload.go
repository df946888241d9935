package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Registration is what the first upload phase must yield: where to send the
// bytes and the asset reference the post payload will embed.
type Registration struct {
	UploadURL string
	AssetRef  string
}

// RegisterFunc performs the platform-specific registration phase: a small
// JSON descriptor naming the owner identity and declared media kind.
type RegisterFunc func(ctx context.Context, accessToken, owner, mediaKind string) (Registration, error)

// Uploader drives the two-phase upload protocol used by platforms that do
// not accept inline binary in the post body: register, then PUT the raw
// bytes to the returned upload URL. The two phases for one asset are
// strictly sequential; there is no automatic retry.
type Uploader struct {
	platform string
	client   *http.Client
	register RegisterFunc
}

// NewUploader creates an uploader for one platform.
func NewUploader(platform string, client *http.Client, register RegisterFunc) *Uploader {
	return &Uploader{
		platform: platform,
		client:   client,
		register: register,
	}
}

// Upload registers the asset and transfers its bytes. Any failure aborts
// the whole asset and surfaces the upstream status and body.
func (u *Uploader) Upload(ctx context.Context, accessToken, owner, mediaKind string, asset MediaAsset) (UploadedRef, error) {
	reg, err := u.register(ctx, accessToken, owner, mediaKind)
	if err != nil {
		return UploadedRef{}, fmt.Errorf("register upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reg.UploadURL, bytes.NewReader(asset.Bytes))
	if err != nil {
		return UploadedRef{}, TransportError{Platform: u.platform, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", asset.MimeType)

	resp, err := u.client.Do(req)
	if err != nil {
		return UploadedRef{}, TransportError{Platform: u.platform, Err: fmt.Errorf("transfer bytes: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadedRef{}, TransportError{Platform: u.platform, Err: fmt.Errorf("read response: %w", err)}
	}

	// 201 Created is the common success answer here
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UploadedRef{}, UpstreamError{Platform: u.platform, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return UploadedRef{ID: reg.AssetRef}, nil
}
