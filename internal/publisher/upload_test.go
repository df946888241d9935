package publisher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploader_Upload(t *testing.T) {
	asset := MediaAsset{Bytes: []byte("raw-image-bytes"), MimeType: "image/png"}

	t.Run("register then transfer", func(t *testing.T) {
		var gotBody []byte
		var gotContentType string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		register := func(ctx context.Context, accessToken, owner, mediaKind string) (Registration, error) {
			assert.Equal(t, "at", accessToken)
			assert.Equal(t, "urn:li:person:abc", owner)
			assert.Equal(t, "image", mediaKind)
			return Registration{UploadURL: server.URL, AssetRef: "asset-1"}, nil
		}

		u := NewUploader("testplatform", server.Client(), register)
		ref, err := u.Upload(context.Background(), "at", "urn:li:person:abc", "image", asset)
		require.NoError(t, err)
		assert.Equal(t, "asset-1", ref.ID)
		assert.Equal(t, []byte("raw-image-bytes"), gotBody)
		assert.Equal(t, "image/png", gotContentType)
	})

	t.Run("registration failure aborts the asset", func(t *testing.T) {
		register := func(ctx context.Context, accessToken, owner, mediaKind string) (Registration, error) {
			return Registration{}, UpstreamError{Platform: "testplatform", StatusCode: 403, Body: "denied"}
		}

		u := NewUploader("testplatform", http.DefaultClient, register)
		_, err := u.Upload(context.Background(), "at", "owner", "image", asset)

		var upstream UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, 403, upstream.StatusCode)
	})

	t.Run("transfer failure surfaces status and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInsufficientStorage)
			w.Write([]byte("disk full"))
		}))
		defer server.Close()

		register := func(ctx context.Context, accessToken, owner, mediaKind string) (Registration, error) {
			return Registration{UploadURL: server.URL, AssetRef: "asset-1"}, nil
		}

		u := NewUploader("testplatform", server.Client(), register)
		_, err := u.Upload(context.Background(), "at", "owner", "image", asset)

		var upstream UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, http.StatusInsufficientStorage, upstream.StatusCode)
		assert.Equal(t, "disk full", upstream.Body)
	})
}
