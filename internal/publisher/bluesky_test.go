package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeBluesky(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var createBodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["password"] != "app-pass" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"AuthenticationRequired"}`))
				return
			}
			json.NewEncoder(w).Encode(blueskySession{
				DID: "did:plc:xyz", Handle: req["identifier"],
				AccessJwt: "access-jwt", RefreshJwt: "refresh-jwt",
			})

		case "/xrpc/com.atproto.server.refreshSession":
			if r.Header.Get("Authorization") != "Bearer refresh-jwt" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"ExpiredToken"}`))
				return
			}
			json.NewEncoder(w).Encode(blueskySession{
				DID: "did:plc:xyz", AccessJwt: "access-jwt-2", RefreshJwt: "refresh-jwt-2",
			})

		case "/xrpc/com.atproto.server.getSession":
			json.NewEncoder(w).Encode(blueskySession{DID: "did:plc:xyz", Handle: "alice.bsky.social"})

		case "/xrpc/com.atproto.repo.uploadBlob":
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"bafyabc"},"mimeType":"image/png","size":3}}`))

		case "/xrpc/com.atproto.repo.createRecord":
			body, _ := io.ReadAll(r.Body)
			createBodies = append(createBodies, string(body))
			w.Write([]byte(`{"uri":"at://did:plc:xyz/app.bsky.feed.post/rkey1","cid":"cid1"}`))

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	return server, &createBodies
}

func TestBlueskyPublisher_Connect(t *testing.T) {
	server, _ := newFakeBluesky(t)
	b := NewBlueskyPublisher(BlueskyConfig{PDSURL: server.URL})

	t.Run("valid app password", func(t *testing.T) {
		cred, err := b.Connect(context.Background(), "alice", "alice.bsky.social", "app-pass")
		require.NoError(t, err)
		assert.Equal(t, "alice", cred.UserID)
		assert.Equal(t, "bluesky", cred.Platform)
		assert.Equal(t, "access-jwt", cred.AccessToken)
		assert.Equal(t, "refresh-jwt", cred.RefreshToken)
		assert.Equal(t, int64(blueskySessionLifetime), cred.ExpiresIn)
	})

	t.Run("rejected app password", func(t *testing.T) {
		_, err := b.Connect(context.Background(), "alice", "alice.bsky.social", "wrong")
		var upstream UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	})
}

func TestBlueskyPublisher_Refresh(t *testing.T) {
	server, _ := newFakeBluesky(t)
	b := NewBlueskyPublisher(BlueskyConfig{PDSURL: server.URL})

	renewed, err := b.Refresh(context.Background(), credential.Credential{
		UserID:       "alice",
		Platform:     "bluesky",
		AccessToken:  "stale",
		RefreshToken: "refresh-jwt",
	})
	require.NoError(t, err)
	assert.Equal(t, "access-jwt-2", renewed.AccessToken)
	assert.Equal(t, "refresh-jwt-2", renewed.RefreshToken)
}

func TestBlueskyPublisher_Publish(t *testing.T) {
	session := Session{AccessToken: "access-jwt", Identity: "did:plc:xyz"}

	t.Run("text only", func(t *testing.T) {
		server, bodies := newFakeBluesky(t)
		b := NewBlueskyPublisher(BlueskyConfig{PDSURL: server.URL})

		result, err := b.Publish(context.Background(), Post{Text: "hello", Language: "en"}, session)
		require.NoError(t, err)
		assert.Equal(t, "at://did:plc:xyz/app.bsky.feed.post/rkey1", result.PostID)

		require.Len(t, *bodies, 1)
		assert.Contains(t, (*bodies)[0], `"repo":"did:plc:xyz"`)
		assert.Contains(t, (*bodies)[0], `"langs":["en"]`)
		assert.NotContains(t, (*bodies)[0], "embed")
	})

	t.Run("image embed carries the blob", func(t *testing.T) {
		server, bodies := newFakeBluesky(t)
		b := NewBlueskyPublisher(BlueskyConfig{PDSURL: server.URL})

		post := Post{
			Text:  "pic",
			Media: []MediaAsset{{Bytes: []byte("png"), MimeType: "image/png", AltText: "a cat"}},
		}
		_, err := b.Publish(context.Background(), post, session)
		require.NoError(t, err)

		require.Len(t, *bodies, 1)
		assert.Contains(t, (*bodies)[0], `"$type":"app.bsky.embed.images"`)
		assert.Contains(t, (*bodies)[0], `"bafyabc"`)
		assert.Contains(t, (*bodies)[0], `"alt":"a cat"`)
	})

	t.Run("link becomes an external embed", func(t *testing.T) {
		server, bodies := newFakeBluesky(t)
		b := NewBlueskyPublisher(BlueskyConfig{PDSURL: server.URL})

		_, err := b.Publish(context.Background(), Post{Text: "read", Link: "https://example.com/a"}, session)
		require.NoError(t, err)

		require.Len(t, *bodies, 1)
		assert.Contains(t, (*bodies)[0], `"$type":"app.bsky.embed.external"`)
		assert.Contains(t, (*bodies)[0], `"uri":"https://example.com/a"`)
	})
}
