package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/crosspost/internal/app"
	"github.com/abdulachik/crosspost/internal/broadcast"
	"github.com/abdulachik/crosspost/internal/config"
	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/abdulachik/crosspost/internal/db"
	"github.com/abdulachik/crosspost/internal/media"
	"github.com/abdulachik/crosspost/internal/oauth"
	"github.com/abdulachik/crosspost/internal/publisher"
	"github.com/abdulachik/crosspost/internal/token"
)

// fakePDS is a minimal Bluesky PDS covering the session and record
// endpoints the server reaches.
func fakePDS(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Identifier, Password string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"AuthenticationRequired"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"did":        "did:plc:abc123",
			"handle":     body.Identifier,
			"accessJwt":  "access-jwt",
			"refreshJwt": "refresh-jwt",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.getSession", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:abc123", "handle": "alice.test"})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:abc123/app.bsky.feed.post/3k44",
			"cid": "bafy123",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// fakeTokenEndpoint redeems any code for a fixed token.
func fakeTokenEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "li-access",
			"refresh_token": "li-refresh",
			"expires_in":    3600,
			"scope":         "w_member_social",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	ctx := context.Background()

	store, err := db.NewStore(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	pds := fakePDS(t)
	tokenSrv := fakeTokenEndpoint(t)

	linkedinOAuth := oauth.New(oauth.Config{
		Endpoints: oauth.Endpoints{
			AuthURL:  "https://provider.test/authorize",
			TokenURL: tokenSrv.URL,
		},
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/oauth/linkedin/callback",
		Scopes:       []string{"openid", "w_member_social"},
	})

	bluesky := publisher.NewBlueskyPublisher(publisher.BlueskyConfig{PDSURL: pds.URL})
	publishers := map[string]publisher.Publisher{"bluesky": bluesky}

	tokens := token.New(token.Config{
		Store:   store,
		Clients: map[string]token.PlatformClient{"bluesky": bluesky},
	})

	a := &app.App{
		Config:     &config.Config{},
		Store:      store,
		Publishers: publishers,
		Bluesky:    bluesky,
		OAuth:      map[string]*oauth.Client{"linkedin": linkedinOAuth},
		Tokens:     tokens,
		Coordinator: broadcast.New(broadcast.Config{
			Store:      store,
			Tokens:     tokens,
			Publishers: publishers,
			Media:      media.NewResolver(t.TempDir()),
		}),
	}

	return New(a), a
}

func doJSON(t *testing.T, s *Server, method, target, user string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthorize(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("redirects with state", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/authorize", "u1", nil)
		require.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "provider.test", loc.Host)
		assert.Equal(t, "code", loc.Query().Get("response_type"))
		assert.Equal(t, "client-id", loc.Query().Get("client_id"))
		assert.NotEmpty(t, loc.Query().Get("state"))
	})

	t.Run("unknown platform", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/myspace/authorize", "u1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing user", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/authorize", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("user from query fallback", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/authorize?user=u2", "", nil)
		assert.Equal(t, http.StatusFound, rec.Code)
	})
}

func TestCallback(t *testing.T) {
	s, a := newTestServer(t)

	// Obtain a real state through the authorize redirect
	startFlow := func(t *testing.T, user string) string {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/authorize", user, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		return loc.Query().Get("state")
	}

	t.Run("stores credential", func(t *testing.T) {
		state := startFlow(t, "u1")
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/callback?code=c1&state="+state, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		cred, err := a.Store.GetCredential(context.Background(), "u1", "linkedin")
		require.NoError(t, err)
		assert.Equal(t, "li-access", cred.AccessToken)
		assert.Equal(t, "li-refresh", cred.RefreshToken)
		assert.Equal(t, int64(3600), cred.ExpiresIn)
	})

	t.Run("state is one-shot", func(t *testing.T) {
		state := startFlow(t, "u1")
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/callback?code=c1&state="+state, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/oauth/linkedin/callback?code=c1&state="+state, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider error surfaced", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/callback?error=access_denied&error_description=user+said+no", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "access_denied")
		assert.Contains(t, rec.Body.String(), "user said no")
	})

	t.Run("unknown state", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/oauth/linkedin/callback?code=c1&state=bogus", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConnectBluesky(t *testing.T) {
	s, a := newTestServer(t)

	t.Run("stores session credential", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/accounts/bluesky/connect", "u1",
			map[string]string{"handle": "alice.test", "app_password": "app-pass"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		cred, err := a.Store.GetCredential(context.Background(), "u1", "bluesky")
		require.NoError(t, err)
		assert.Equal(t, "access-jwt", cred.AccessToken)
		assert.Equal(t, "refresh-jwt", cred.RefreshToken)
	})

	t.Run("bad app password", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/accounts/bluesky/connect", "u1",
			map[string]string{"handle": "alice.test", "app_password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/accounts/bluesky/connect", "u1",
			map[string]string{"handle": "alice.test"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAccountStatus(t *testing.T) {
	s, a := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, a.Store.PutCredential(ctx, credential.Credential{
		UserID: "u1", Platform: "bluesky",
		AccessToken: "jwt", RefreshToken: "rjwt",
		ObtainedAt: time.Now().UTC(), ExpiresIn: 7200,
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/accounts/status", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Accounts []struct {
			Platform  string     `json:"platform"`
			Connected bool       `json:"connected"`
			ExpiresAt *time.Time `json:"expires_at"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "bluesky", resp.Accounts[0].Platform)
	assert.True(t, resp.Accounts[0].Connected)
	assert.NotNil(t, resp.Accounts[0].ExpiresAt)
}

func TestDisconnect(t *testing.T) {
	s, a := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, a.Store.PutCredential(ctx, credential.Credential{
		UserID: "u1", Platform: "bluesky", AccessToken: "jwt",
		ObtainedAt: time.Now().UTC(),
	}))

	rec := doJSON(t, s, http.MethodDelete, "/api/accounts/bluesky", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := a.Store.GetCredential(ctx, "u1", "bluesky")
	assert.ErrorIs(t, err, db.ErrNotFound)

	rec = doJSON(t, s, http.MethodDelete, "/api/accounts/bluesky", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePost(t *testing.T) {
	s, a := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, a.Store.PutCredential(ctx, credential.Credential{
		UserID: "u1", Platform: "bluesky",
		AccessToken: "access-jwt", RefreshToken: "refresh-jwt",
		ObtainedAt: time.Now().UTC(), ExpiresIn: 7200,
	}))

	t.Run("publishes to connected platform", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/posts", "u1",
			map[string]any{"content": "hello world"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Results []struct {
				Target string `json:"target"`
				Status string `json:"status"`
				PostID string `json:"post_id"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "bluesky", resp.Results[0].Target)
		assert.Equal(t, "ok", resp.Results[0].Status)
		assert.Contains(t, resp.Results[0].PostID, "at://")
	})

	t.Run("blank content", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/posts", "u1",
			map[string]any{"content": "   "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no connected targets", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/posts", "nobody",
			map[string]any{"content": "hello"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "no targets")
	})

	t.Run("form fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/posts",
			bytes.NewReader([]byte("content=from+a+form")))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}
