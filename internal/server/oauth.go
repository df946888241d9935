package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/abdulachik/crosspost/internal/credential"
	"github.com/abdulachik/crosspost/internal/db"
	"github.com/abdulachik/crosspost/internal/publisher"
)

// authorize starts the OAuth2 code flow: it persists a one-shot CSRF
// state for the (user, platform) pair and redirects to the provider.
func (s *Server) authorize(c *gin.Context) {
	platform := c.Param("platform")
	client, ok := s.app.OAuth[platform]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or unconfigured platform"})
		return
	}

	user, ok := userID(c)
	if !ok {
		return
	}

	state := uuid.NewString()
	if err := s.app.Store.SaveOAuthState(c.Request.Context(), state, user, platform); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	c.Redirect(http.StatusFound, client.AuthorizeURL(state))
}

// callback completes the code flow: it consumes the state, redeems the
// code, and stores the resulting credential as a full-record replace.
func (s *Server) callback(c *gin.Context) {
	platform := c.Param("platform")
	client, ok := s.app.OAuth[platform]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or unconfigured platform"})
		return
	}

	if errCode := c.Query("error"); errCode != "" {
		msg := errCode
		if desc := c.Query("error_description"); desc != "" {
			msg += ": " + desc
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider denied authorization: " + msg})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.app.Store.ConsumeOAuthState(ctx, state, platform)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or already used state"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate state"})
		return
	}

	token, err := client.Exchange(ctx, code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed: " + err.Error()})
		return
	}

	cred := credential.Credential{
		UserID:       user,
		Platform:     platform,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ObtainedAt:   time.Now().UTC(),
		ExpiresIn:    token.ExpiresIn,
		Scope:        token.Scope,
	}
	if err := s.app.Store.PutCredential(ctx, cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected", "platform": platform})
}

type blueskyConnectRequest struct {
	Handle      string `json:"handle" binding:"required"`
	AppPassword string `json:"app_password" binding:"required"`
}

// connectBluesky creates an app-password session and stores it as a
// credential; Bluesky has no OAuth2 code flow.
func (s *Server) connectBluesky(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var req blueskyConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle and app_password are required"})
		return
	}

	ctx := c.Request.Context()
	cred, err := s.app.Bluesky.Connect(ctx, user, req.Handle, req.AppPassword)
	if err != nil {
		var upstream publisher.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusUnauthorized {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid handle or app password"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "session create failed: " + err.Error()})
		return
	}

	if err := s.app.Store.PutCredential(ctx, cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected", "platform": "bluesky"})
}
