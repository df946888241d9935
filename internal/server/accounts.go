package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abdulachik/crosspost/internal/db"
)

type platformAccount struct {
	Platform   string     `json:"platform"`
	Connected  bool       `json:"connected"`
	ObtainedAt *time.Time `json:"obtained_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// accountStatus reports, per known platform, whether the user holds a
// credential and when it expires. Non-expiring credentials report no
// expiry.
func (s *Server) accountStatus(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	platforms := make([]string, 0, len(s.app.Publishers))
	for name := range s.app.Publishers {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)

	ctx := c.Request.Context()
	statuses := make([]platformAccount, 0, len(platforms))
	for _, platform := range platforms {
		status := platformAccount{Platform: platform}

		cred, err := s.app.Store.GetCredential(ctx, user, platform)
		switch {
		case errors.Is(err, db.ErrNotFound):
			// Not connected
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credentials"})
			return
		default:
			status.Connected = true
			obtained := cred.ObtainedAt
			status.ObtainedAt = &obtained
			if cred.ExpiresIn > 0 {
				expires := cred.ExpiresAt()
				status.ExpiresAt = &expires
			}
		}

		statuses = append(statuses, status)
	}

	c.JSON(http.StatusOK, gin.H{"accounts": statuses})
}

// disconnect deletes the user's credential for one platform. This is the
// only path that removes a credential.
func (s *Server) disconnect(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	platform := c.Param("platform")
	err := s.app.Store.DeleteCredential(c.Request.Context(), user, platform)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not connected"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "platform": platform})
}
