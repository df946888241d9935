// Package server exposes the HTTP API: OAuth connect flows, account
// status, and the create-post endpoint. Request authentication is
// expected to happen upstream; the caller identity arrives in the
// X-User-ID header.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abdulachik/crosspost/internal/app"
)

// Server wires the application into a gin engine.
type Server struct {
	app    *app.App
	engine *gin.Engine
}

// New creates the server and registers all routes.
func New(a *app.App) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{app: a, engine: engine}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	oauthRoutes := engine.Group("/oauth")
	{
		oauthRoutes.GET("/:platform/authorize", s.authorize)
		oauthRoutes.GET("/:platform/callback", s.callback)
	}

	api := engine.Group("/api")
	{
		api.POST("/accounts/bluesky/connect", s.connectBluesky)
		api.GET("/accounts/status", s.accountStatus)
		api.DELETE("/accounts/:platform", s.disconnect)
		api.POST("/posts", s.createPost)
	}

	return s
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// userID extracts the caller identity from the X-User-ID header, falling
// back to the user query parameter. An empty identity aborts with 400.
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		id = c.Query("user")
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return "", false
	}
	return id, true
}
