package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abdulachik/crosspost/internal/broadcast"
)

type postEntry struct {
	Target  string `json:"target"`
	Status  string `json:"status"`
	PostID  string `json:"post_id,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// createPost fans the request out to the resolved targets and maps the
// composite result onto the response status: 200 when every target
// succeeded, 207 on a partial success, 502 when all targets failed.
func (s *Server) createPost(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var req broadcast.Request
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	} else {
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}

	result, err := s.app.Coordinator.Broadcast(c.Request.Context(), user, req)
	if err != nil {
		var verr broadcast.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "broadcast failed"})
		return
	}

	entries := make([]postEntry, len(result.Outcomes))
	for i, o := range result.Outcomes {
		entry := postEntry{Target: o.Target, Status: "failed"}
		if o.OK {
			entry.Status = "ok"
			entry.PostID = o.PostID
		} else {
			entry.Code = o.StatusCode
			entry.Message = o.Message
		}
		entries[i] = entry
	}

	switch result.Status() {
	case broadcast.StatusOK:
		c.JSON(http.StatusOK, gin.H{"results": entries})
	case broadcast.StatusPartial:
		c.JSON(http.StatusMultiStatus, gin.H{"error": "some targets failed", "results": entries})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "all targets failed", "results": entries})
	}
}
