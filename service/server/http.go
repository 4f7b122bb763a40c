package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itiky/chatsync/model"
)

// NewRouter creates the HTTP API handler serving the ChatService.
func NewRouter(s *ChatService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET(model.DeltaPath, s.handleDelta)
	r.GET(model.HistoryPath, s.handleHistory)
	r.POST(model.ActionPath, s.handleAction)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r
}

func (s *ChatService) handleDelta(c *gin.Context) {
	req := model.DeltaRequest{
		Since:     model.Revision(c.Query("since")),
		AuthToken: c.Query("auth-token"),
		PageID:    c.Query("page-id"),
	}

	resp := s.Delta(c.Request.Context(), req)
	if c.Request.Context().Err() != nil {
		// Client is gone
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *ChatService) handleHistory(c *gin.Context) {
	req, err := model.ParseHistoryRequest(c.Request.URL.Query())
	if err != nil {
		monitor.RequestFailed("history")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.History(req)
	if err != nil {
		monitor.RequestFailed("history")
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

func (s *ChatService) handleAction(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		monitor.RequestFailed("action")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := model.ParseActionRequest(c.Request.PostForm)
	if err != nil {
		monitor.RequestFailed("action")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Action(c.Request.Context(), req); err != nil {
		monitor.RequestFailed("action")
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}

// errorStatus maps a ChatService error to the HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
