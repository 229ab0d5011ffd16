package api

import (
	"log/slog"
	"net/http"
	"strings"

	"housingworkshop/internal/api/auth"
	"housingworkshop/internal/api/middleware"
	"housingworkshop/internal/model"

	"github.com/gin-gonic/gin"
)

type feedbackRequest struct {
	Message string `json:"message" binding:"required,max=1000"`
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Name    string `json:"name" binding:"max=100"` // 前端会带上，不入库
}

// handleFeedback 追加一条反馈；已登录时关联用户，否则匿名。
func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid feedback data"})
		return
	}
	message := auth.SanitizeInput(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid feedback data"})
		return
	}

	fb := &model.Feedback{Message: message, Rating: req.Rating}
	if sess, ok := middleware.SessionFrom(c); ok {
		fb.UserID = &sess.UserID
	}
	if err := s.store.CreateFeedback(c.Request.Context(), fb); err != nil {
		s.logger.Error("create feedback failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Thank you for your feedback!"})
}

type eventRequest struct {
	Type model.EventType `json:"type" binding:"required"`
	Meta model.Meta      `json:"meta"`
}

// handleEvent 记录埋点事件。
//
// 未登录的请求必须带本站 Referer，否则返回 401。
func (s *Server) handleEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event data"})
		return
	}

	ev := &model.Event{Type: req.Type, Meta: req.Meta}
	if sess, ok := middleware.SessionFrom(c); ok && sess.Email != "" {
		ev.UserEmail = &sess.Email
	} else if !s.sameOrigin(c.GetHeader("Referer")) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	if err := s.store.CreateEvent(c.Request.Context(), ev); err != nil {
		s.logger.Error("create event failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) sameOrigin(referer string) bool {
	base := s.cfg.App.BaseURL
	return base != "" && referer != "" && strings.HasPrefix(referer, base)
}
