package api

import (
	"log/slog"
	"net/http"
	"regexp"

	"housingworkshop/internal/api/middleware"
	"housingworkshop/internal/model"
	"housingworkshop/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const maxSlugLen = 100

var moduleSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type markCompleteRequest struct {
	ModuleSlug string `json:"moduleSlug"`
}

// handleListProgress 返回当前用户已完成的模块 slug 列表。
func (s *Server) handleListProgress(c *gin.Context) {
	sess, _ := middleware.SessionFrom(c)
	slugs, err := s.store.ListCompleted(c.Request.Context(), sess.UserID)
	if err != nil {
		s.logger.Error("list progress failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "progress": slugs})
}

// handleMarkComplete 标记模块完成。重复调用只刷新完成时间。
func (s *Server) handleMarkComplete(c *gin.Context) {
	sess, _ := middleware.SessionFrom(c)
	ctx := c.Request.Context()

	var req markCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ModuleSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Module slug is required"})
		return
	}
	if len(req.ModuleSlug) > maxSlugLen || !moduleSlugPattern.MatchString(req.ModuleSlug) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid module slug"})
		return
	}

	count, err := s.store.MarkComplete(ctx, sess.UserID, req.ModuleSlug)
	if err != nil {
		s.logger.Error("mark complete failed",
			slog.String("user_id", sess.UserID),
			slog.String("module", req.ModuleSlug),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	metrics.ProgressCompletionsTotal.Inc()

	email := sess.Email
	if err := s.store.CreateEvent(ctx, &model.Event{
		UserEmail: &email,
		Type:      model.EventModuleCompleted,
		Meta:      model.Meta{"module": req.ModuleSlug},
	}); err != nil {
		s.logger.Warn("record completion event failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "completedCount": count})
}
