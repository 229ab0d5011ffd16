package admin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"housingworkshop/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	pingTimeout = 2 * time.Second
	csvHeader   = "id,name,email,createdAt\n"
	csvTime     = "2006-01-02T15:04:05.000Z"
)

// Handler 提供管理员看板接口，路由前需挂 admin 会话校验。
type Handler struct {
	agg    *Aggregator
	store  Store
	logger *slog.Logger
}

// NewHandler 创建管理员 Handler。
func NewHandler(agg *Aggregator, st Store, logger *slog.Logger) *Handler {
	return &Handler{agg: agg, store: st, logger: logger}
}

// Stats 先确认数据库可达（不可达返回 503），再返回统计。
func (h *Handler) Stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	err := h.store.Ping(ctx)
	cancel()
	if err != nil {
		h.logger.Error("admin stats: database unreachable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Database connection failed",
			"message": "Please check your database connection and try again",
		})
		return
	}
	c.JSON(http.StatusOK, h.agg.ComputeStats(c.Request.Context()))
}

// ExportCSV 按注册时间倒序导出用户列表。
//
// 逐行写出，不在内存中拼接整个文件；第一行写出之前出错时返回 500。
func (h *Handler) ExportCSV(c *gin.Context) {
	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="users.csv"`)
		c.Status(http.StatusOK)
		_, err := io.WriteString(c.Writer, csvHeader)
		return err
	}

	rows := 0
	err := h.store.EachUser(c.Request.Context(), func(r store.ExportRow) error {
		if err := start(); err != nil {
			return err
		}
		line := csvRow(r)
		if rows > 0 {
			line = "\n" + line
		}
		rows++
		_, err := io.WriteString(c.Writer, line)
		return err
	})
	if err == nil {
		err = start()
	}
	if err != nil {
		h.logger.Error("csv export failed", slog.String("error", err.Error()), slog.Int("rows", rows))
		if !started {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export CSV"})
		}
		return
	}
	h.logger.Info("csv export finished", slog.Int("rows", rows))
}

// csvRow 除 id 外每个字段都加引号，内部引号加倍。
func csvRow(r store.ExportRow) string {
	return r.ID + "," + quote(r.Name) + "," + quote(r.Email) + "," + quote(r.CreatedAt.UTC().Format(csvTime))
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
