package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"housingworkshop/internal/api/admin"
	"housingworkshop/internal/api/auth"
	"housingworkshop/internal/api/middleware"
	"housingworkshop/internal/config"
	"housingworkshop/internal/pkg/dedup"
	"housingworkshop/internal/pkg/metrics"
	"housingworkshop/internal/pkg/notify"
	"housingworkshop/internal/pkg/queue"
	"housingworkshop/internal/pkg/ratelimit"
	"housingworkshop/internal/pkg/token"
	"housingworkshop/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	emailJobTimeout = 30 * time.Second
	healthTimeout   = 2 * time.Second
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、可选的 Redis 客户端、限流器、后台队列以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	rdb     *redis.Client
	router  *gin.Engine
	codec   *token.Codec
	limiter ratelimit.Limiter
	memory  *ratelimit.MemoryLimiter // 仅 memory 后端时非空，用于启动清理
	jobs    *queue.Pool
	stats   *admin.Aggregator
	auth    *auth.Handler
	admin   *admin.Handler
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 按配置连接 Redis
// 3. 组装限流器、邮件队列与各路由处理器
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = store.New(db).Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	return New(cfg, logger, db, rdb)
}

// New 在已建立的连接上组装服务器。rdb 可以为 nil：此时只能使用内存限流，且不做邮件去重。
func New(cfg *config.Config, logger *slog.Logger, db *gorm.DB, rdb *redis.Client) (*Server, error) {
	codec, err := token.NewCodec(cfg.Security.AppSecret)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store.New(db),
		rdb:    rdb,
		codec:  codec,
		jobs:   queue.NewPool(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity, emailJobTimeout),
	}

	switch cfg.App.RateLimitBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis rate limit backend requires redis")
		}
		s.limiter = ratelimit.NewRedisLimiter(rdb, "")
	default:
		s.memory = ratelimit.NewMemoryLimiter(logger)
		s.limiter = s.memory
	}

	var emails *dedup.Window
	if rdb != nil {
		emails = dedup.NewWindow(rdb, "access-email", cfg.App.EmailDedupWindow)
	}

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	s.auth = auth.NewHandler(
		s.store,
		codec,
		s.limiter,
		notify.NewEmailNotifier(&cfg.Email, logger),
		s.jobs,
		emails,
		auth.Options{
			BaseURL:           cfg.App.BaseURL,
			WorkshopURL:       cfg.WorkshopLink(),
			SecureCookies:     cfg.IsProd(),
			AdminPasswordHash: cfg.Security.AdminPasswordHash,
		},
		logger,
	)
	s.stats = admin.NewAggregator(s.store, cfg.Location(), logger)
	s.admin = admin.NewHandler(s.stats, s.store, logger)

	r := gin.New()
	// 只信任配置中的代理，否则 ClientIP 可被 X-Forwarded-For 伪造
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.SecurityHeaders())
	s.router = r
	s.registerRoutes()
	return s, nil
}

// Start 启动后台 worker 与内存限流清理，ctx 结束时停止清理。
// worker 不随 ctx 结束，由 Shutdown 负责排空队列。
func (s *Server) Start(ctx context.Context) {
	s.jobs.Start(context.WithoutCancel(ctx))
	if s.memory != nil {
		s.memory.StartSweeper(ctx, s.cfg.App.SweepInterval)
	}
}

// SeedDemoData 写入演示数据（显式的启动步骤，统计接口本身不写库）。
func (s *Server) SeedDemoData(ctx context.Context) error {
	return s.stats.SeedDemoData(ctx)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown 等待队列中的邮件发完，超时后放弃剩余任务。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.jobs.Shutdown(ctx)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.Use(middleware.BlockSuspiciousAgents())
	api.Use(middleware.RateLimitByIP(s.limiter, ratelimit.APIRule, gin.H{"error": "Too many requests"}, s.logger))

	api.POST("/signup", s.auth.Signup)
	api.POST("/auth/login", s.auth.Login)
	api.POST("/auth/logout", s.auth.Logout)
	api.POST("/auth/setup-password", s.auth.SetupPassword)

	optional := api.Group("/", middleware.OptionalSession(s.codec, middleware.UserGate))
	optional.POST("/feedback", s.handleFeedback)
	optional.POST("/event", s.handleEvent)

	authed := api.Group("/", middleware.RequireSession(s.codec, middleware.UserGate))
	authed.GET("/auth/me", s.auth.Me)
	authed.POST("/profile/update", s.auth.UpdateProfile)
	authed.POST("/profile/password",
		middleware.RateLimitByIP(s.limiter, ratelimit.PasswordRule,
			gin.H{"success": false, "message": "Too many password change attempts. Please try again later."}, s.logger),
		s.auth.ChangePassword)
	authed.GET("/progress", s.handleListProgress)
	authed.POST("/progress", s.handleMarkComplete)

	api.POST("/admin/auth", s.auth.AdminLogin)
	api.POST("/admin/logout", s.auth.AdminLogout)
	adminGroup := api.Group("/admin", middleware.RequireSession(s.codec, middleware.AdminGate))
	adminGroup.GET("/stats", s.admin.Stats)
	adminGroup.GET("/export-csv", s.admin.ExportCSV)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz: database unreachable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("healthz: redis unreachable", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "queue": s.jobs.Stats()})
}
