package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"housingworkshop/internal/api/middleware"
	"housingworkshop/internal/model"
	"housingworkshop/internal/pkg/dedup"
	"housingworkshop/internal/pkg/metrics"
	"housingworkshop/internal/pkg/notify"
	"housingworkshop/internal/pkg/queue"
	"housingworkshop/internal/pkg/ratelimit"
	"housingworkshop/internal/pkg/token"
	"housingworkshop/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserStore 是认证流程依赖的持久化操作。
type UserStore interface {
	UpsertUser(ctx context.Context, in store.SignupInput) (*model.User, bool, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, fields map[string]any) (*model.User, error)
	SetPassword(ctx context.Context, id, hash string) error
	ConsumeSetupNonce(ctx context.Context, id, nonce, hash string) (bool, error)
	CreateEvent(ctx context.Context, e *model.Event) error
}

// JobSubmitter 接收后台任务（访问邮件）。
type JobSubmitter interface {
	Submit(job queue.Job) error
}

// Options 是与部署环境相关的设置。
type Options struct {
	BaseURL           string // 站点地址，用于生成设置密码链接
	WorkshopURL       string // 访问邮件中的 workshop 地址
	SecureCookies     bool   // 生产环境为 true
	AdminPasswordHash string // PBKDF2 "salt:hash"，为空表示禁止管理员登录
}

// Handler 提供注册、登录、资料与管理员认证接口。
type Handler struct {
	store   UserStore
	codec   *token.Codec
	limiter ratelimit.Limiter
	mailer  notify.Mailer
	jobs    JobSubmitter
	emails  *dedup.Window
	opts    Options
	logger  *slog.Logger
}

// NewHandler 创建 Auth Handler。emails 为 nil 时不做重复邮件抑制。
func NewHandler(st UserStore, codec *token.Codec, limiter ratelimit.Limiter, mailer notify.Mailer, jobs JobSubmitter, emails *dedup.Window, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		store:   st,
		codec:   codec,
		limiter: limiter,
		mailer:  mailer,
		jobs:    jobs,
		emails:  emails,
		opts:    opts,
		logger:  logger,
	}
}

var (
	errInvalidInput = gin.H{"success": false, "message": "Invalid input data"}
	errInternal     = gin.H{"success": false, "message": "Internal server error"}
	errBadLogin     = gin.H{"success": false, "message": "Invalid email or password"}
	errBadSetupLink = gin.H{"success": false, "message": "Invalid or expired setup link"}
)

type signupRequest struct {
	Name    string `json:"name" binding:"required,max=100"`
	Email   string `json:"email" binding:"required,max=254"`
	Consent bool   `json:"consent"`
}

// Signup 按邮箱创建或更新用户，签发会话 cookie，记录 signup 事件并异步发送访问邮件。
//
// 新注册不再设置默认密码：邮件里带一次性设置密码链接。
func (h *Handler) Signup(c *gin.Context) {
	ctx := c.Request.Context()
	ipDecision, ok := middleware.Allow(c, h.limiter, ratelimit.SignupIPRule, c.ClientIP(),
		gin.H{"success": false, "message": "Too many requests. Please try again later."}, h.logger)
	if !ok {
		return
	}

	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}
	if !req.Consent {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "You must agree to the terms"})
		return
	}
	email := NormalizeEmail(req.Email)
	if !IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid email format"})
		return
	}
	name := SanitizeInput(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}
	first, last := SplitName(name)

	if _, ok := middleware.Allow(c, h.limiter, ratelimit.SignupEmailRule, email,
		gin.H{"success": false, "message": "Too many requests for this email. Please try again later."}, h.logger); !ok {
		return
	}

	// 抑制窗口内不重发邮件，也不替换已发出链接里的 nonce
	alreadyMailed, err := h.emails.Seen(ctx, email)
	if err != nil {
		h.logger.Warn("email dedup check failed", slog.String("error", err.Error()))
	}
	nonce := ""
	if !alreadyMailed {
		nonce = uuid.NewString()
	}
	// 本次请求占用了抑制窗口但邮件没有发出时释放，允许用户重新注册拿到链接
	release := func() {
		if nonce != "" {
			_ = h.emails.Forget(ctx, email)
		}
	}

	user, created, err := h.store.UpsertUser(ctx, store.SignupInput{
		Email:      email,
		Name:       name,
		FirstName:  first,
		LastName:   last,
		SetupNonce: nonce,
	})
	if err != nil {
		release()
		h.logger.Error("signup upsert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}

	if err := h.store.CreateEvent(ctx, &model.Event{
		UserEmail: &user.Email,
		Type:      model.EventSignup,
		Meta:      model.Meta{"name": name},
	}); err != nil {
		release()
		h.logger.Error("record signup event failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}

	if !h.issueUserCookie(c, user) {
		release()
		return
	}

	if nonce != "" {
		h.enqueueAccessEmail(ctx, user, nonce)
	} else {
		metrics.EmailsTotal.WithLabelValues("deduplicated").Inc()
	}

	metrics.SignupsTotal.Inc()
	h.logger.Info("user signed up", slog.String("user_id", user.ID), slog.Bool("created", created))
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Successfully signed up! Check your email for access link.",
		"user":      user.Profile(),
		"remaining": ipDecision.Remaining,
	})
}

// enqueueAccessEmail 把访问邮件放进后台队列；发送失败不影响注册结果。
// 签名、入队或发送失败时释放去重标记，下一次注册会重新发信。
func (h *Handler) enqueueAccessEmail(ctx context.Context, user *model.User, nonce string) {
	setupToken, err := h.codec.Sign(token.Session{
		Role:   token.RoleSetup,
		UserID: user.ID,
		Email:  user.Email,
		Nonce:  nonce,
	}, token.SetupTokenTTL)
	if err != nil {
		_ = h.emails.Forget(ctx, user.Email)
		h.logger.Error("sign setup token failed", slog.String("error", err.Error()))
		return
	}
	msg := notify.AccessEmail{
		To:          user.Email,
		Name:        user.Name,
		WorkshopURL: h.opts.WorkshopURL,
		SetupURL:    strings.TrimRight(h.opts.BaseURL, "/") + "/setup-password?token=" + url.QueryEscape(setupToken),
	}
	job := queue.Job{Name: "access-email", Run: func(jobCtx context.Context) error {
		err := h.mailer.SendAccessEmail(jobCtx, msg)
		if err != nil {
			_ = h.emails.Forget(context.WithoutCancel(jobCtx), msg.To)
		}
		return err
	}}
	if h.jobs == nil {
		if err := job.Run(ctx); err != nil {
			h.logger.Warn("send access email failed", slog.String("error", err.Error()))
		}
		return
	}
	if err := h.jobs.Submit(job); err != nil {
		_ = h.emails.Forget(ctx, user.Email)
		h.logger.Warn("enqueue access email failed", slog.String("error", err.Error()))
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验邮箱与密码并签发会话 cookie。
func (h *Handler) Login(c *gin.Context) {
	if _, ok := middleware.Allow(c, h.limiter, ratelimit.LoginRule, c.ClientIP(),
		gin.H{"success": false, "message": "Too many login attempts. Please try again later."}, h.logger); !ok {
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}
	email := NormalizeEmail(req.Email)
	if !IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid email format"})
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		metrics.LoginsTotal.WithLabelValues("user", "invalid").Inc()
		c.JSON(http.StatusUnauthorized, errBadLogin)
		return
	}
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("user", "error").Inc()
		h.logger.Error("login lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if !user.HasPassword() {
		metrics.LoginsTotal.WithLabelValues("user", "invalid").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Please set your password using the link in your access email"})
		return
	}
	if !VerifyPassword(req.Password, user.Password) {
		metrics.LoginsTotal.WithLabelValues("user", "invalid").Inc()
		c.JSON(http.StatusUnauthorized, errBadLogin)
		return
	}

	if !h.issueUserCookie(c, user) {
		return
	}
	metrics.LoginsTotal.WithLabelValues("user", "success").Inc()
	h.logger.Info("user logged in", slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Login successful", "user": user.Profile()})
}

// Logout 清除会话 cookie。令牌本身无状态，到期前仍然有效。
func (h *Handler) Logout(c *gin.Context) {
	h.clearCookie(c, middleware.UserCookie, http.SameSiteLaxMode)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me 返回当前会话用户的资料。
func (h *Handler) Me(c *gin.Context) {
	sess, _ := middleware.SessionFrom(c)
	user, err := h.store.GetUser(c.Request.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false})
		return
	}
	if err != nil {
		h.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user.Profile()})
}

type profileUpdateRequest struct {
	Name      string `json:"name" binding:"max=100"`
	FirstName string `json:"firstName" binding:"max=100"`
	LastName  string `json:"lastName" binding:"max=100"`
	Bio       string `json:"bio" binding:"max=1000"`
	Phone     string `json:"phone" binding:"max=32"`
	Location  string `json:"location" binding:"max=100"`
	Avatar    string `json:"avatar" binding:"omitempty,url,max=500"`
}

// UpdateProfile 部分更新资料，空字段忽略。
func (h *Handler) UpdateProfile(c *gin.Context) {
	sess, _ := middleware.SessionFrom(c)

	var req profileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}

	fields := map[string]any{}
	for column, v := range map[string]string{
		"name":       req.Name,
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"bio":        req.Bio,
		"phone":      req.Phone,
		"location":   req.Location,
		"avatar":     req.Avatar,
	} {
		if v = SanitizeInput(v); v != "" {
			fields[column] = v
		}
	}

	user, err := h.store.UpdateProfile(c.Request.Context(), sess.UserID, fields)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error("update profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user.Profile()})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword 校验当前密码后设置新密码。
func (h *Handler) ChangePassword(c *gin.Context) {
	sess, _ := middleware.SessionFrom(c)
	ctx := c.Request.Context()

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}
	if msg, ok := ValidatePasswordStrength(req.NewPassword); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
		return
	}

	user, err := h.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if !user.HasPassword() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No password set yet. Use the link in your access email"})
		return
	}
	if !VerifyPassword(req.CurrentPassword, user.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Current password is incorrect"})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if err := h.store.SetPassword(ctx, user.ID, hash); err != nil {
		h.logger.Error("set password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	h.logger.Info("password updated", slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated successfully"})
}

type setupPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// SetupPassword 用一次性设置令牌设定密码，成功后直接登录。
func (h *Handler) SetupPassword(c *gin.Context) {
	ctx := c.Request.Context()
	if _, ok := middleware.Allow(c, h.limiter, ratelimit.SetupPasswordRule, c.ClientIP(),
		gin.H{"success": false, "message": "Too many attempts. Please try again later."}, h.logger); !ok {
		return
	}

	var req setupPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidInput)
		return
	}
	sess, ok := h.codec.Verify(req.Token, token.RoleSetup)
	if !ok {
		c.JSON(http.StatusUnauthorized, errBadSetupLink)
		return
	}
	if msg, ok := ValidatePasswordStrength(req.NewPassword); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	consumed, err := h.store.ConsumeSetupNonce(ctx, sess.UserID, sess.Nonce, hash)
	if err != nil {
		h.logger.Error("consume setup nonce failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if !consumed {
		c.JSON(http.StatusUnauthorized, errBadSetupLink)
		return
	}

	user, err := h.store.GetUser(ctx, sess.UserID)
	if err != nil {
		h.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if !h.issueUserCookie(c, user) {
		return
	}
	h.logger.Info("password set via setup link", slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password set successfully", "user": user.Profile()})
}

type adminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AdminLogin 校验管理员密码并签发 admin cookie。
func (h *Handler) AdminLogin(c *gin.Context) {
	ip := c.ClientIP()
	if _, ok := middleware.Allow(c, h.limiter, ratelimit.AdminLoginRule, ip,
		gin.H{"success": false, "message": "Too many admin login attempts. Please try again later."}, h.logger); !ok {
		return
	}

	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
		return
	}
	if msg, ok := ValidateAdminPasswordStrength(req.Password); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
		return
	}
	if h.opts.AdminPasswordHash == "" {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Admin login is disabled"})
		return
	}
	if !VerifyAdminPassword(req.Password, h.opts.AdminPasswordHash) {
		metrics.LoginsTotal.WithLabelValues("admin", "invalid").Inc()
		h.logger.Warn("admin login failed", slog.String("client_ip", ip))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid admin password"})
		return
	}

	raw, err := h.codec.Sign(token.Session{
		Role:     token.RoleAdmin,
		AdminID:  "admin",
		ClientIP: ip,
	}, token.AdminSessionTTL)
	if err != nil {
		h.logger.Error("sign admin token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	h.setCookie(c, middleware.AdminCookie, raw, token.AdminSessionTTL, http.SameSiteStrictMode)

	metrics.LoginsTotal.WithLabelValues("admin", "success").Inc()
	h.logger.Info("admin login succeeded", slog.String("client_ip", ip))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AdminLogout 清除 admin cookie。
func (h *Handler) AdminLogout(c *gin.Context) {
	h.clearCookie(c, middleware.AdminCookie, http.SameSiteStrictMode)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// issueUserCookie 签发用户会话并写入 access cookie；失败时已写入 500 响应。
func (h *Handler) issueUserCookie(c *gin.Context, user *model.User) bool {
	raw, err := h.codec.Sign(token.Session{
		Role:   token.RoleUser,
		UserID: user.ID,
		Email:  user.Email,
	}, token.UserSessionTTL)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errInternal)
		return false
	}
	h.setCookie(c, middleware.UserCookie, raw, token.UserSessionTTL, http.SameSiteLaxMode)
	return true
}

func (h *Handler) setCookie(c *gin.Context, name, value string, ttl time.Duration, sameSite http.SameSite) {
	c.SetSameSite(sameSite)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", "", h.opts.SecureCookies, true)
}

func (h *Handler) clearCookie(c *gin.Context, name string, sameSite http.SameSite) {
	c.SetSameSite(sameSite)
	c.SetCookie(name, "", -1, "/", "", h.opts.SecureCookies, true)
}
