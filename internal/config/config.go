package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// MinSecretLength 是 APP_SECRET 的最小长度。
const MinSecretLength = 32

// ErrWeakSecret 表示签名密钥缺失或过短。
var ErrWeakSecret = errors.New("APP_SECRET must be at least 32 characters long")

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`                // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`          // API 服务监听地址
	BaseURL          string        `json:"base_url"`           // 站点地址（同源 referer 校验、邮件链接）
	WorkshopURL      string        `json:"workshop_url"`       // 外部 workshop 地址（为空时使用 BaseURL/workshop）
	TimeZone         string        `json:"time_zone"`          // 统计按月分桶使用的时区
	SeedDemoData     bool          `json:"seed_demo_data"`     // 启动时写入演示数据
	RateLimitBackend string        `json:"rate_limit_backend"` // 限流后端: memory / redis
	SweepInterval    time.Duration `json:"sweep_interval"`     // 内存限流条目清理间隔（如 "5m"）
	WorkerPoolSize   int           `json:"worker_pool_size"`   // Worker Pool 大小（异步邮件）
	QueueCapacity    int           `json:"queue_capacity"`     // 队列容量
	EmailDedupWindow time.Duration `json:"email_dedup_window"` // 同一邮箱重复发送访问邮件的抑制窗口
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`   // 优雅关闭超时
	TrustedProxies   []string      `json:"trusted_proxies"`    // 可信反向代理 CIDR/IP，为空时忽略 X-Forwarded-For
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / postgres
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`  // 是否启用 Redis（限流 / 去重）
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	AppSecret         string `json:"app_secret"`          // JWT 签名密钥（至少 32 字符）
	AdminPasswordHash string `json:"admin_password_hash"` // 管理员密码 PBKDF2 哈希 "salt:hash"（为空表示禁止管理员登录）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先于文件中的值。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		// 没有配置文件时，演示数据只在非生产环境默认写入
		if _, ok := envBool("APP_SEED_DEMO_DATA"); !ok {
			cfg.App.SeedDemoData = !cfg.IsProd()
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate 校验启动必需项。
func (c *Config) Validate() error {
	if len(c.Security.AppSecret) < MinSecretLength {
		return ErrWeakSecret
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	switch c.App.RateLimitBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("rate_limit_backend=redis requires redis to be enabled")
		}
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.App.RateLimitBackend)
	}
	if _, err := time.LoadLocation(c.App.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.App.TimeZone, err)
	}
	return nil
}

// IsProd 生产环境下 cookie 带 Secure 标记。
func (c *Config) IsProd() bool {
	return c.App.Env == "prod" || c.App.Env == "production"
}

// WorkshopLink 返回访问邮件中的 workshop 地址。
func (c *Config) WorkshopLink() string {
	if c.App.WorkshopURL != "" {
		return c.App.WorkshopURL
	}
	return strings.TrimRight(c.App.BaseURL, "/") + "/workshop"
}

// Location 返回统计使用的时区，非法值回退到 UTC。
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8080",
			BaseURL:          "http://localhost:3000",
			TimeZone:         "UTC",
			SeedDemoData:     true,
			RateLimitBackend: "memory",
			SweepInterval:    5 * time.Minute,
			WorkerPoolSize:   4,
			QueueCapacity:    256,
			EmailDedupWindow: 10 * time.Minute,
			ShutdownTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/housingworkshop?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			FromEmail: "workshop@example.com",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = defaults.App.BaseURL
	}
	if cfg.App.TimeZone == "" {
		cfg.App.TimeZone = defaults.App.TimeZone
	}
	if cfg.App.RateLimitBackend == "" {
		cfg.App.RateLimitBackend = defaults.App.RateLimitBackend
	}
	if cfg.App.SweepInterval == 0 {
		cfg.App.SweepInterval = defaults.App.SweepInterval
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.EmailDedupWindow == 0 {
		cfg.App.EmailDedupWindow = defaults.App.EmailDedupWindow
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = defaults.App.ShutdownTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "mysql" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.FromEmail == "" {
		cfg.Email.FromEmail = defaults.Email.FromEmail
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("app_secret", "APP_SECRET")
	_ = viper.BindEnv("admin_password_hash", "ADMIN_PASSWORD_HASH")
	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.App.BaseURL = v
	} else if v := os.Getenv("NEXT_PUBLIC_BASE_URL"); v != "" {
		cfg.App.BaseURL = v
	}
	if v := os.Getenv("WORKSHOP_EXTERNAL_URL"); v != "" {
		cfg.App.WorkshopURL = v
	}
	if v := os.Getenv("APP_TIMEZONE"); v != "" {
		cfg.App.TimeZone = v
	}
	if b, ok := envBool("APP_SEED_DEMO_DATA"); ok {
		cfg.App.SeedDemoData = b
	}
	if v := os.Getenv("APP_RATE_LIMIT_BACKEND"); v != "" {
		cfg.App.RateLimitBackend = strings.ToLower(v)
	}
	if v := os.Getenv("APP_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SweepInterval = d
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_EMAIL_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.EmailDedupWindow = d
		}
	}
	if v := os.Getenv("APP_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ShutdownTimeout = d
		}
	}
	if v, ok := os.LookupEnv("APP_TRUSTED_PROXIES"); ok {
		cfg.App.TrustedProxies = splitList(v)
	}

	if v := viper.GetString("app_secret"); v != "" {
		cfg.Security.AppSecret = v
	}
	if v := viper.GetString("admin_password_hash"); v != "" {
		cfg.Security.AdminPasswordHash = v
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	} else if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == "mysql" && (hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
		if os.Getenv("REDIS_ENABLED") == "" {
			cfg.Redis.Enabled = true
		}
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if parsed, err := mysql.ParseDSN(dsn); err == nil && dsn != "" {
		return parsed
	}
	return &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "housingworkshop",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "UTC",
		},
	}
}

// envBool 读取布尔环境变量，未设置或无法解析时 ok 为 false。
func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SweepInterval    string `json:"sweep_interval"`
		EmailDedupWindow string `json:"email_dedup_window"`
		ShutdownTimeout  string `json:"shutdown_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sweep_interval", aux.SweepInterval, &a.SweepInterval},
		{"email_dedup_window", aux.EmailDedupWindow, &a.EmailDedupWindow},
		{"shutdown_timeout", aux.ShutdownTimeout, &a.ShutdownTimeout},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		SweepInterval    string `json:"sweep_interval"`
		EmailDedupWindow string `json:"email_dedup_window"`
		ShutdownTimeout  string `json:"shutdown_timeout"`
		*Alias
	}{
		SweepInterval:    a.SweepInterval.String(),
		EmailDedupWindow: a.EmailDedupWindow.String(),
		ShutdownTimeout:  a.ShutdownTimeout.String(),
		Alias:            (*Alias)(&a),
	})
}
