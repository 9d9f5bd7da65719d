package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Archive    DatabaseConfig   `mapstructure:"archive_db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	LoginLimit LoginLimitConfig `mapstructure:"login_limit"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port      int        `mapstructure:"port"`
	BaseURL   string     `mapstructure:"base_url"`
	Timezone  string     `mapstructure:"timezone"` // 按天筛选despacho时使用的业务时区
	BodyLimit int64      `mapstructure:"body_limit"`
	CORS      CORSConfig `mapstructure:"cors"`

	// 可信反向代理（IP 或 CIDR）；为空时客户端 IP 只取连接地址，忽略 X-Forwarded-For
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Location 返回业务时区，解析失败时回退到 UTC
func (c *ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置（运营库与归档库共用结构）
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// URL 生成 pgx 可用的连接 URL（LISTEN/NOTIFY 使用）
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 会话令牌与定时任务密钥配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	CronSecret     string        `mapstructure:"cron_secret"`
	Cookie         CookieConfig  `mapstructure:"cookie"`
}

// CookieConfig Cookie 安全配置
type CookieConfig struct {
	Name     string `mapstructure:"name"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
	Domain   string `mapstructure:"domain"`
}

// LoginLimitConfig 登录限流配置
type LoginLimitConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Window   time.Duration `mapstructure:"window"`
	Backend  string        `mapstructure:"backend"` // memory | redis
}

// RealtimeConfig 实时变更推送配置
type RealtimeConfig struct {
	Mode    string `mapstructure:"mode"` // local | postgres
	Channel string `mapstructure:"channel"`
}

// MQTTConfig 设备定位 MQTT 接入配置
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
}

// SyncConfig 同步/归档任务配置
type SyncConfig struct {
	ArchiveAuth       string        `mapstructure:"archive_auth"` // none | session | secret
	SessionStaleAfter time.Duration `mapstructure:"session_stale_after"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // 为空时不启动指标端口
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 从 .env、配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.timezone", "America/Guatemala")
	v.SetDefault("server.body_limit", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.trusted_proxies", []string{})

	setDatabaseDefaults(v, "db", "despacho_operativo")
	setDatabaseDefaults(v, "archive_db", "despacho_archivo")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.access_token_ttl", "12h")
	v.SetDefault("auth.cookie.name", "session_token")
	v.SetDefault("auth.cookie.secure", false)
	v.SetDefault("auth.cookie.same_site", "Lax")

	v.SetDefault("login_limit.attempts", 5)
	v.SetDefault("login_limit.window", "30s")
	v.SetDefault("login_limit.backend", "memory")

	v.SetDefault("realtime.mode", "local")
	v.SetDefault("realtime.channel", "despacho_changes")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "control-despacho")
	v.SetDefault("mqtt.topic", "despacho/ubicacion/+")

	v.SetDefault("sync.archive_auth", "session")
	v.SetDefault("sync.session_stale_after", "12h")
	v.SetDefault("sync.sweep_interval", "5m")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("DESPACHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// ── 关键配置校验 ──
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDatabaseDefaults(v *viper.Viper, prefix, name string) {
	v.SetDefault(prefix+".host", "localhost")
	v.SetDefault(prefix+".port", 5432)
	v.SetDefault(prefix+".name", name)
	v.SetDefault(prefix+".user", "postgres")
	v.SetDefault(prefix+".password", "")
	v.SetDefault(prefix+".sslmode", "disable")
	v.SetDefault(prefix+".timezone", "UTC")
	v.SetDefault(prefix+".max_open_conns", 25)
	v.SetDefault(prefix+".max_idle_conns", 10)
	v.SetDefault(prefix+".conn_max_lifetime", 60)
	v.SetDefault(prefix+".conn_max_idle_time", 30)
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Auth.CronSecret == "" {
		return fmt.Errorf("配置校验失败: auth.cron_secret 不能为空")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("配置校验失败: server.trusted_proxies 含无效地址 %q", p)
		}
	}
	if c.LoginLimit.Attempts <= 0 || c.LoginLimit.Window <= 0 {
		return fmt.Errorf("配置校验失败: login_limit.attempts 与 login_limit.window 必须大于 0")
	}
	switch c.LoginLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("配置校验失败: login_limit.backend 仅支持 memory | redis")
	}
	switch c.Realtime.Mode {
	case "local", "postgres":
	default:
		return fmt.Errorf("配置校验失败: realtime.mode 仅支持 local | postgres")
	}
	switch c.Sync.ArchiveAuth {
	case "none", "session", "secret":
	default:
		return fmt.Errorf("配置校验失败: sync.archive_auth 仅支持 none | session | secret")
	}
	return nil
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}
