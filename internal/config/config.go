package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. PROJECTCHAT_HTTP_PORT.
const EnvPrefix = "PROJECTCHAT"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Presence  *PresenceConfig  `mapstructure:"presence"`
	Redis     *RedisConfig     `mapstructure:"redis"`
	Chat      *ChatConfig      `mapstructure:"chat"`
	Log       *LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MigrationsPath string        `mapstructure:"migrations_path"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Host         string        `mapstructure:"host"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
	// PollWait and PollTimeout apply to clients on the long-polling transport.
	PollWait    time.Duration `mapstructure:"poll_wait"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// AuthConfig holds the HMAC secret used to sign and verify bearer tokens.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// PresenceConfig selects the roster store: "memory" or "redis".
type PresenceConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// ChatConfig holds the message rules enforced by the router and REST API.
type ChatConfig struct {
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	HistoryLimit       int `mapstructure:"history_limit"`
	MaxHistoryLimit    int `mapstructure:"max_history_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults; memory presence keeps a
// single node runnable without Redis
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/projectchat.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
			Mode:         "release",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
			PollWait:     25 * time.Second,
			PollTimeout:  60 * time.Second,
		},
		Auth: &AuthConfig{
			JWTSecret: "change-me",
			Issuer:    "projectchat",
			TokenTTL:  24 * time.Hour,
		},
		Presence: &PresenceConfig{
			Backend: "memory",
		},
		Redis: &RedisConfig{
			Addr:         "127.0.0.1:6379",
			KeyPrefix:    "projectchat",
			DialTimeout:  5 * time.Second,
			PoolSize:     20,
			MinIdleConns: 2,
		},
		Chat: &ChatConfig{
			RateLimitPerMinute: 100,
			HistoryLimit:       50,
			MaxHistoryLimit:    200,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.PollWait <= 0 || c.WebSocket.PollWait >= c.HTTP.WriteTimeout {
		return fmt.Errorf("poll wait must be positive and below the HTTP write timeout")
	}
	if c.WebSocket.PollTimeout <= c.WebSocket.PollWait {
		return fmt.Errorf("poll timeout must exceed poll wait")
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	switch c.Presence.Backend {
	case "memory":
	case "redis":
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis presence backend")
		}
	default:
		return fmt.Errorf("unknown presence backend %q", c.Presence.Backend)
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.RateLimitPerMinute <= 0 {
		return fmt.Errorf("chat rate limit must be positive")
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > c.Chat.MaxHistoryLimit {
		return fmt.Errorf("chat history limit must be between 1 and max_history_limit")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}

// newViper registers every default so AutomaticEnv can resolve each key.
func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.migrations_path", d.Database.MigrationsPath)

	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.mode", d.HTTP.Mode)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.poll_wait", d.WebSocket.PollWait)
	v.SetDefault("websocket.poll_timeout", d.WebSocket.PollTimeout)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("presence.backend", d.Presence.Backend)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)

	v.SetDefault("chat.rate_limit_per_minute", d.Chat.RateLimitPerMinute)
	v.SetDefault("chat.history_limit", d.Chat.HistoryLimit)
	v.SetDefault("chat.max_history_limit", d.Chat.MaxHistoryLimit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values fall back to defaults instead of failing startup
func LoadFromEnv() *Config {
	config, err := decode(newViper())
	if err != nil {
		return DefaultConfig()
	}
	return config
}

// LoadFromFile reads a JSON or YAML file on top of the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	if err := mergeFile(v, path); err != nil {
		return nil, err
	}

	config, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// mergeFile pins every key found in the file with Set, which outranks env in viper.
func mergeFile(v *viper.Viper, path string) error {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	for _, key := range fv.AllKeys() {
		v.Set(key, fv.Get(key))
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(path string) *Config {
	v := newViper()
	if path != "" {
		// Silently ignore file errors - environment/defaults still work
		_ = mergeFile(v, path)
	}

	config, err := decode(v)
	if err != nil {
		return DefaultConfig()
	}
	return config
}
