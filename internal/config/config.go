// Package config loads server configuration from a YAML file and the
// environment. Environment variables use the CARTOWORKS_ prefix with
// underscores for nesting (CARTOWORKS_SERVER_LISTEN_ADDRESS); a few common
// deployment variables (REDIS_ADDR, DATABASE_URL) are honored directly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cartoworks/cartoworks/internal/collab"
	"github.com/cartoworks/cartoworks/internal/store"
	"github.com/cartoworks/cartoworks/pkg/common/cache"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Collab    collab.Config   `mapstructure:"collab"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds the transport tunables.
type WebSocketConfig struct {
	// MaxMessageSize bounds a single inbound frame, in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// PingInterval drives keepalive pings; zero disables them.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimit is the sustained per-connection message rate per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the per-connection burst allowance.
	RateBurst int `mapstructure:"rate_burst"`
	// JWTSecret, when set, lets clients present a bearer token whose subject
	// becomes their display label. Connections without one stay anonymous.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AllowedOrigins is passed to the websocket accept handshake.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CacheConfig wraps the Redis settings with an enable switch.
type CacheConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Redis   cache.RedisConfig `mapstructure:"redis"`
	// VersionTTL bounds how long published map versions live in the cache.
	VersionTTL time.Duration `mapstructure:"version_ttl"`
}

// DatabaseConfig wraps the PostgreSQL settings with an enable switch.
type DatabaseConfig struct {
	Enabled  bool                 `mapstructure:"enabled"`
	Postgres store.DatabaseConfig `mapstructure:"postgres"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file (optional) and the
// environment, on top of the defaults. An empty path searches the working
// directory and /etc/cartoworks and tolerates absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARTOWORKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.listen_address", "CARTOWORKS_SERVER_LISTEN_ADDRESS", "LISTEN_ADDRESS")
	_ = v.BindEnv("cache.redis.address", "CARTOWORKS_CACHE_REDIS_ADDRESS", "REDIS_ADDR")
	_ = v.BindEnv("database.postgres.dsn", "CARTOWORKS_DATABASE_POSTGRES_DSN", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cartoworks")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.rate_limit", 50.0)
	v.SetDefault("websocket.rate_burst", 100)

	v.SetDefault("collab.max_history", 1000)
	v.SetDefault("collab.window", "5s")
	v.SetDefault("collab.lock_ttl", "30s")
	v.SetDefault("collab.release_locks_on_disconnect", true)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.version_ttl", "24h")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.postgres.max_open_conns", 10)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.connect_timeout", "30s")

	v.SetDefault("log.level", "info")
}
