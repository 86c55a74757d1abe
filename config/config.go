package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 STRANGERS_SERVER_PORT=9000
const EnvPrefix = "STRANGERS"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Latency   LatencyConfig   `mapstructure:"latency"`
	Session   SessionConfig   `mapstructure:"session"`
	Social    SocialConfig    `mapstructure:"social"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// LatencyConfig holds every simulated network delay.
type LatencyConfig struct {
	SessionCheck time.Duration `mapstructure:"session_check"`
	AuthSubmit   time.Duration `mapstructure:"auth_submit"`
	Search       time.Duration `mapstructure:"search"`
	Disconnect   time.Duration `mapstructure:"disconnect"`
	ReplyMin     time.Duration `mapstructure:"reply_min"`
	ReplyMax     time.Duration `mapstructure:"reply_max"`
	FileReply    time.Duration `mapstructure:"file_reply"`
	Call         time.Duration `mapstructure:"call"`
	Block        time.Duration `mapstructure:"block"`
	Subscribe    time.Duration `mapstructure:"subscribe"`
	ProfileSave  time.Duration `mapstructure:"profile_save"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	EventBuffer   int           `mapstructure:"event_buffer"`
	LoopQueueSize int           `mapstructure:"loop_queue_size"`
}

// SocialConfig selects where the blocked set lives: "memory" or "redis".
type SocialConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

type WebsocketConfig struct {
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	ConnectionTimeout int `mapstructure:"connection_timeout"`
	SendBuffer        int `mapstructure:"send_buffer"`
}

// RateLimitConfig caps requests per session per minute on the HTTP
// surface. It needs Redis.
type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	FailOpen         bool `mapstructure:"fail_open"`
	AuthPerMinute    int  `mapstructure:"auth_per_minute"`
	SearchPerMinute  int  `mapstructure:"search_per_minute"`
	MessagePerMinute int  `mapstructure:"message_per_minute"`
	APIPerMinute     int  `mapstructure:"api_per_minute"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.mode", "release")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")

	v.SetDefault("latency.session_check", time.Second)
	v.SetDefault("latency.auth_submit", 1500*time.Millisecond)
	v.SetDefault("latency.search", 2500*time.Millisecond)
	v.SetDefault("latency.disconnect", time.Second)
	v.SetDefault("latency.reply_min", 2*time.Second)
	v.SetDefault("latency.reply_max", 3*time.Second)
	v.SetDefault("latency.file_reply", 2500*time.Millisecond)
	v.SetDefault("latency.call", 3*time.Second)
	v.SetDefault("latency.block", time.Second)
	v.SetDefault("latency.subscribe", 1500*time.Millisecond)
	v.SetDefault("latency.profile_save", 1500*time.Millisecond)

	v.SetDefault("session.idle_ttl", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.event_buffer", 64)
	v.SetDefault("session.loop_queue_size", 32)

	v.SetDefault("social.backend", "memory")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "strangers.session-events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.refresh_hours", 1)

	v.SetDefault("websocket.heartbeat_interval", 30)
	v.SetDefault("websocket.connection_timeout", 90)
	v.SetDefault("websocket.send_buffer", 64)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.fail_open", true)
	v.SetDefault("rate_limit.auth_per_minute", 10)
	v.SetDefault("rate_limit.search_per_minute", 20)
	v.SetDefault("rate_limit.message_per_minute", 60)
	v.SetDefault("rate_limit.api_per_minute", 300)
}

// LoadConfig 读取配置文件并叠加环境变量。path 为空时只使用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration without reading the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func (c *Config) Validate() error {
	if c.Latency.ReplyMax < c.Latency.ReplyMin {
		return fmt.Errorf("%w: latency.reply_max (%s) < latency.reply_min (%s)", ErrInvalidConfig, c.Latency.ReplyMax, c.Latency.ReplyMin)
	}
	switch c.Social.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown social.backend %q", ErrInvalidConfig, c.Social.Backend)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("%w: jwt.secret is empty", ErrInvalidConfig)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka enabled without brokers", ErrInvalidConfig)
	}
	return nil
}
