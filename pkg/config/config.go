package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"SignalDesk/pkg/util"
)

// Config is the root of the YAML configuration tree.
type Config struct {
	Environment string           `yaml:"environment"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Redis       RedisConfig      `yaml:"redis"`
	Feed        FeedConfig       `yaml:"feed"`
	Stream      StreamConfig     `yaml:"stream"`
	Detector    DetectorConfig   `yaml:"detector"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Auth        AuthConfig       `yaml:"auth"`
	Notify      NotifyConfig     `yaml:"notify"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url"`
	RESTBaseURL    string        `yaml:"rest_base_url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxSymbols        int           `yaml:"max_symbols"`
	DefaultSymbols    []string      `yaml:"default_symbols"`
	ConnectsPerMinute int           `yaml:"connects_per_minute"`
}

type DetectorConfig struct {
	FormingThreshold float64       `yaml:"forming_threshold"`
	ReadyThreshold   float64       `yaml:"ready_threshold"`
	IdleReset        time.Duration `yaml:"idle_reset"`
	HistorySize      int           `yaml:"history_size"`
	WarmupBars       int           `yaml:"warmup_bars"`
	EMAPeriod        int           `yaml:"ema_period"`
}

type KafkaConfig struct {
	Brokers      []string            `yaml:"brokers"`
	AlertsTopic  string              `yaml:"alerts_topic"`
	LogsTopic    string              `yaml:"logs_topic"`
	RequiredAcks int                 `yaml:"required_acks"`
	Compression  string              `yaml:"compression"`
	Producer     KafkaProducerConfig `yaml:"producer"`
	Consumer     KafkaConsumerConfig `yaml:"consumer"`
}

type KafkaProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BatchBytes   int           `yaml:"batch_bytes"`
	BatchSize    int           `yaml:"batch_size"`
	Linger       time.Duration `yaml:"linger"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumerConfig struct {
	GroupID    string        `yaml:"group_id"`
	Workers    int           `yaml:"workers"`
	BufferSize int           `yaml:"buffer_size"`
	MinBytes   int           `yaml:"min_bytes"`
	MaxBytes   int           `yaml:"max_bytes"`
	RetryMax   int           `yaml:"retry_max"`
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	DLQTopic   string        `yaml:"dlq_topic"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Database         string        `yaml:"database"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	QueueName      string `yaml:"queue_name"`
	Workers        int    `yaml:"workers"`
}

type SchedulerConfig struct {
	RolloverTime  string        `yaml:"rollover_time"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Timezone      string        `yaml:"timezone"`
}

// Load reads a YAML config file and validates it as-is, without environment
// overrides.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv reads a YAML config file, overlays environment variables, and
// validates the result. Overlays land before validation so secrets can be
// injected through the environment alone.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	overlay := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	overlay("FEED_API_KEY", &c.Feed.APIKey)
	overlay("REDIS_ADDR", &c.Redis.Addr)
	overlay("JWT_SECRET", &c.Auth.JWTSecret)
	overlay("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	overlay("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramToken)

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = util.ParseInt64Default(v, c.Notify.TelegramChatID)
	}
}

// Validate checks fields the application cannot run without.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Feed.Enabled {
		if c.Feed.APIKey == "" {
			return fmt.Errorf("feed.api_key is required when the feed is enabled")
		}
		if c.Feed.WebSocketURL == "" {
			return fmt.Errorf("feed.websocket_url is required when the feed is enabled")
		}
		if len(c.Feed.Symbols) == 0 {
			return fmt.Errorf("feed.symbols cannot be empty when the feed is enabled")
		}
	}
	if c.Detector.FormingThreshold < 0 || c.Detector.FormingThreshold > 100 {
		return fmt.Errorf("detector.forming_threshold must be within [0,100]")
	}
	if c.Detector.ReadyThreshold < 0 || c.Detector.ReadyThreshold > 100 {
		return fmt.Errorf("detector.ready_threshold must be within [0,100]")
	}
	if c.Detector.ReadyThreshold != 0 && c.Detector.FormingThreshold >= c.Detector.ReadyThreshold {
		return fmt.Errorf("detector.forming_threshold must be below detector.ready_threshold")
	}
	return nil
}

// --- Defaults ---

// DefaultStreamSymbols is used when a stream request omits the symbols
// parameter and no default set is configured.
var DefaultStreamSymbols = []string{"SPY", "QQQ", "IWM"}

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxStreamSymbols  = 20
	DefaultFormingThreshold  = 50.0
	DefaultReadyThreshold    = 70.0
	DefaultIdleReset         = 15 * time.Minute
	DefaultHistorySize       = 120
	DefaultWarmupBars        = 30
	DefaultEMAPeriod         = 9
	DefaultRolloverTime      = "06:30"
	DefaultSweepInterval     = 5 * time.Minute
	DefaultTimezone          = "America/New_York"
)

// HeartbeatInterval returns the configured stream heartbeat interval or the
// default when unset.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Stream.HeartbeatInterval > 0 {
		return c.Stream.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// MaxStreamSymbols returns the per-connection symbol cap.
func (c *Config) MaxStreamSymbols() int {
	if c.Stream.MaxSymbols > 0 {
		return c.Stream.MaxSymbols
	}
	return DefaultMaxStreamSymbols
}

// StreamDefaults returns the symbol set used when a client omits symbols.
func (c *Config) StreamDefaults() []string {
	if len(c.Stream.DefaultSymbols) > 0 {
		return c.Stream.DefaultSymbols
	}
	return DefaultStreamSymbols
}

// FormingThreshold returns the detector forming threshold or its default.
func (c *Config) FormingThreshold() float64 {
	if c.Detector.FormingThreshold > 0 {
		return c.Detector.FormingThreshold
	}
	return DefaultFormingThreshold
}

// ReadyThreshold returns the detector ready threshold or its default.
func (c *Config) ReadyThreshold() float64 {
	if c.Detector.ReadyThreshold > 0 {
		return c.Detector.ReadyThreshold
	}
	return DefaultReadyThreshold
}

// RolloverTime returns the wall-clock time of the daily session rollover.
func (c *Config) RolloverTime() string {
	if c.Scheduler.RolloverTime != "" {
		return c.Scheduler.RolloverTime
	}
	return DefaultRolloverTime
}

// SweepInterval returns how often idle detector and limiter state is swept.
func (c *Config) SweepInterval() time.Duration {
	if c.Scheduler.SweepInterval > 0 {
		return c.Scheduler.SweepInterval
	}
	return DefaultSweepInterval
}

// Timezone returns the IANA timezone the scheduler runs in.
func (c *Config) Timezone() string {
	if c.Scheduler.Timezone != "" {
		return c.Scheduler.Timezone
	}
	return DefaultTimezone
}
