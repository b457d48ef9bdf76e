package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	FX        FXConfig        `mapstructure:"fx"`
	Board     BoardConfig     `mapstructure:"board"`
	Hub       HubConfig       `mapstructure:"hub"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TickTTL  time.Duration `mapstructure:"tick_ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// UpstreamConfig controls the single provider connection.
type UpstreamConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	Sink         string        `mapstructure:"sink"` // "redis" or "kafka"
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MinBackoff   time.Duration `mapstructure:"min_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type FXConfig struct {
	URL      string        `mapstructure:"url"`
	Currency string        `mapstructure:"currency"`
	Fallback float64       `mapstructure:"fallback"`
	Refresh  time.Duration `mapstructure:"refresh"`
}

type BoardConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

type HubConfig struct {
	BoardInterval time.Duration `mapstructure:"board_interval"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type GatewayConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MessagesPerSec float64       `mapstructure:"messages_per_sec"`
	MessageBurst   int           `mapstructure:"message_burst"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	QueryParam string `mapstructure:"query_param"`
	CookieName string `mapstructure:"cookie_name"`
}

type LedgerConfig struct {
	DSN             string `mapstructure:"dsn"`
	AutoCutSchedule string `mapstructure:"autocut_schedule"`
	AutoCutTimezone string `mapstructure:"autocut_timezone"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

type SimulatorConfig struct {
	Port     string        `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultBoard is the top-50 USDT perpetuals tracked on the leaderboard.
var DefaultBoard = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "TRXUSDT", "AVAXUSDT", "LINKUSDT",
	"DOTUSDT", "MATICUSDT", "LTCUSDT", "BCHUSDT", "SHIBUSDT",
	"UNIUSDT", "ATOMUSDT", "XLMUSDT", "ETCUSDT", "FILUSDT",
	"APTUSDT", "ARBUSDT", "OPUSDT", "NEARUSDT", "INJUSDT",
	"AAVEUSDT", "SUIUSDT", "ICPUSDT", "HBARUSDT", "VETUSDT",
	"ALGOUSDT", "SANDUSDT", "MANAUSDT", "AXSUSDT", "EGLDUSDT",
	"THETAUSDT", "FTMUSDT", "GRTUSDT", "RUNEUSDT", "MKRUSDT",
	"LDOUSDT", "STXUSDT", "IMXUSDT", "SEIUSDT", "TIAUSDT",
	"CRVUSDT", "DYDXUSDT", "GALAUSDT", "CHZUSDT", "PEPEUSDT",
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env values become real env vars so AutomaticEnv can see them
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested keys it knows about
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.tick_ttl")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "upstream.enabled", "upstream.url", "upstream.channel", "upstream.sink",
		"upstream.read_timeout", "upstream.write_timeout", "upstream.min_backoff", "upstream.max_backoff")
	bindEnv(v, "fx.url", "fx.currency", "fx.fallback", "fx.refresh")
	bindEnv(v, "board.symbols")
	bindEnv(v, "hub.board_interval", "hub.watch_interval", "hub.stats_interval")
	bindEnv(v, "gateway.write_wait", "gateway.pong_wait", "gateway.ping_period",
		"gateway.send_buffer", "gateway.messages_per_sec", "gateway.message_burst")
	bindEnv(v, "auth.jwt_secret", "auth.query_param", "auth.cookie_name")
	bindEnv(v, "ledger.dsn", "ledger.autocut_schedule", "ledger.autocut_timezone")
	bindEnv(v, "processor.num_workers")
	bindEnv(v, "simulator.port", "simulator.interval")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":4000")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tick_ttl", time.Hour)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "tick-processor-group")

	v.SetDefault("upstream.enabled", true)
	v.SetDefault("upstream.url", "wss://fstream.binance.com/stream")
	v.SetDefault("upstream.channel", "ticker")
	v.SetDefault("upstream.sink", "redis")
	v.SetDefault("upstream.read_timeout", 30*time.Second)
	v.SetDefault("upstream.write_timeout", 10*time.Second)
	v.SetDefault("upstream.min_backoff", 500*time.Millisecond)
	v.SetDefault("upstream.max_backoff", 30*time.Second)

	v.SetDefault("fx.url", "https://open.er-api.com/v6/latest/USD")
	v.SetDefault("fx.currency", "INR")
	v.SetDefault("fx.fallback", 86.0)
	v.SetDefault("fx.refresh", 24*time.Hour)

	v.SetDefault("board.symbols", DefaultBoard)

	v.SetDefault("hub.board_interval", 2*time.Second)
	v.SetDefault("hub.watch_interval", 2*time.Second)
	v.SetDefault("hub.stats_interval", 5*time.Minute)

	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 50*time.Second)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.messages_per_sec", 10.0)
	v.SetDefault("gateway.message_burst", 20)

	// No default secret: without AUTH_JWT_SECRET every connection is a guest.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.query_param", "token")
	v.SetDefault("auth.cookie_name", "token")

	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.autocut_schedule", "0 0 * * *")
	v.SetDefault("ledger.autocut_timezone", "Asia/Kolkata")

	v.SetDefault("processor.num_workers", 4)

	v.SetDefault("simulator.port", ":9443")
	v.SetDefault("simulator.interval", 250*time.Millisecond)
}

// Validate checks the invariants the processes rely on at boot.
func (c *Config) Validate() error {
	if len(c.Board.Symbols) == 0 {
		return fmt.Errorf("board symbols cannot be empty")
	}
	if c.Upstream.Sink != "redis" && c.Upstream.Sink != "kafka" {
		return fmt.Errorf("unknown upstream sink %q", c.Upstream.Sink)
	}
	if c.Upstream.Sink == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Hub.BoardInterval <= 0 || c.Hub.WatchInterval <= 0 {
		return fmt.Errorf("hub feed intervals must be positive")
	}
	if c.Hub.StatsInterval <= 0 {
		return fmt.Errorf("hub stats interval must be positive")
	}
	if c.Gateway.PingPeriod <= 0 || c.Gateway.PongWait <= 0 || c.Gateway.WriteWait <= 0 {
		return fmt.Errorf("gateway ping period, pong wait and write wait must be positive")
	}
	if c.Upstream.WriteTimeout <= 0 {
		return fmt.Errorf("upstream write timeout must be positive")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor workers must be positive")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
