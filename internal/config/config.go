// Package config holds the engine's runtime configuration: YAML file
// loading with environment overrides on top of defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketflow-engine/internal/market"
)

// Duration decodes from YAML either as a Go duration string ("5s") or as a
// bare integer meaning milliseconds, which is what older config files use.
type Duration time.Duration

// D returns the plain time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// RedisConfig selects the external store
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// Addr returns host:port for the go-redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ReconnectConfig controls the backoff schedule after socket loss
type ReconnectConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxAttempts int      `yaml:"maxAttempts"`
	BaseDelay   Duration `yaml:"baseDelay"`
	MaxDelay    Duration `yaml:"maxDelay"`
}

// HeartbeatConfig controls keepalive pings
type HeartbeatConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// DataTimeoutConfig controls the data-starvation watchdog
type DataTimeoutConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Timeout       Duration `yaml:"timeout"`
	CheckInterval Duration `yaml:"checkInterval"`
}

// StreamConfig bounds the per-symbol trade logs
type StreamConfig struct {
	MaxLen     int64 `yaml:"maxLen"`
	TrimApprox bool  `yaml:"trimApprox"`
}

// PoolConfig sizes per-venue connection pools
type PoolConfig struct {
	// MaxSubscriptionsPerConnection caps the carried set of one socket;
	// zero means a single uncapped connection.
	MaxSubscriptionsPerConnection int  `yaml:"maxSubscriptionsPerConnection"`
	UseCombinedStream             bool `yaml:"useCombinedStream"`
}

// CacheConfig sizes the in-memory kline series
type CacheConfig struct {
	MaxCandles     int `yaml:"maxCandles"`
	HistoryCandles int `yaml:"historyCandles"`
}

// Config is the engine's full runtime configuration
type Config struct {
	Exchanges   []string `yaml:"exchanges"`
	TradingType string   `yaml:"tradingType"`

	// Symbols and Channels seed the initial subscriptions when the daemon
	// starts; the facade API remains authoritative afterwards.
	Symbols  []string `yaml:"symbols"`
	Channels []string `yaml:"channels"`

	EnableRedis bool        `yaml:"enableRedis"`
	Redis       RedisConfig `yaml:"redis"`

	Reconnect      ReconnectConfig   `yaml:"reconnect"`
	Heartbeat      HeartbeatConfig   `yaml:"heartbeat"`
	DataTimeout    DataTimeoutConfig `yaml:"dataTimeout"`
	Stream         StreamConfig      `yaml:"stream"`
	ConnectionPool PoolConfig        `yaml:"connectionPool"`
	Cache          CacheConfig       `yaml:"cache"`

	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
}

// Default returns the configuration used when no file or env is present
func Default() Config {
	return Config{
		Exchanges:   []string{"binance", "bybit", "okx", "deribit", "gate", "bitget", "kucoin", "kraken"},
		TradingType: "linear",
		Symbols:     []string{"BTC/USDT", "ETH/USDT"},
		Channels:    []string{"ticker", "depth", "trade"},
		EnableRedis: true,
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 10,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(30 * time.Second),
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: Duration(30 * time.Second),
			Timeout:  Duration(10 * time.Second),
		},
		DataTimeout: DataTimeoutConfig{
			Enabled:       true,
			Timeout:       Duration(60 * time.Second),
			CheckInterval: Duration(15 * time.Second),
		},
		Stream: StreamConfig{
			MaxLen:     1000,
			TrimApprox: true,
		},
		ConnectionPool: PoolConfig{
			MaxSubscriptionsPerConnection: 100,
			UseCombinedStream:             true,
		},
		Cache: CacheConfig{
			MaxCandles:     1000,
			HistoryCandles: 200,
		},
		MetricsAddr: ":9100",
		LogLevel:    "info",
	}
}

// Load reads a YAML file over the defaults. A missing path is not an error;
// env overrides are applied last either way.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.applyEnv()
				return cfg, nil
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EXCHANGES"); v != "" {
		c.Exchanges = splitList(v)
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("CHANNELS"); v != "" {
		c.Channels = splitList(v)
	}
	c.TradingType = getEnv("TRADING_TYPE", c.TradingType)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("ENABLE_REDIS"); v != "" {
		c.EnableRedis = v == "true" || v == "1"
	}
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the engine cannot start with
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("no exchanges enabled")
	}
	for _, e := range c.Exchanges {
		if _, err := market.ParseVenue(e); err != nil {
			return err
		}
	}
	if _, err := market.ParseClass(c.TradingType); err != nil {
		return err
	}
	for _, ch := range c.Channels {
		if _, err := market.ParseKind(ch); err != nil {
			return err
		}
	}
	if c.Cache.MaxCandles <= 0 {
		return fmt.Errorf("cache.maxCandles must be positive")
	}
	if c.Cache.HistoryCandles < 0 || c.Cache.HistoryCandles > c.Cache.MaxCandles {
		return fmt.Errorf("cache.historyCandles must be within [0, maxCandles]")
	}
	if c.ConnectionPool.MaxSubscriptionsPerConnection < 0 {
		return fmt.Errorf("connectionPool.maxSubscriptionsPerConnection must be >= 0")
	}
	if c.Reconnect.Enabled && c.Reconnect.BaseDelay.D() <= 0 {
		return fmt.Errorf("reconnect.baseDelay must be positive")
	}
	return nil
}

// Class returns the parsed trading class. Validate must have accepted the
// config first.
func (c *Config) Class() market.TradingClass {
	class, err := market.ParseClass(c.TradingType)
	if err != nil {
		return market.LinearPerpetual
	}
	return class
}

// Venues returns the parsed enabled venues, skipping unknowns
func (c *Config) Venues() []market.Venue {
	out := make([]market.Venue, 0, len(c.Exchanges))
	for _, e := range c.Exchanges {
		if v, err := market.ParseVenue(e); err == nil {
			out = append(out, v)
		}
	}
	return out
}
