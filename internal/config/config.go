package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/spf13/viper"
)

const EnvPrefix = "AEXPLORER"

// Keys shared by flags, environment variables and the config file.
const (
	KeyNodeURL           = "node-url"
	KeyTimeout           = "timeout"
	KeyClientRetries     = "client-retries"
	KeyClientCacheSize   = "client-cache-size"
	KeyLogLevel          = "log-level"
	KeyListen            = "listen"
	KeyCORSOrigins       = "cors-origins"
	KeyLatestGenerations = "latest-generations"
	KeyMaxConcurrency    = "max-concurrency"
	KeyMaxRetries        = "max-retries"
	KeyBlockTime         = "block-time"
	KeyStart             = "start"
	KeyStop              = "stop"
	KeyLive              = "live"
	KeyReindex           = "reindex"
)

// ClientConfig configures the node API client.
type ClientConfig struct {
	NodeURL   string
	Timeout   time.Duration
	Retries   int
	CacheSize int
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Listen            string
	CORSOrigins       []string
	LatestGenerations int
}

// ExtractConfig configures the generation extractor.
type ExtractConfig struct {
	BlockTime      uint
	MaxConcurrency uint
	MaxRetries     uint
	Start          uint64
	Stop           uint64
	LiveMonitoring bool
	ReIndex        bool
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodeURL, "http://localhost:3013")
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyClientRetries, 0)
	v.SetDefault(KeyClientCacheSize, 16)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyCORSOrigins, []string{"*"})
	v.SetDefault(KeyLatestGenerations, 10)
	v.SetDefault(KeyMaxConcurrency, 100)
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyBlockTime, 2)
}

// New returns a viper instance reading AEXPLORER_* environment variables on top of the defaults.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile loads an optional config file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func LoadClientConfig(v *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		NodeURL:   strings.TrimRight(v.GetString(KeyNodeURL), "/"),
		Timeout:   v.GetDuration(KeyTimeout),
		Retries:   v.GetInt(KeyClientRetries),
		CacheSize: v.GetInt(KeyClientCacheSize),
	}
	if err := client.ValidateBaseURL(cfg.NodeURL); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Retries < 0 {
		return ClientConfig{}, fmt.Errorf("%s must be >= 0", KeyClientRetries)
	}
	return cfg, nil
}

func LoadServeConfig(v *viper.Viper) (ServeConfig, error) {
	cfg := ServeConfig{
		Listen:            v.GetString(KeyListen),
		CORSOrigins:       v.GetStringSlice(KeyCORSOrigins),
		LatestGenerations: v.GetInt(KeyLatestGenerations),
	}
	if cfg.Listen == "" {
		return ServeConfig{}, fmt.Errorf("%s is required", KeyListen)
	}
	if cfg.LatestGenerations <= 0 {
		return ServeConfig{}, fmt.Errorf("%s must be > 0", KeyLatestGenerations)
	}
	return cfg, nil
}

func LoadExtractConfig(v *viper.Viper) (ExtractConfig, error) {
	cfg := ExtractConfig{
		BlockTime:      v.GetUint(KeyBlockTime),
		MaxConcurrency: v.GetUint(KeyMaxConcurrency),
		MaxRetries:     v.GetUint(KeyMaxRetries),
		Start:          v.GetUint64(KeyStart),
		Stop:           v.GetUint64(KeyStop),
		LiveMonitoring: v.GetBool(KeyLive),
		ReIndex:        v.GetBool(KeyReindex),
	}
	if err := cfg.Validate(); err != nil {
		return ExtractConfig{}, err
	}
	return cfg, nil
}

func (c ExtractConfig) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%s must be >= 1", KeyMaxConcurrency)
	}
	if c.LiveMonitoring && c.BlockTime < 1 {
		return fmt.Errorf("%s must be >= 1 in live mode", KeyBlockTime)
	}
	if c.Stop != 0 && c.Start > c.Stop {
		return fmt.Errorf("%s (%d) must be <= %s (%d)", KeyStart, c.Start, KeyStop, c.Stop)
	}
	if c.LiveMonitoring && c.Stop != 0 {
		return fmt.Errorf("%s and %s are mutually exclusive", KeyLive, KeyStop)
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid %s %q: %w", KeyLogLevel, level, err)
	}
	return l, nil
}
