// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Feed        FeedConfig        `yaml:"feed" mapstructure:"feed"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Materiality MaterialityConfig `yaml:"materiality" mapstructure:"materiality"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Run         RunConfig         `yaml:"run" mapstructure:"run"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FeedConfig configures the disclosure-listing scanner.
type FeedConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	Keywords    []string `yaml:"keywords" mapstructure:"keywords"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ScanDays    int      `yaml:"scan_days" mapstructure:"scan_days"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// ExtractConfig configures the AI extraction orchestrator.
type ExtractConfig struct {
	Key string `yaml:"key" mapstructure:"key"`

	// Models is the ordered fallback chain of model identifiers.
	Models []string `yaml:"models" mapstructure:"models"`

	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	BatchLimit          int     `yaml:"batch_limit" mapstructure:"batch_limit"`
	PacingSecs          int     `yaml:"pacing_secs" mapstructure:"pacing_secs"`
	RetryPauseMillis    int     `yaml:"retry_pause_millis" mapstructure:"retry_pause_millis"`
	DownloadTimeoutSecs int     `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	MaxSummaryRunes     int     `yaml:"max_summary_runes" mapstructure:"max_summary_runes"`
	PdfToTextPath       string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	UpwardRule          string  `yaml:"upward_rule" mapstructure:"upward_rule"`
	Temperature         float64 `yaml:"temperature" mapstructure:"temperature"`
}

// MaterialityConfig configures the notification gate.
type MaterialityConfig struct {
	MinRatePercent     float64 `yaml:"min_rate_percent" mapstructure:"min_rate_percent"`
	NotifyDividendHike bool    `yaml:"notify_dividend_hike" mapstructure:"notify_dividend_hike"`
}

// NotifyConfig configures the notification channels.
type NotifyConfig struct {
	Line    LineConfig    `yaml:"line" mapstructure:"line"`
	X       XConfig       `yaml:"x" mapstructure:"x"`
	Webhook WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
}

// LineConfig holds LINE Messaging API settings.
type LineConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// XConfig holds X (Twitter) API settings.
type XConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// WebhookConfig holds the generic ops-webhook channel settings.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RunConfig configures run-level behavior.
type RunConfig struct {
	// LockTTLMins bounds how long a crashed run holds the advisory lock.
	LockTTLMins int `yaml:"lock_ttl_mins" mapstructure:"lock_ttl_mins"`
}

// ServerConfig configures the read-only ops API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVESTORNEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "investornews.db")
	v.SetDefault("feed.base_url", "https://www.release.tdnet.info/inbs")
	v.SetDefault("feed.keywords", []string{"業績予想の修正", "差異"})
	v.SetDefault("feed.timeout_secs", 10)
	v.SetDefault("feed.scan_days", 1)
	v.SetDefault("feed.user_agent", "investornews/1.0")
	v.SetDefault("extract.models", []string{
		"claude-haiku-4-5-20251001",
		"claude-sonnet-4-5-20250929",
		"claude-opus-4-6",
	})
	v.SetDefault("extract.max_tokens", 1024)
	v.SetDefault("extract.batch_limit", 5)
	v.SetDefault("extract.pacing_secs", 5)
	v.SetDefault("extract.retry_pause_millis", 2000)
	v.SetDefault("extract.download_timeout_secs", 15)
	v.SetDefault("extract.max_summary_runes", 30)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.upward_rule",
		"is_upward is true only if the primary profit metric (operating profit) was revised upward; "+
			"dividend-only changes are neutral and must yield null")
	v.SetDefault("extract.temperature", 0.0)
	v.SetDefault("materiality.min_rate_percent", 5.0)
	v.SetDefault("materiality.notify_dividend_hike", false)
	v.SetDefault("notify.line.base_url", "https://api.line.me")
	v.SetDefault("notify.x.base_url", "https://api.x.com")
	v.SetDefault("run.lock_ttl_mins", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
