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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Twilio    TwilioConfig    `yaml:"twilio" mapstructure:"twilio"`
	Mailer    MailerConfig    `yaml:"mailer" mapstructure:"mailer"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Tracking  TrackingConfig  `yaml:"tracking" mapstructure:"tracking"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the webhook and API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PlacesConfig holds the local-business search API settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Host    string `yaml:"host" mapstructure:"host"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Limit   int    `yaml:"limit" mapstructure:"limit"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	ChatModel string `yaml:"chat_model" mapstructure:"chat_model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// TwilioConfig holds SMS provider credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" mapstructure:"account_sid"`
	AuthToken  string `yaml:"auth_token" mapstructure:"auth_token"`
	FromNumber string `yaml:"from_number" mapstructure:"from_number"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
}

// MailerConfig holds outbound email settings for contractor outreach.
type MailerConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	FromName  string `yaml:"from_name" mapstructure:"from_name"`
}

// JobsConfig configures the background job processor.
type JobsConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	RetryDelaySecs   int `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DiscoveryConfig configures business discovery.
type DiscoveryConfig struct {
	Limit  int    `yaml:"limit" mapstructure:"limit"`
	Region string `yaml:"region" mapstructure:"region"`
}

// ExtractConfig configures contact extraction.
type ExtractConfig struct {
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxContentChars int     `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	ScrapesPerSec   float64 `yaml:"scrapes_per_sec" mapstructure:"scrapes_per_sec"`
}

// TrackingConfig configures the public tracking links sent by SMS.
type TrackingConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "dispatch.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("places.host", "local-business-data.p.rapidapi.com")
	v.SetDefault("places.base_url", "https://local-business-data.p.rapidapi.com")
	v.SetDefault("places.limit", 30)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.chat_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("twilio.base_url", "https://api.twilio.com")
	v.SetDefault("mailer.base_url", "https://api.sendgrid.com")
	v.SetDefault("mailer.from_name", "Dispatch")
	v.SetDefault("jobs.poll_interval_secs", 5)
	v.SetDefault("jobs.retry_delay_secs", 30)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("discovery.limit", 30)
	v.SetDefault("discovery.region", "")
	v.SetDefault("extract.batch_size", 8)
	v.SetDefault("extract.max_content_chars", 8000)
	v.SetDefault("extract.scrapes_per_sec", 1)
	v.SetDefault("tracking.base_url", "http://localhost:8080")

	// Read config file (optional)
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
