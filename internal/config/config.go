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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Cleaning   CleaningConfig   `yaml:"cleaning" mapstructure:"cleaning"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`

	// Families maps each model family to its priority-ordered provider
	// list. The first provider is preferred; the rest are failover
	// candidates.
	Families map[string][]string `yaml:"families" mapstructure:"families"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OpenAIConfig holds OpenAI chat API settings.
type OpenAIConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Model   string  `yaml:"model" mapstructure:"model"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Model   string  `yaml:"model" mapstructure:"model"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
}

// EngineConfig configures run scheduling and dispatch.
type EngineConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	TaskTimeoutSecs int `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	RunTimeoutSecs  int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
}

// ResilienceConfig configures retries and circuit breaking.
type ResilienceConfig struct {
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold   int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	WindowSecs         int     `yaml:"window_secs" mapstructure:"window_secs"`
	CooldownSecs       int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxCooldownSecs    int     `yaml:"max_cooldown_secs" mapstructure:"max_cooldown_secs"`
	CooldownMultiplier float64 `yaml:"cooldown_multiplier" mapstructure:"cooldown_multiplier"`
}

// CleaningConfig configures the cleaning pipeline.
type CleaningConfig struct {
	MaxTextLength int  `yaml:"max_text_length" mapstructure:"max_text_length"`
	MinTextLength int  `yaml:"min_text_length" mapstructure:"min_text_length"`
	CaseSensitive bool `yaml:"case_sensitive" mapstructure:"case_sensitive"`
	ContextWindow int  `yaml:"context_window" mapstructure:"context_window"`
}

// StatsConfig configures exposure aggregation.
type StatsConfig struct {
	NormalizeQuestions    bool    `yaml:"normalize_questions" mapstructure:"normalize_questions"`
	SignificantGapPercent float64 `yaml:"significant_gap_percent" mapstructure:"significant_gap_percent"`
}

// MonitoringConfig configures provider-health alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinCallsForAlert     int     `yaml:"min_calls_for_alert" mapstructure:"min_calls_for_alert"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API server.
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

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BRANDSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "brandscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.rps", 2.0)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.rps", 1.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.rps", 2.0)
	v.SetDefault("engine.concurrency", 1)
	v.SetDefault("engine.task_timeout_secs", 60)
	v.SetDefault("engine.run_timeout_secs", 900)
	v.SetDefault("resilience.max_retries", 2)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.window_secs", 120)
	v.SetDefault("resilience.cooldown_secs", 30)
	v.SetDefault("resilience.max_cooldown_secs", 600)
	v.SetDefault("resilience.cooldown_multiplier", 2.0)
	v.SetDefault("cleaning.max_text_length", 8000)
	v.SetDefault("cleaning.min_text_length", 20)
	v.SetDefault("cleaning.context_window", 60)
	v.SetDefault("stats.normalize_questions", true)
	v.SetDefault("stats.significant_gap_percent", 20.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_calls_for_alert", 5)
	v.SetDefault("families", map[string][]string{
		"openai":     {"openai", "perplexity"},
		"anthropic":  {"anthropic", "openai"},
		"perplexity": {"perplexity", "openai"},
	})

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
