package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/brandscan/internal/cleaning"
	"github.com/sells-group/brandscan/internal/engine"
	"github.com/sells-group/brandscan/internal/monitoring"
	"github.com/sells-group/brandscan/internal/provider"
	"github.com/sells-group/brandscan/internal/resilience"
	"github.com/sells-group/brandscan/internal/stats"
	"github.com/sells-group/brandscan/internal/store"
	anthropicpkg "github.com/sells-group/brandscan/pkg/anthropic"
	"github.com/sells-group/brandscan/pkg/openaichat"
	"github.com/sells-group/brandscan/pkg/perplexity"
)

// env holds the wired collaborators every command needs.
type env struct {
	Store     store.Store
	Registry  *provider.Registry
	Breakers  *resilience.ProviderBreakers
	Collector *monitoring.Collector
	Engine    *engine.Engine
}

// Close releases held resources.
func (e *env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close failed", zap.Error(err))
		}
	}
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv wires store, provider adapters, resilience, and the engine.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	registry := provider.NewRegistry()

	if cfg.OpenAI.Key != "" {
		client := openaichat.NewClient(cfg.OpenAI.Key,
			openaichat.WithBaseURL(cfg.OpenAI.BaseURL),
			openaichat.WithModel(cfg.OpenAI.Model),
		)
		registry.Register(provider.NewOpenAI("openai", client, cfg.OpenAI.Model, limiter(cfg.OpenAI.RPS)))
	}
	if cfg.Perplexity.Key != "" {
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		registry.Register(provider.NewPerplexity("perplexity", client, cfg.Perplexity.Model, limiter(cfg.Perplexity.RPS)))
	}
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		registry.Register(provider.NewAnthropic("anthropic", client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, limiter(cfg.Anthropic.RPS)))
	}

	if len(registry.List()) == 0 {
		st.Close() //nolint:errcheck
		return nil, eris.New("no providers configured: set at least one API key")
	}

	breakers := resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold:   cfg.Resilience.FailureThreshold,
		Window:             time.Duration(cfg.Resilience.WindowSecs) * time.Second,
		Cooldown:           time.Duration(cfg.Resilience.CooldownSecs) * time.Second,
		MaxCooldown:        time.Duration(cfg.Resilience.MaxCooldownSecs) * time.Second,
		CooldownMultiplier: cfg.Resilience.CooldownMultiplier,
	})

	controller := resilience.NewController(registry, breakers, resilience.RetryConfig{
		MaxRetries:     cfg.Resilience.MaxRetries,
		InitialBackoff: time.Duration(cfg.Resilience.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Resilience.MaxBackoffMs) * time.Millisecond,
	})

	collector := monitoring.NewCollector(breakers)

	eng := engine.New(st, controller, collector, engine.Config{
		Families:    cfg.Families,
		Concurrency: cfg.Engine.Concurrency,
		TaskTimeout: time.Duration(cfg.Engine.TaskTimeoutSecs) * time.Second,
		RunTimeout:  time.Duration(cfg.Engine.RunTimeoutSecs) * time.Second,
		Cleaning: cleaning.Options{
			MaxTextLength: cfg.Cleaning.MaxTextLength,
			MinTextLength: cfg.Cleaning.MinTextLength,
			CaseSensitive: cfg.Cleaning.CaseSensitive,
			ContextWindow: cfg.Cleaning.ContextWindow,
		},
		Stats: stats.Options{
			NormalizeQuestions:    cfg.Stats.NormalizeQuestions,
			SignificantGapPercent: cfg.Stats.SignificantGapPercent,
		},
	})

	zap.L().Info("environment initialized",
		zap.Strings("providers", registry.List()),
		zap.String("store_driver", cfg.Store.Driver),
	)

	return &env{
		Store:     st,
		Registry:  registry,
		Breakers:  breakers,
		Collector: collector,
		Engine:    eng,
	}, nil
}

func limiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
