package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scoring/internal/pipeline"
	"github.com/sells-group/lead-scoring/internal/resilience"
	"github.com/sells-group/lead-scoring/internal/resolver"
	"github.com/sells-group/lead-scoring/internal/scoring"
	"github.com/sells-group/lead-scoring/internal/store"
	anthropicpkg "github.com/sells-group/lead-scoring/pkg/anthropic"
	"github.com/sells-group/lead-scoring/pkg/hubspot"
)

// scoringEnv holds the initialized clients, store, and pipeline shared by the
// serve/score/backlog commands.
type scoringEnv struct {
	Store    store.Store
	CRM      hubspot.Client
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *scoringEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for the mode, opens the store, builds the CRM and
// LLM clients, and assembles the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*scoringEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	provider, err := scoring.NewProvider(cfg.Scoring.DocumentPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	crm := hubspot.NewClient(cfg.HubSpot.Token,
		hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
		hubspot.WithTimeout(cfg.HubSpot.Timeout()),
		hubspot.WithRateLimit(cfg.HubSpot.RateLimit, 10),
	)
	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)

	modules := []scoring.Module{
		scoring.NewOpportunitySizeModule(),
		scoring.NewMessageAnalysisModule(llm, cfg.Anthropic.Model, cfg.Anthropic.Timeout()),
		scoring.NewPersonRoleModule(llm, cfg.Anthropic.Model, cfg.Anthropic.Timeout()),
	}

	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
	}

	p := pipeline.New(resolver.New(crm), modules, provider, st, pipeline.Options{
		Retry: &retry,
		CRM:   crm,
	})

	return &scoringEnv{Store: st, CRM: crm, Pipeline: p}, nil
}

// initStore opens the configured storage backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
