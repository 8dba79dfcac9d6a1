package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/quinnhq/dispatch/internal/conversation"
	"github.com/quinnhq/dispatch/internal/discovery"
	"github.com/quinnhq/dispatch/internal/extract"
	"github.com/quinnhq/dispatch/internal/intake"
	"github.com/quinnhq/dispatch/internal/jobs"
	"github.com/quinnhq/dispatch/internal/scrape"
	"github.com/quinnhq/dispatch/internal/store"
	anthropicpkg "github.com/quinnhq/dispatch/pkg/anthropic"
	"github.com/quinnhq/dispatch/pkg/jina"
	"github.com/quinnhq/dispatch/pkg/mailer"
	"github.com/quinnhq/dispatch/pkg/places"
	"github.com/quinnhq/dispatch/pkg/twilio"
)

// pipelineEnv holds the store, engines, and job processor shared by the
// serve/worker commands.
type pipelineEnv struct {
	Store        store.Store
	Intake       *intake.Engine
	Discovery    *discovery.Engine
	Extract      *extract.Engine
	Conversation *conversation.Engine
	Processor    *jobs.Processor
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "dispatch.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, API clients, and engines. Callers should
// defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	placesClient := places.NewClient(cfg.Places.Key, cfg.Places.Host, places.WithBaseURL(cfg.Places.BaseURL))
	jinaClient := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
	smsClient := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber,
		twilio.WithBaseURL(cfg.Twilio.BaseURL))
	mailClient := mailer.NewClient(cfg.Mailer.Key, cfg.Mailer.FromEmail, cfg.Mailer.FromName,
		mailer.WithBaseURL(cfg.Mailer.BaseURL))

	intakeEngine := intake.NewEngine(st, llm, intake.Config{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   int64(cfg.Anthropic.MaxTokens),
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})
	discoveryEngine := discovery.NewEngine(st, placesClient, discovery.Config{
		Limit:  cfg.Discovery.Limit,
		Region: cfg.Discovery.Region,
	})
	extractEngine := extract.NewEngine(st, scrape.NewJinaAdapter(jinaClient), llm, extract.Config{
		BatchSize:       cfg.Extract.BatchSize,
		MaxContentChars: cfg.Extract.MaxContentChars,
		Model:           cfg.Anthropic.Model,
		MaxTokens:       int64(cfg.Anthropic.MaxTokens),
		ScrapesPerSec:   cfg.Extract.ScrapesPerSec,
	})

	messenger := conversation.NewMessenger(st, smsClient, cfg.Twilio.FromNumber)
	conversationEngine := conversation.NewEngine(st, llm, messenger, mailClient, conversation.Config{
		SelectionModel: cfg.Anthropic.Model,
		ChatModel:      cfg.Anthropic.ChatModel,
		MaxTokens:      int64(cfg.Anthropic.MaxTokens),
	})

	processor := jobs.NewProcessor(st, jobs.Config{
		PollInterval: time.Duration(cfg.Jobs.PollIntervalSecs) * time.Second,
		RetryDelay:   time.Duration(cfg.Jobs.RetryDelaySecs) * time.Second,
	})
	handlers := jobs.NewHandlers(st, discoveryEngine, extractEngine, messenger, jobs.HandlersConfig{
		TrackingBaseURL: cfg.Tracking.BaseURL,
		MaxAttempts:     cfg.Jobs.MaxAttempts,
	})
	handlers.RegisterAll(processor)

	return &pipelineEnv{
		Store:        st,
		Intake:       intakeEngine,
		Discovery:    discoveryEngine,
		Extract:      extractEngine,
		Conversation: conversationEngine,
		Processor:    processor,
	}, nil
}
