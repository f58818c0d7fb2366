package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harutaka05225589-art/InvestorNews/internal/extract"
	"github.com/harutaka05225589-art/InvestorNews/internal/feed"
	"github.com/harutaka05225589-art/InvestorNews/internal/fetcher"
	"github.com/harutaka05225589-art/InvestorNews/internal/notify"
	"github.com/harutaka05225589-art/InvestorNews/internal/ocr"
	"github.com/harutaka05225589-art/InvestorNews/internal/pipeline"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
	"github.com/harutaka05225589-art/InvestorNews/pkg/anthropic"
)

// pipelineEnv holds the wired components shared by the subcommands.
type pipelineEnv struct {
	Store        store.Store
	Scanner      *feed.Scanner
	Orchestrator *extract.Orchestrator
	Dispatcher   *notify.Dispatcher
	Runner       *pipeline.Runner
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

// initStore opens and migrates the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initPipeline wires the full scan/extract/notify stack from config.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   time.Duration(cfg.Feed.TimeoutSecs) * time.Second,
	})
	scanner := feed.NewScanner(httpFetcher, st, cfg.Feed.BaseURL, cfg.Feed.Keywords)

	chain := extract.NewChain(
		anthropic.NewClient(cfg.Extract.Key),
		cfg.Extract.Models,
		time.Duration(cfg.Extract.RetryPauseMillis)*time.Millisecond,
	)
	prompts := extract.NewPromptBuilder(cfg.Extract.UpwardRule, cfg.Extract.MaxSummaryRunes)
	orchestrator := extract.NewOrchestrator(st, httpFetcher, ocr.NewPdfToText(cfg.Extract.PdfToTextPath), chain, prompts, extract.Options{
		BatchLimit:      cfg.Extract.BatchLimit,
		MaxTokens:       cfg.Extract.MaxTokens,
		Temperature:     cfg.Extract.Temperature,
		MaxSummaryRunes: cfg.Extract.MaxSummaryRunes,
		Pacing:          time.Duration(cfg.Extract.PacingSecs) * time.Second,
		DownloadTimeout: time.Duration(cfg.Extract.DownloadTimeoutSecs) * time.Second,
	})

	var channels []notify.Channel
	if cfg.Notify.Line.Token != "" {
		channels = append(channels, notify.NewLineChannel(cfg.Notify.Line.Token, cfg.Notify.Line.BaseURL))
	}
	if cfg.Notify.X.Token != "" {
		channels = append(channels, notify.NewXChannel(cfg.Notify.X.Token, cfg.Notify.X.BaseURL))
	}
	if cfg.Notify.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.Webhook.URL))
	}
	dispatcher := notify.NewDispatcher(st, channels)

	gate := pipeline.Thresholds{
		MinRatePercent:     cfg.Materiality.MinRatePercent,
		NotifyDividendHike: cfg.Materiality.NotifyDividendHike,
	}
	runner := pipeline.NewRunner(st, scanner, orchestrator, dispatcher, gate,
		cfg.Feed.ScanDays, time.Duration(cfg.Run.LockTTLMins)*time.Minute)

	return &pipelineEnv{
		Store:        st,
		Scanner:      scanner,
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Runner:       runner,
	}, nil
}
