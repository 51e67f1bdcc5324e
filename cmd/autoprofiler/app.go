package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zealscott/autoprofiler/internal/config"
	"github.com/zealscott/autoprofiler/internal/database"
	"github.com/zealscott/autoprofiler/internal/embeddings"
	"github.com/zealscott/autoprofiler/internal/events"
	"github.com/zealscott/autoprofiler/internal/fetch"
	"github.com/zealscott/autoprofiler/internal/history"
	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/metrics"
	"github.com/zealscott/autoprofiler/internal/mqtt"
	"github.com/zealscott/autoprofiler/internal/orchestrator"
	"github.com/zealscott/autoprofiler/internal/profiler"
	"github.com/zealscott/autoprofiler/internal/report"
	"github.com/zealscott/autoprofiler/internal/retriever"
	"github.com/zealscott/autoprofiler/internal/runstore"
	"github.com/zealscott/autoprofiler/internal/search"
	"github.com/zealscott/autoprofiler/internal/summarizer"
	"github.com/zealscott/autoprofiler/internal/tools"
	"github.com/zealscott/autoprofiler/internal/usage"
)

// app holds everything shared by the sessions of one invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB
	client  *llm.MultiClient
	caller  *llm.Caller
	metrics *metrics.Recorder
	runs    *runstore.Store
	usage   *usage.Store
	cache   *history.Cache
	reports *report.Writer
	search  *search.Manager
	fetcher *fetch.Fetcher
	bus     *events.Bus

	bridge     *mqtt.Bridge
	stopBridge context.CancelFunc
	bridgeDone sync.WaitGroup
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
		reports: report.New(cfg.DataDir),
		fetcher: fetch.New(),
		bus:     events.New(),
	}

	if a.runs, err = runstore.NewStore(db); err != nil {
		db.Close()
		return nil, err
	}
	if a.usage, err = usage.NewStore(db); err != nil {
		db.Close()
		return nil, err
	}
	if a.cache, err = history.NewCache(db); err != nil {
		db.Close()
		return nil, err
	}

	a.client = createLLMClient(cfg, logger)
	a.caller = llm.NewCaller(a.client, llm.CallerConfig{
		Model:       cfg.Models.Default,
		MaxAttempts: cfg.Models.MaxAttempts,
	}, logger)
	a.caller.Observe(a.metrics)
	if cfg.Agents.CountTokens {
		a.caller.Observe(usage.NewLedger(a.usage, cfg.Pricing, logger))
	}

	a.search = search.NewManager(cfg.Search.Provider)
	if cfg.Search.Brave.APIKey != "" {
		a.search.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if cfg.Search.SearXNG.URL != "" {
		a.search.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	return a, nil
}

// createLLMClient routes each configured model to its provider. Models
// not listed fall through to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger, llm.WithContextWindow(cfg.Models.OllamaNumCtx))
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	if cfg.OpenAI.Configured() {
		multi.AddProvider("openai", llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger))
		logger.Info("OpenAI-compatible provider configured", "base_url", cfg.OpenAI.BaseURL)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	defaultProvider := "ollama"
	for _, m := range cfg.Models.Available {
		if m.Name == cfg.Models.Default {
			defaultProvider = m.Provider
		}
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", defaultProvider)
	return multi
}

// preflight fails fast when the selected model cannot be served, rather
// than after the first user's session has started.
func (a *app) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.client.Preflight(ctx, a.cfg.Models.Default); err != nil {
		return err
	}
	a.logger.Debug("model preflight passed", "model", a.cfg.Models.Default)
	return nil
}

// startBridge connects the MQTT bridge when enabled. Failures are
// logged; progress reporting is never a reason to abort profiling.
func (a *app) startBridge(ctx context.Context) {
	if !a.cfg.MQTT.Enabled {
		return
	}
	clientID, err := mqtt.ClientID(a.cfg.DataDir)
	if err != nil {
		a.logger.Warn("mqtt disabled", "error", err)
		return
	}
	b := mqtt.New(a.cfg.MQTT, clientID, a.logger)
	if err := b.Connect(ctx); err != nil {
		a.logger.Warn("mqtt disabled", "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.bridge = b
	a.stopBridge = cancel
	a.bridgeDone.Add(1)
	go func() {
		defer a.bridgeDone.Done()
		if err := b.Run(runCtx, a.bus); err != nil {
			a.logger.Warn("mqtt bridge stopped", "error", err)
		}
	}()
}

// Close flushes metrics, stops the bridge and closes the database.
func (a *app) Close() {
	if a.stopBridge != nil {
		a.stopBridge()
		a.bridgeDone.Wait()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.bridge.Stop(stopCtx); err != nil {
			a.logger.Warn("mqtt disconnect failed", "error", err)
		}
		cancel()
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("failed to write metrics textfile", "path", a.cfg.Metrics.Textfile, "error", err)
	}
	a.db.Close()
}

// profileUser builds the per-user tools and roles and runs one session.
func (a *app) profileUser(ctx context.Context, user string, targets []string) (*orchestrator.Outcome, error) {
	corpus, err := history.LoadCorpus(a.cfg.DataDir, user)
	if err != nil {
		return nil, err
	}
	tracker := history.NewTracker(corpus.Len())
	logger := a.logger.With("user", user)

	var index *history.Index
	if a.cfg.Embeddings.Enabled {
		emb := embeddings.New(embeddings.Config{
			BaseURL:     a.cfg.Embeddings.BaseURL,
			Model:       a.cfg.Embeddings.Model,
			Concurrency: a.cfg.Embeddings.Concurrency,
		})
		index = history.NewIndex(corpus, history.NewCachedEmbedder(emb, a.cache, logger), a.cfg.Embeddings.Concurrency, logger)
		if err := index.Warm(ctx); err != nil {
			logger.Warn("embedding warm-up failed, related history disabled", "error", err)
			index = nil
		} else if n, err := a.cache.Count(emb.Model()); err == nil {
			logger.Debug("history embedded", "items", corpus.Len(), "cached_vectors", n)
		}
	}

	reg := tools.NewRegistry(logger)
	history.Register(reg, &history.Source{
		Corpus:    corpus,
		Tracker:   tracker,
		Index:     index,
		ChunkSize: a.cfg.Agents.ChunkSize,
		TopK:      a.cfg.Agents.RelatedTopK,
	})
	if a.search.Configured() {
		search.Register(reg, a.search)
	}
	fetch.Register(reg, a.fetcher)

	prof := profiler.New(a.caller, targets, logger)
	prof.Agent().SetObserver(a.metrics)
	ret := retriever.New(a.caller, reg, a.cfg.Agents.RetrieverMaxIters, logger)
	ret.SetObserver(a.metrics)
	ret.Agent().SetObserver(a.metrics)
	sum := summarizer.New(a.caller, targets, logger)
	sum.Agent().SetObserver(a.metrics)

	sess, err := orchestrator.New(orchestrator.Config{
		User:          user,
		Model:         a.cfg.Models.Default,
		Targets:       targets,
		CycleInterval: a.cfg.Agents.CycleInterval,
		MaxCycles:     a.cfg.Agents.MaxCycles,
	}, orchestrator.Deps{
		Profiler:   prof,
		Retriever:  ret,
		Summarizer: sum,
		Corpus:     corpus,
		Tracker:    tracker,
		Bus:        a.bus,
		Runs:       a.runs,
		Metrics:    a.metrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("new session for %s: %w", user, err)
	}
	return sess.Run(ctx)
}
