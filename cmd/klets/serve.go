package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kletsmajoor/klets/pkg/config"
	"github.com/kletsmajoor/klets/pkg/embedders"
	"github.com/kletsmajoor/klets/pkg/faq"
	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/mcp"
	"github.com/kletsmajoor/klets/pkg/pipeline"
	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/server"
	"github.com/kletsmajoor/klets/pkg/session"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port int `help:"Override the configured port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.LoadOrDefault(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	opts := []server.Option{}
	if app.FAQIndex != nil {
		opts = append(opts, server.WithFAQIndex(app.FAQIndex))
	}
	srv := server.New(cfg.Server, app.Orchestrator, app.Store, opts...)
	return srv.Start(ctx)
}

// App bundles the wired components of a running instance.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Store        session.Store
	FAQIndex     *faq.Index

	watcher *faq.Watcher
}

// Close releases background resources.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
}

// buildApp wires every configured component into an orchestrator.
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	llm, err := llms.NewOpenAIProvider(llms.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		Host:        cfg.LLM.Host,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.Timeout) * time.Second,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	store, err := session.NewFileStore(cfg.Sessions.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	deps := pipeline.Deps{
		LLM:   llm,
		Store: store,
	}

	if cfg.Retrieval.Enabled() {
		svc, err := retrieval.NewHTTPService(retrieval.HTTPConfig{
			BaseURL: cfg.Retrieval.BaseURL,
			Timeout: time.Duration(cfg.Retrieval.Timeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create retrieval service: %w", err)
		}
		deps.Retrieval = svc
	} else {
		slog.Warn("no retrieval backend configured, knowledge search disabled")
	}

	app := &App{Store: store}

	if cfg.FAQ.Enabled() {
		if !cfg.Embedder.Enabled() {
			slog.Warn("FAQ file configured but no embedder, FAQ matching disabled")
		} else {
			embedder, err := embedders.NewOpenAIEmbedder(embedders.OpenAIConfig{
				APIKey:    cfg.Embedder.APIKey,
				Host:      cfg.Embedder.Host,
				Model:     cfg.Embedder.Model,
				Dimension: cfg.Embedder.Dimension,
				BatchSize: cfg.Embedder.BatchSize,
				Timeout:   time.Duration(cfg.Embedder.Timeout) * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create embedder: %w", err)
			}

			index := faq.NewIndex(cfg.FAQ.Path, embedder)
			if err := index.Load(ctx); err != nil {
				return nil, fmt.Errorf("failed to load FAQ index: %w", err)
			}
			deps.FAQIndex = index
			app.FAQIndex = index

			if cfg.FAQ.Watch {
				watcher, err := faq.NewWatcher(index)
				if err != nil {
					return nil, fmt.Errorf("failed to create FAQ watcher: %w", err)
				}
				if err := watcher.Start(ctx); err != nil {
					return nil, fmt.Errorf("failed to start FAQ watcher: %w", err)
				}
				app.watcher = watcher
			}
		}
	}

	if cfg.Bridge.Enabled() {
		if client := mcp.NewClient(cfg.Bridge.ClientConfig()); client != nil {
			deps.Bridge = client
		}
	}

	orch, err := pipeline.New(deps, cfg.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	app.Orchestrator = orch
	return app, nil
}
