package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/executor"
	"github.com/promptgate/promptgate/internal/llm"
	"github.com/promptgate/promptgate/internal/server"
	"github.com/promptgate/promptgate/internal/store"
	"github.com/promptgate/promptgate/internal/tools"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "promptgate",
		Short: "Conversational AI gateway with MCP tool orchestration",
		Long: `promptgate accepts user prompts, maintains multi-turn session
history, augments model calls with tools discovered from registered MCP
services, and relays responses as JSON or as an SSE stream.

Configuration comes from an optional YAML file plus PROMPTGATE_-prefixed
environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := llm.NewClientFromConfig(&cfg.LLM)
	if err != nil {
		return err
	}

	st, durable := buildStore(cfg, logger)

	registry := tools.NewRegistry()
	seedRegistry(registry, cfg.Tools.Providers, logger)

	aggregator := tools.NewAggregator(registry, logger, cfg.Tools.DiscoveryTimeout)
	exec := executor.New(st, client, aggregator, logger, executor.Options{
		MaxSteps:     cfg.Tools.MaxSteps,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
	})

	srv := server.New(server.Options{
		Store:        st,
		Registry:     registry,
		Executor:     exec,
		Client:       client,
		Logger:       logger,
		APIKey:       cfg.Server.APIKey,
		Heartbeat:    cfg.Stream.HeartbeatInterval,
		DurableStore: durable,
	})

	// No WriteTimeout: it would sever long-lived SSE streams.
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", client.ModelName()),
			zap.Bool("durable_store", durable))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildStore opens the configured durable backend wrapped in the
// in-memory fallback. A backend that fails to open degrades to
// memory-only operation rather than refusing to start.
func buildStore(cfg *config.Config, logger *zap.Logger) (store.Store, bool) {
	if cfg.Database.Driver == "" {
		logger.Info("no durable store configured, sessions are in-memory only")
		return store.NewFallback(nil, store.NewMemory(), logger), false
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Warn("durable store unavailable, continuing in-memory only",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err))
		return store.NewFallback(nil, store.NewMemory(), logger), false
	}

	logger.Info("durable store opened", zap.String("driver", cfg.Database.Driver))
	return store.NewFallback(store.NewGorm(db), store.NewMemory(), logger), true
}

func seedRegistry(registry *tools.Registry, seeds []config.SeedProvider, logger *zap.Logger) {
	for _, seed := range seeds {
		enabled := seed.Enabled == nil || *seed.Enabled
		p := &tools.Provider{
			Name:        seed.Name,
			URL:         seed.URL,
			Type:        tools.ProviderType(seed.Type),
			Description: seed.Description,
			Enabled:     enabled,
		}
		if _, err := registry.Add(p); err != nil {
			logger.Warn("skipping invalid seed provider",
				zap.String("name", seed.Name),
				zap.String("url", seed.URL),
				zap.Error(err))
			continue
		}
		logger.Info("seeded mcp service",
			zap.String("name", seed.Name),
			zap.Bool("enabled", enabled))
	}
}
