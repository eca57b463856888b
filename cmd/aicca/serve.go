package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aicca-ai/aicca/internal/audit"
	"github.com/aicca-ai/aicca/internal/engine"
	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/mcp"
	"github.com/aicca-ai/aicca/internal/memory"
	"github.com/aicca-ai/aicca/internal/runtime"
	"github.com/aicca-ai/aicca/internal/storage"
	"github.com/aicca-ai/aicca/internal/telemetry"
	"github.com/aicca-ai/aicca/internal/tools"
	"github.com/aicca-ai/aicca/internal/upload"
	"github.com/aicca-ai/aicca/internal/ws"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Loads the YAML configuration, wires the reasoning engine, tool
registry, upload assembler, and artifact store, and serves the
websocket and REST endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := runtime.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stderr, parseLogLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	metrics := telemetry.NewMetrics()

	client, err := buildModelClient(cfg.Model)
	if err != nil {
		return err
	}

	toolReg := tools.NewRegistry()
	for name, hc := range cfg.Tools.HTTP {
		toolReg.Register(name, llm.ToolDefinition{
			Name:        name,
			InputSchema: map[string]any{"type": "object"},
		}, tools.NewHTTPExecutor(hc))
	}
	allowlist, err := tools.NewAllowlist(cfg.Tools.Allowlist)
	if err != nil {
		return fmt.Errorf("tool allowlist: %w", err)
	}
	toolReg.SetAllowlist(allowlist)

	pool := mcp.NewPool()
	defer func() { _ = pool.Close() }()
	if err := mcp.RegisterAll(ctx, pool, toolReg, cfg.Tools.MCPServers, logger); err != nil {
		return err
	}

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	assembler := upload.NewAssembler(store, logger)

	var recorder audit.Recorder = audit.NoopRecorder{}
	if cfg.AuditDSN != "" {
		pg, err := audit.NewPostgresRecorder(ctx, cfg.AuditDSN, logger)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer pg.Close()
		recorder = pg
	}

	engineCfg := engine.Config{
		Model:       cfg.Model.Name,
		System:      cfg.Model.System,
		MaxTokens:   cfg.Model.MaxTokens,
		TokenBudget: cfg.Model.TokenBudget,
		Temperature: cfg.Model.Temperature,
	}
	factory := func(clientID string) ws.Engine {
		return engine.New(engineCfg, client, toolReg,
			memory.NewSlidingWindow(cfg.Session.MaxMessages),
			logger.With("client_id", clientID))
	}

	registry := ws.NewRegistry(factory, logger, metrics)
	mux := ws.NewMux(registry, logger, metrics)
	gateway := ws.NewGateway(ws.GatewayConfig{
		ChatMaxTurns:     cfg.Session.ChatMaxTurns,
		AnalysisMaxTurns: cfg.Session.AnalysisMaxTurns,
	}, registry, mux, assembler, toolReg, recorder, logger, metrics)
	runner := tools.NewAsyncRunner(toolReg, cfg.Tools.AsyncMax, cfg.Tools.AsyncTimeout, logger)

	janitor := storage.NewJanitor(logger)
	if local, ok := store.(*storage.LocalStore); ok {
		err := janitor.Add("artifact-sweep", cfg.Storage.SweepSchedule, func() error {
			n, err := local.CleanupOlderThan(context.Background(), cfg.Storage.RetainArtifact)
			if n > 0 {
				logger.Info("swept artifacts", "removed", n)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("schedule artifact sweep: %w", err)
		}
	}
	if err := janitor.Add("upload-sweep", cfg.Storage.SweepSchedule, func() error {
		if n := assembler.SweepStale(cfg.Storage.UploadMaxAge); n > 0 {
			logger.Info("swept stale uploads", "discarded", n)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("schedule upload sweep: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	stopWatch, err := runtime.WatchConfig(configPath, allowlist.Reload, logger)
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	srv := runtime.NewServer(cfg, registry, gateway, runner, store,
		runtime.WithLogger(logger), runtime.WithMetrics(metrics))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildModelClient(cfg runtime.ModelConfig) (llm.Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case "anthropic":
		if apiKey != "" {
			return llm.NewAnthropicClientWithKey(apiKey), nil
		}
		return llm.NewAnthropicClient(), nil
	case "openai":
		return llm.NewOpenAIClient(cfg.BaseURL, apiKey), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func buildStore(ctx context.Context, cfg runtime.StorageConfig) (storage.FileStore, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Store(ctx, cfg.S3)
	default:
		return storage.NewLocalStore(cfg.LocalDir)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
