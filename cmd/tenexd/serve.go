package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/agent/providers"
	"github.com/tenex-chat/tenex/internal/config"
	"github.com/tenex-chat/tenex/internal/content"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/delegation"
	"github.com/tenex-chat/tenex/internal/nostr"
	"github.com/tenex-chat/tenex/internal/observability"
	"github.com/tenex-chat/tenex/internal/prompt"
	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tenexd daemon",
		Long: `Start the daemon with all configured agents.

The daemon will:
1. Load configuration from the specified file
2. Open the conversation and tool-message stores
3. Connect to the relay (or run the in-process transport)
4. Initialize the LLM provider and the tool registry
5. Subscribe to conversation events and dispatch them to agents

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tenexd serve

  # Start with custom config
  tenexd serve --config /etc/tenex/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tenex.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// runServe implements the serve command logic: configuration loading,
// collaborator wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger.Slog())

	logger.Info(ctx, "starting tenexd",
		"version", version,
		"config", configPath,
		"relay", cfg.Relay.URL,
		"agents", len(cfg.Agents),
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	store, toolMsgs, closeStores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	transport, closeTransport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	directory := nostr.NewDirectory()
	for _, agentCfg := range cfg.Agents {
		directory.RegisterAgent(nostr.AgentInfo{
			Slug:   agentCfg.Slug,
			Name:   agentCfg.Slug,
			Pubkey: agentCfg.Pubkey,
		})
	}

	delegations := delegation.NewRegistry(logger.Slog())
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	builder := prompt.NewBuilder(
		prompt.NewAssigner(directory, delegations),
		content.NewInliner(transport, logger.Slog()),
		toolMsgs,
		directory,
		logger.Slog(),
	)
	ops := agent.NewOpsRegistry()

	runtimes := make(map[string]*agentRuntime, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		signer := &nostr.LocalSigner{PublicKey: agentCfg.Pubkey}

		registry := tools.NewRegistry(logger, tools.WithTimeout(cfg.Tools.ExecutionTimeout))
		for _, tool := range []tools.Tool{
			tools.NewDelegateTool(delegations, transport, signer),
			tools.NewTodoWriteTool(store),
			tools.NewFsReadTool(toolMsgs, store),
		} {
			if err := registry.Register(tool); err != nil {
				return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
			}
		}

		runtimes[agentCfg.Pubkey] = &agentRuntime{
			cfg: agentIdentity{
				Slug:              agentCfg.Slug,
				Pubkey:            agentCfg.Pubkey,
				PhaseInstructions: agentCfg.PhaseInstructions,
			},
			engine: agent.NewEngine(agent.EngineConfig{
				Store:        store,
				Builder:      builder,
				Provider:     provider,
				Tools:        registry,
				ToolMsgs:     toolMsgs,
				Publisher:    transport,
				Signer:       signer,
				Ops:          ops,
				Logger:       logger,
				Metrics:      metrics,
				Tracer:       tracer,
				SystemPrompt: agentCfg.SystemPrompt,
				Model:        agentCfg.Model,
			}),
		}
	}

	dispatcher := &Dispatcher{
		store:       store,
		delegations: delegations,
		transport:   transport,
		agents:      runtimes,
		logger:      logger,
		metrics:     metrics,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()

	logger.Info(ctx, "tenexd started", "agents", len(runtimes))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info(context.Background(), "shutdown signal received, stopping")
	return nil
}

func openStores(cfg *config.Config, logger *observability.Logger) (*conversation.Store, toolmsg.Store, func(), error) {
	var adapter conversation.PersistenceAdapter
	if cfg.Storage.ConversationsPath != "" {
		sqlAdapter, err := conversation.NewSQLiteAdapter(cfg.Storage.ConversationsPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		adapter = sqlAdapter
	}
	store := conversation.NewStore(adapter, logger.Slog())

	if cfg.Storage.ToolMessagesPath == "" {
		return store, toolmsg.NewMemoryStore(), func() {}, nil
	}
	sqlStore, err := toolmsg.NewSQLiteStore(cfg.Storage.ToolMessagesPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open tool message store: %w", err)
	}
	return store, sqlStore, func() { _ = sqlStore.Close() }, nil
}

func openTransport(ctx context.Context, cfg *config.Config, logger *observability.Logger) (nostr.Transport, func(), error) {
	if cfg.Relay.URL == "" {
		logger.Warn(ctx, "no relay configured, using in-process transport")
		return nostr.NewMemoryTransport(), func() {}, nil
	}
	client := nostr.NewRelayClient(cfg.Relay.URL, logger.Slog())
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to relay %s: %w", cfg.Relay.URL, err)
	}
	return client, func() { _ = client.Close() }, nil
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	providerCfg, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no configuration for provider %q", cfg.LLM.DefaultProvider)
	}
	switch cfg.LLM.DefaultProvider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			MaxRetries:   providerCfg.MaxRetries,
			RetryDelay:   providerCfg.RetryDelay,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			MaxRetries:   providerCfg.MaxRetries,
			RetryDelay:   providerCfg.RetryDelay,
			DefaultModel: providerCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.LLM.DefaultProvider)
	}
}
