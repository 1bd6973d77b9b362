package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/config"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/relay"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/server"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/translation"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-translation-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_calls", cfg.Server.MaxConcurrentCalls),
		slog.String("translation_url", cfg.Translation.URL),
		slog.String("language", cfg.Prompts.Language),
		slog.Int("guard_window_ms", cfg.Relay.GuardWindowMS),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Create relay manager configuration
	relayConfig := relay.ManagerConfig{
		Relay: relay.Config{
			Language:     cfg.Prompts.Language,
			CallerPrompt: cfg.Prompts.Caller,
			AgentPrompt:  cfg.Prompts.Agent,
			GuardWindow:  cfg.Relay.GetGuardWindowDuration(),
			Session: translation.Config{
				URL:              cfg.Translation.URL,
				APIKey:           cfg.Translation.APIKey,
				HandshakeTimeout: cfg.Translation.GetHandshakeTimeoutDuration(),
			},
		},
		PairingTimeout: cfg.Relay.GetPairingTimeoutDuration(),
	}

	// Initialize relay manager
	relayMgr := relay.NewManager(relayConfig, logger, appMetrics)
	logger.Info("Relay manager initialized",
		slog.Duration("pairing_timeout", cfg.Relay.GetPairingTimeoutDuration()),
		slog.String("translation_url", cfg.Translation.URL),
	)

	// Initialize media stream server
	mediaServer := server.NewMediaServer(&cfg.Server, logger, relayMgr)
	logger.Info("Media stream server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, relayMgr, mediaServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start media server
	if err := mediaServer.Start(); err != nil {
		logger.Error("Failed to start media server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("media_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop media server (stop accepting new streams)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mediaServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping media server", slog.String("error", err.Error()))
	}

	// Stop relay manager (close remaining calls and translation sessions)
	relayMgr.Stop()

	// Get final statistics
	stats := mediaServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("upgrade_errors", stats.UpgradeErrors),
		slog.Uint64("handshake_errors", stats.HandshakeErrors),
		slog.Uint64("connections_rejected", stats.ConnectionsRejected),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
