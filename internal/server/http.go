package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/config"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/latency"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/relay"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	relayMgr    *relay.Manager
	mediaServer *MediaServer
	metrics     *metrics.Metrics

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, relayMgr *relay.Manager, mediaServer *MediaServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		relayMgr:    relayMgr,
		mediaServer: mediaServer,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Call monitoring endpoint
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleCalls))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (served from the service's own registry)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	mediaStats := h.mediaServer.GetStatistics()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "live-translation-relay",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"media_server": map[string]interface{}{
				"status":               "running",
				"connections_accepted": mediaStats.ConnectionsAccepted,
				"upgrade_errors":       mediaStats.UpgradeErrors,
				"handshake_errors":     mediaStats.HandshakeErrors,
			},
			"relay_manager": map[string]interface{}{
				"status":       "running",
				"active_calls": h.relayMgr.ActiveCalls(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleCalls implements the /calls endpoint
func (h *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"total_calls": h.relayMgr.ActiveCalls(),
		"timestamp":   time.Now().UTC(),
		"call_ids":    h.relayMgr.CallIDs(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (the API key is intentionally omitted)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":                 h.config.Server.Port,
			"bind_address":         h.config.Server.BindAddress,
			"max_concurrent_calls": h.config.Server.MaxConcurrentCalls,
		},
		"translation": map[string]interface{}{
			"url":               h.config.Translation.URL,
			"handshake_timeout": h.config.Translation.HandshakeTimeout,
		},
		"prompts": map[string]interface{}{
			"language": h.config.Prompts.Language,
		},
		"relay": map[string]interface{}{
			"guard_window_ms": h.config.Relay.GuardWindowMS,
			"pairing_timeout": h.config.Relay.PairingTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaStats := h.mediaServer.GetStatistics()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"media": map[string]interface{}{
			"connections_accepted": mediaStats.ConnectionsAccepted,
			"upgrade_errors":       mediaStats.UpgradeErrors,
			"handshake_errors":     mediaStats.HandshakeErrors,
			"connections_rejected": mediaStats.ConnectionsRejected,
		},
		"calls": map[string]interface{}{
			"active_count": h.relayMgr.ActiveCalls(),
		},
		"latency": renderLatencySummaries(h.relayMgr.LatencySummaries()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// renderLatencySummaries converts latency summaries into a JSON-safe form.
// Averages are rendered as strings because NaN (no qualifying utterances yet)
// cannot be encoded as a JSON number.
func renderLatencySummaries(summaries []latency.Summary) []map[string]interface{} {
	rendered := make([]map[string]interface{}, 0, len(summaries))
	for _, s := range summaries {
		avg := "NaN"
		if !math.IsNaN(s.AverageMS) {
			avg = strconv.FormatFloat(s.AverageMS, 'f', 1, 64)
		}
		rendered = append(rendered, map[string]interface{}{
			"leg":            s.Leg,
			"utterances":     s.Utterances,
			"qualifying":     s.Qualifying,
			"average_ms":     avg,
			"orphaned_audio": s.OrphanedAudio,
		})
	}
	return rendered
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Live Translation Relay Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /calls":   "List active calls",
			"GET /config":  "Get service configuration",
			"GET /stats":   "Get service statistics",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
