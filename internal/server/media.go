package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/config"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/media"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/relay"
)

// handshakeReadTimeout bounds how long a connected stream may take to send
// its start frame before the connection is dropped.
const handshakeReadTimeout = 10 * time.Second

// MediaServer accepts media stream WebSocket connections and pairs them
// into call relays. The inbound endpoint carries caller audio, the outbound
// endpoint carries agent audio.
type MediaServer struct {
	server   *http.Server
	config   *config.ServerConfig
	logger   *slog.Logger
	relayMgr *relay.Manager
	upgrader websocket.Upgrader

	// Connection counters
	connectionsAccepted uint64
	upgradeErrors       uint64
	handshakeErrors     uint64
	connectionsRejected uint64
	mu                  sync.RWMutex
}

// NewMediaServer creates a new media stream server instance
func NewMediaServer(cfg *config.ServerConfig, logger *slog.Logger, relayMgr *relay.Manager) *MediaServer {
	s := &MediaServer{
		config:   cfg,
		logger:   logger,
		relayMgr: relayMgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Telephony providers connect server-to-server without an Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/media/inbound", s.handleStream(media.DirectionInbound))
	mux.HandleFunc("/media/outbound", s.handleStream(media.DirectionOutbound))

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:     mux,
		ReadTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start begins listening for media stream connections
func (s *MediaServer) Start() error {
	s.logger.Info("Starting media stream server",
		slog.String("address", s.server.Addr),
		slog.Int("max_concurrent_calls", s.config.MaxConcurrentCalls),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Media server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the media server
func (s *MediaServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping media stream server...")

	err := s.server.Shutdown(ctx)

	s.mu.RLock()
	accepted := s.connectionsAccepted
	upgradeErrors := s.upgradeErrors
	handshakeErrors := s.handshakeErrors
	rejected := s.connectionsRejected
	s.mu.RUnlock()

	s.logger.Info("Media stream server stopped",
		slog.Uint64("connections_accepted", accepted),
		slog.Uint64("upgrade_errors", upgradeErrors),
		slog.Uint64("handshake_errors", handshakeErrors),
		slog.Uint64("connections_rejected", rejected),
	)

	return err
}

// handleStream returns the WebSocket handler for one media direction.
func (s *MediaServer) handleStream(direction string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.mu.Lock()
			s.upgradeErrors++
			s.mu.Unlock()

			s.logger.Warn("WebSocket upgrade failed",
				slog.String("direction", direction),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			return
		}

		s.mu.Lock()
		s.connectionsAccepted++
		s.mu.Unlock()

		s.serveStream(direction, conn, r.RemoteAddr)
	}
}

// serveStream runs one media stream connection from handshake to teardown.
func (s *MediaServer) serveStream(direction string, conn *websocket.Conn, remoteAddr string) {
	start, err := s.awaitStart(conn)
	if err != nil {
		s.mu.Lock()
		s.handshakeErrors++
		s.mu.Unlock()

		s.logger.Warn("Media stream handshake failed",
			slog.String("direction", direction),
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	// Capacity only gates calls the relay manager has not seen yet. The
	// second leg of a call that is already counted must pass, or the call
	// could never pair once the limit is reached.
	if _, known := s.relayMgr.GetRelay(start.CallSID); !known && s.relayMgr.ActiveCalls() >= s.config.MaxConcurrentCalls {
		s.mu.Lock()
		s.connectionsRejected++
		s.mu.Unlock()

		s.logger.Warn("Rejecting media stream, call capacity reached",
			slog.String("direction", direction),
			slog.String("call_id", start.CallSID),
			slog.Int("max_concurrent_calls", s.config.MaxConcurrentCalls),
		)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "call capacity reached"))
		conn.Close()
		return
	}

	leg := media.NewWSLeg(direction, start, conn, s.logger)

	s.logger.Info("Media stream connected",
		slog.String("direction", direction),
		slog.String("call_id", start.CallSID),
		slog.String("stream_id", start.StreamSID),
		slog.String("remote_addr", remoteAddr),
	)

	if err := s.relayMgr.AttachLeg(start.CallSID, direction, leg); err != nil {
		s.logger.Warn("Failed to attach media leg",
			slog.String("direction", direction),
			slog.String("call_id", start.CallSID),
			slog.String("error", err.Error()),
		)
		leg.Close()
		return
	}

	// ReadPump blocks until the stream stops or the connection drops.
	// Either way the call is over for both directions.
	leg.ReadPump()

	s.logger.Info("Media stream disconnected",
		slog.String("direction", direction),
		slog.String("call_id", start.CallSID),
	)

	s.relayMgr.EndCall(start.CallSID)
}

// awaitStart reads frames until the start frame arrives. Connected frames
// are expected first and skipped; anything else before start is a protocol
// violation from the media provider.
func (s *MediaServer) awaitStart(conn *websocket.Conn) (*media.StartFrame, error) {
	deadline := time.Now().Add(handshakeReadTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read handshake frame: %w", err)
		}

		frame, err := media.ParseFrame(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed handshake frame: %w", err)
		}

		switch frame.Event {
		case media.EventConnected:
			continue
		case media.EventStart:
			return frame.Start, nil
		default:
			return nil, fmt.Errorf("unexpected %q frame before start", frame.Event)
		}
	}
}

// GetStatistics returns current media server statistics
func (s *MediaServer) GetStatistics() MediaStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return MediaStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		UpgradeErrors:       s.upgradeErrors,
		HandshakeErrors:     s.handshakeErrors,
		ConnectionsRejected: s.connectionsRejected,
		ActiveCalls:         uint64(s.relayMgr.ActiveCalls()),
	}
}

// MediaStatistics represents media server connection metrics
type MediaStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	UpgradeErrors       uint64 `json:"upgrade_errors"`
	HandshakeErrors     uint64 `json:"handshake_errors"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	ActiveCalls         uint64 `json:"active_calls"`
}
