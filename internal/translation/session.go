package translation

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/protocol"
)

// Role identifies which prompt a session carries and therefore which leg's
// audio it translates.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// State is the session lifecycle state
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// ErrSessionUnavailable is returned when audio is forwarded to a session that
// is not open. Callers drop the chunk and keep running; the call continues
// untranslated in that direction.
var ErrSessionUnavailable = errors.New("translation session not open")

// LanguagePlaceholder is the token substituted in prompt templates.
const LanguagePlaceholder = "{language}"

// RenderPrompt substitutes the language parameter into a prompt template.
func RenderPrompt(template, language string) string {
	return strings.ReplaceAll(template, LanguagePlaceholder, language)
}

// Config contains translation endpoint connection settings
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
}

// Handlers receive the session's inbound protocol events. They are invoked
// from the session's read loop, one at a time, in arrival order.
type Handlers struct {
	// OnSpeechStopped fires when server-side VAD detects end of an utterance.
	OnSpeechStopped func(messageID string, at time.Time)

	// OnTranslatedAudio fires for each translated-audio chunk.
	OnTranslatedAudio func(payload []byte, at time.Time)
}

// Session manages one connection to the translation endpoint.
type Session struct {
	role     Role
	cfg      Config
	handlers Handlers
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state  atomic.Int32
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
}

// NewSession creates a session for the given role. The connection is not
// established until Open is called.
func NewSession(role Role, cfg Config, handlers Handlers, logger *slog.Logger, m *metrics.Metrics) *Session {
	s := &Session{
		role:     role,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// Role returns the session's role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Open connects to the translation endpoint with the rendered prompt. It
// never blocks and never returns an error: the dial runs asynchronously and
// connection failures surface through logs, metrics, and the session state.
func (s *Session) Open(promptTemplate, language string) {
	prompt := RenderPrompt(promptTemplate, language)
	go s.dial(prompt)
}

func (s *Session) dial(prompt string) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	conn, resp, err := dialer.Dial(s.cfg.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		s.state.Store(int32(StateErrored))
		s.metrics.RecordSessionError(string(s.role))
		s.logger.Error("Translation session connect failed",
			slog.String("role", string(s.role)),
			slog.String("url", s.cfg.URL),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		s.signalDone()
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// Closed while the dial was in flight. The check runs after the conn is
	// published so a Close that raced the dial either found the conn itself
	// or is caught here; the connection cannot outlive the session.
	if s.closed.Load() {
		s.mu.Lock()
		c := s.conn
		s.conn = nil
		s.mu.Unlock()
		if c != nil {
			c.Close()
		}
		s.state.Store(int32(StateClosed))
		s.signalDone()
		return
	}

	// Configuration is sent exactly once, before the session is marked open,
	// so no audio can precede it.
	if err := s.writeJSON(protocol.NewInferenceConfig(prompt)); err != nil {
		s.state.Store(int32(StateErrored))
		s.metrics.RecordSessionError(string(s.role))
		s.logger.Error("Failed to send session configuration",
			slog.String("role", string(s.role)),
			slog.String("error", err.Error()),
		)
		conn.Close()
		s.signalDone()
		return
	}

	s.state.Store(int32(StateOpen))
	s.metrics.RecordSessionOpened(string(s.role))
	s.logger.Info("Translation session open",
		slog.String("role", string(s.role)),
		slog.String("url", s.cfg.URL),
	)

	s.readLoop(conn)
}

// SendAudioChunk forwards one raw audio payload to the endpoint. If the
// session is not open the chunk is not sent and ErrSessionUnavailable is
// returned; the caller reports and drops it rather than failing the call.
func (s *Session) SendAudioChunk(payload []byte) error {
	if s.State() != StateOpen {
		s.metrics.RecordAudioChunkDropped(string(s.role))
		return fmt.Errorf("%s: %w", s.role, ErrSessionUnavailable)
	}

	if err := s.writeJSON(protocol.NewAudioBufferAdd(payload)); err != nil {
		s.metrics.RecordAudioChunkDropped(string(s.role))
		return fmt.Errorf("failed to forward audio chunk: %w", err)
	}

	s.metrics.RecordAudioChunkSent(string(s.role))
	return nil
}

func (s *Session) writeJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%s: %w", s.role, ErrSessionUnavailable)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop processes inbound events one at a time in arrival order. The
// ordering is relied upon by latency tracking: translated audio stamps the
// most recent end-of-speech record.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.signalDone()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		event, err := protocol.ParseServerEvent(raw)
		if err != nil {
			s.metrics.RecordParseError(string(s.role))
			s.logger.Warn("Dropping malformed translation event",
				slog.String("role", string(s.role)),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.metrics.RecordTranslationEvent(string(s.role), event.Event)

		switch event.Event {
		case protocol.EventVADSpeechStopped:
			s.logger.Debug("Speech stopped",
				slog.String("role", string(s.role)),
				slog.String("message_id", event.MessageID),
			)
			if s.handlers.OnSpeechStopped != nil {
				s.handlers.OnSpeechStopped(event.MessageID, time.Now())
			}

		case protocol.EventAudioBufferAdd:
			s.logger.Debug("Translated audio received",
				slog.String("role", string(s.role)),
				slog.Int("payload_size", len(event.Data)),
			)
			if s.handlers.OnTranslatedAudio != nil {
				s.handlers.OnTranslatedAudio(event.Data, time.Now())
			}

		default:
			// Forward compatible: unknown event kinds are ignored
			s.logger.Debug("Ignoring translation event",
				slog.String("role", string(s.role)),
				slog.String("event", event.Event),
			)
		}
	}
}

func (s *Session) handleReadError(err error) {
	if s.closed.Load() {
		s.state.Store(int32(StateClosed))
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.state.Store(int32(StateClosed))
		s.metrics.RecordSessionClosed(string(s.role))
		s.logger.Info("Translation session closed by remote",
			slog.String("role", string(s.role)),
		)
		return
	}

	s.state.Store(int32(StateErrored))
	s.metrics.RecordSessionError(string(s.role))
	s.logger.Error("Translation session transport error",
		slog.String("role", string(s.role)),
		slog.String("error", err.Error()),
	)
}

// Close tears down the connection if one exists. Idempotent: safe to call
// before the dial completes, after the remote closed, or repeatedly.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		// Never connected, or the dial is still in flight and will observe
		// the closed flag.
		return nil
	}

	s.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := conn.Close()
	s.state.Store(int32(StateClosed))
	s.metrics.RecordSessionClosed(string(s.role))
	s.logger.Info("Translation session closed",
		slog.String("role", string(s.role)),
	)
	return err
}

func (s *Session) signalDone() {
	s.once.Do(func() { close(s.done) })
}
