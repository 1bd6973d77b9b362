package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/latency"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/media"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/translation"
)

// DefaultGuardWindow is how long outbound-leg audio is suppressed after the
// first outbound frame. Ringback and connection beeps arrive in this window
// and must not reach the translation pipeline.
const DefaultGuardWindow = 1000 * time.Millisecond

var (
	// ErrNotReady is returned by Start when either media leg is missing.
	ErrNotReady = errors.New("relay not ready: media legs not attached")

	// ErrNotAttached is returned by the leg accessors before assignment.
	ErrNotAttached = errors.New("media leg not attached")

	// ErrAlreadyStarted is returned when a leg is attached, or Start is
	// called again, after the relay has started.
	ErrAlreadyStarted = errors.New("relay already started")
)

// Config contains everything one relay needs at construction time.
type Config struct {
	CallID       string
	Language     string
	CallerPrompt string
	AgentPrompt  string
	Session      translation.Config

	// GuardWindow overrides DefaultGuardWindow when positive.
	GuardWindow time.Duration
}

// Relay owns both translation sessions and both latency trackers for one
// call, and uses (but does not own) the two media legs attached to it.
type Relay struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	callerSession *translation.Session
	agentSession  *translation.Session
	callerTracker *latency.Tracker
	agentTracker  *latency.Tracker

	startTime time.Time

	// One mutex guards the leg references, lifecycle flags, and the guard
	// timestamp: both legs' events may arrive on different goroutines.
	mu         sync.Mutex
	inbound    media.Leg
	outbound   media.Leg
	started    bool
	closed     bool
	guardStart time.Time
	guardOpen  bool
}

// New creates a relay for one call and opens both translation sessions
// immediately. Media legs are attached separately as their streams connect.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if cfg.GuardWindow <= 0 {
		cfg.GuardWindow = DefaultGuardWindow
	}

	r := &Relay{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
	}

	r.callerTracker = latency.NewTracker(string(translation.RoleCaller), logger)
	r.agentTracker = latency.NewTracker(string(translation.RoleAgent), logger)

	// The caller session's translated audio is what the agent hears, so it
	// goes out on the outbound leg; symmetrically for the agent session.
	r.callerSession = translation.NewSession(translation.RoleCaller, cfg.Session, translation.Handlers{
		OnSpeechStopped:   r.speechStoppedHandler(r.callerTracker),
		OnTranslatedAudio: r.translatedAudioHandler(r.callerTracker, r.Outbound, media.DirectionOutbound),
	}, logger, m)

	r.agentSession = translation.NewSession(translation.RoleAgent, cfg.Session, translation.Handlers{
		OnSpeechStopped:   r.speechStoppedHandler(r.agentTracker),
		OnTranslatedAudio: r.translatedAudioHandler(r.agentTracker, r.Inbound, media.DirectionInbound),
	}, logger, m)

	r.callerSession.Open(cfg.CallerPrompt, cfg.Language)
	r.agentSession.Open(cfg.AgentPrompt, cfg.Language)

	logger.Info("Relay created",
		slog.String("call_id", cfg.CallID),
		slog.String("language", cfg.Language),
		slog.Duration("guard_window", cfg.GuardWindow),
	)

	return r
}

// CallID returns the call this relay serves.
func (r *Relay) CallID() string {
	return r.cfg.CallID
}

// Started reports whether Start has succeeded.
func (r *Relay) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// AttachInbound sets the inbound (caller) media leg. Reattachment after
// Start is disallowed: the already-registered handlers would keep feeding
// from the old leg.
func (r *Relay) AttachInbound(leg media.Leg) error {
	return r.attach(&r.inbound, leg)
}

// AttachOutbound sets the outbound (agent) media leg.
func (r *Relay) AttachOutbound(leg media.Leg) error {
	return r.attach(&r.outbound, leg)
}

func (r *Relay) attach(slot *media.Leg, leg media.Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	*slot = leg
	return nil
}

// Inbound returns the inbound media leg, or ErrNotAttached before assignment.
func (r *Relay) Inbound() (media.Leg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inbound == nil {
		return nil, fmt.Errorf("inbound: %w", ErrNotAttached)
	}
	return r.inbound, nil
}

// Outbound returns the outbound media leg, or ErrNotAttached before assignment.
func (r *Relay) Outbound() (media.Leg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outbound == nil {
		return nil, fmt.Errorf("outbound: %w", ErrNotAttached)
	}
	return r.outbound, nil
}

// Start wires both media legs into the translation sessions. It fails with
// ErrNotReady, registering no handlers, unless both legs are attached.
func (r *Relay) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if r.inbound == nil || r.outbound == nil {
		r.mu.Unlock()
		return ErrNotReady
	}
	inbound := r.inbound
	outbound := r.outbound
	r.started = true
	r.mu.Unlock()

	// Caller speech is translated by the caller-prompt session; inbound
	// audio is never gated.
	inbound.OnMedia(r.handleInboundAudio)

	// Agent speech is translated by the agent-prompt session, behind the
	// startup guard window.
	outbound.OnMedia(r.handleOutboundAudio)

	r.logger.Info("Relay started",
		slog.String("call_id", r.cfg.CallID),
	)

	return nil
}

func (r *Relay) handleInboundAudio(payload []byte) {
	r.metrics.RecordMediaFrameReceived(media.DirectionInbound)
	r.forward(r.callerSession, payload)
}

func (r *Relay) handleOutboundAudio(payload []byte) {
	r.metrics.RecordMediaFrameReceived(media.DirectionOutbound)

	if !r.guardAllows(time.Now()) {
		r.metrics.RecordFrameSuppressed()
		r.logger.Debug("Suppressing outbound frame inside guard window",
			slog.String("call_id", r.cfg.CallID),
		)
		return
	}

	r.forward(r.agentSession, payload)
}

func (r *Relay) forward(session *translation.Session, payload []byte) {
	err := session.SendAudioChunk(payload)
	if err == nil {
		return
	}

	// A closed session degrades that direction; it never fails the call.
	if errors.Is(err, translation.ErrSessionUnavailable) {
		r.logger.Warn("Dropping audio chunk, translation session unavailable",
			slog.String("call_id", r.cfg.CallID),
			slog.String("role", string(session.Role())),
			slog.String("state", session.State().String()),
		)
		return
	}

	r.logger.Warn("Failed to forward audio chunk",
		slog.String("call_id", r.cfg.CallID),
		slog.String("role", string(session.Role())),
		slog.String("error", err.Error()),
	)
}

// guardAllows evaluates the startup guard window against wall-clock time.
// The first outbound frame arms the window and is itself suppressed; the
// gate opens once elapsed time reaches the window and never re-closes.
func (r *Relay) guardAllows(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.guardOpen {
		return true
	}

	if r.guardStart.IsZero() {
		r.guardStart = now
		r.logger.Info("Guard window armed on first outbound frame",
			slog.String("call_id", r.cfg.CallID),
			slog.Duration("guard_window", r.cfg.GuardWindow),
		)
		return false
	}

	if now.Sub(r.guardStart) >= r.cfg.GuardWindow {
		r.guardOpen = true
		r.logger.Info("Guard window elapsed, forwarding outbound audio",
			slog.String("call_id", r.cfg.CallID),
		)
		return true
	}

	return false
}

func (r *Relay) speechStoppedHandler(tracker *latency.Tracker) func(string, time.Time) {
	return func(messageID string, at time.Time) {
		tracker.RecordUtteranceStart(messageID, at)
	}
}

func (r *Relay) translatedAudioHandler(tracker *latency.Tracker, leg func() (media.Leg, error), direction string) func([]byte, time.Time) {
	return func(payload []byte, at time.Time) {
		if d, ok := tracker.RecordFirstAudio(at); ok {
			r.metrics.RecordUtteranceLatency(direction, d.Seconds())
		}

		target, err := leg()
		if err != nil {
			r.logger.Warn("Dropping translated audio, media leg not attached",
				slog.String("call_id", r.cfg.CallID),
				slog.String("direction", direction),
			)
			return
		}

		if err := target.Send(payload); err != nil {
			r.metrics.RecordMediaFrameError(direction)
			r.logger.Warn("Failed to write translated audio to media leg",
				slog.String("call_id", r.cfg.CallID),
				slog.String("direction", direction),
				slog.String("error", err.Error()),
			)
			return
		}

		r.metrics.RecordMediaFrameSent(direction)
	}
}

// Close tears down both media legs and both translation sessions, each with
// its own check-then-clear so repeated calls are safe, then logs the latency
// report. Legs detached here stop receiving translated audio immediately.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	inbound := r.inbound
	outbound := r.outbound
	r.inbound = nil
	r.outbound = nil
	r.mu.Unlock()

	if inbound != nil {
		if err := inbound.Close(); err != nil {
			r.logger.Warn("Error closing inbound media leg",
				slog.String("call_id", r.cfg.CallID),
				slog.String("error", err.Error()),
			)
		}
	}

	if outbound != nil {
		if err := outbound.Close(); err != nil {
			r.logger.Warn("Error closing outbound media leg",
				slog.String("call_id", r.cfg.CallID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.callerSession.Close()
	r.agentSession.Close()

	r.reportLatency()
	r.metrics.RecordCallFinished(time.Since(r.startTime).Seconds())

	return nil
}

// LatencySummaries returns the current per-leg latency summaries.
func (r *Relay) LatencySummaries() (caller, agent latency.Summary) {
	return r.callerTracker.Summary(), r.agentTracker.Summary()
}

// reportLatency logs the closing per-leg and combined average latency.
// Legs with zero qualifying utterances report NaN, by design.
func (r *Relay) reportLatency() {
	caller := r.callerTracker.Summary()
	agent := r.agentTracker.Summary()
	combined := latency.Combine(caller, agent)

	r.logger.Info("Call latency report",
		slog.String("call_id", r.cfg.CallID),
		slog.Duration("call_duration", time.Since(r.startTime)),
		slog.Int("caller_utterances", caller.Utterances),
		slog.String("caller_avg_ms", formatAverage(caller.AverageMS)),
		slog.Int("agent_utterances", agent.Utterances),
		slog.String("agent_avg_ms", formatAverage(agent.AverageMS)),
		slog.String("combined_avg_ms", formatAverage(combined)),
	)
}

// formatAverage renders an average latency for logging; NaN stays "NaN"
// rather than breaking JSON log output.
func formatAverage(ms float64) string {
	if math.IsNaN(ms) {
		return "NaN"
	}
	return strconv.FormatFloat(ms, 'f', 1, 64)
}
