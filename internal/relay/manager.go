package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/latency"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/media"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
)

// DefaultPairingTimeout bounds how long a relay may sit with only one media
// leg attached before the sweep reaps it.
const DefaultPairingTimeout = 60 * time.Second

// ManagerConfig contains configuration for the relay manager.
type ManagerConfig struct {
	Relay Config

	// PairingTimeout overrides DefaultPairingTimeout when positive.
	PairingTimeout time.Duration
}

type relayEntry struct {
	relay   *Relay
	created time.Time
}

// Manager tracks one relay per call and pairs media legs as they connect.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	relays map[string]*relayEntry

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a relay manager and starts its cleanup routine.
func NewManager(cfg ManagerConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = DefaultPairingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		relays:  make(map[string]*relayEntry),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// AttachLeg registers a media leg for a call, creating the relay on the
// first leg and starting it once both are present.
func (m *Manager) AttachLeg(callID, direction string, leg media.Leg) error {
	m.mu.Lock()
	entry, exists := m.relays[callID]
	if !exists {
		cfg := m.cfg.Relay
		cfg.CallID = callID
		entry = &relayEntry{
			relay:   New(cfg, m.logger, m.metrics),
			created: time.Now(),
		}
		m.relays[callID] = entry
		m.metrics.RecordCallStarted()
	}
	m.mu.Unlock()

	var err error
	switch direction {
	case media.DirectionInbound:
		err = entry.relay.AttachInbound(leg)
	case media.DirectionOutbound:
		err = entry.relay.AttachOutbound(leg)
	default:
		return fmt.Errorf("unknown media direction %q", direction)
	}
	if err != nil {
		return fmt.Errorf("attach %s leg for call %s: %w", direction, callID, err)
	}

	m.logger.Info("Media leg attached",
		slog.String("call_id", callID),
		slog.String("direction", direction),
	)

	return m.startRelay(callID, entry.relay)
}

// startRelay attempts to start a relay after a leg attach. Until both legs
// are present Start reports ErrNotReady, which just means "wait for the
// other leg". When both legs attach near-simultaneously each attach races
// to start the relay and the loser sees ErrAlreadyStarted; the relay is
// running either way, so neither outcome is an error for the caller.
func (m *Manager) startRelay(callID string, r *Relay) error {
	if err := r.Start(); err != nil {
		if errors.Is(err, ErrNotReady) || errors.Is(err, ErrAlreadyStarted) {
			return nil
		}
		return fmt.Errorf("start relay for call %s: %w", callID, err)
	}
	return nil
}

// GetRelay retrieves the relay for a call.
func (m *Manager) GetRelay(callID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.relays[callID]
	if !exists {
		return nil, false
	}
	return entry.relay, true
}

// ActiveCalls returns the number of calls with a live relay.
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}

// CallIDs returns a snapshot of the active call identifiers.
func (m *Manager) CallIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.relays))
	for id := range m.relays {
		ids = append(ids, id)
	}
	return ids
}

// LatencySummaries returns the per-leg latency summaries of every active call.
func (m *Manager) LatencySummaries() []latency.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]latency.Summary, 0, len(m.relays)*2)
	for _, entry := range m.relays {
		caller, agent := entry.relay.LatencySummaries()
		summaries = append(summaries, caller, agent)
	}
	return summaries
}

// EndCall closes and removes a call's relay. Returns false when the call
// is unknown, which is normal when both legs disconnect at once.
func (m *Manager) EndCall(callID string) bool {
	m.mu.Lock()
	entry, exists := m.relays[callID]
	if !exists {
		m.mu.Unlock()
		return false
	}
	delete(m.relays, callID)
	m.mu.Unlock()

	m.logger.Info("Finalizing call",
		slog.String("call_id", callID),
		slog.Duration("duration", time.Since(entry.created)),
	)

	if err := entry.relay.Close(); err != nil {
		m.logger.Warn("Error closing relay",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
	}

	return true
}

// Stop gracefully stops the manager, closing all relays.
func (m *Manager) Stop() {
	m.logger.Info("Stopping relay manager...")

	m.mu.Lock()
	entries := make(map[string]*relayEntry, len(m.relays))
	for id, entry := range m.relays {
		entries[id] = entry
	}
	m.relays = make(map[string]*relayEntry)
	m.mu.Unlock()

	for id, entry := range entries {
		if err := entry.relay.Close(); err != nil {
			m.logger.Warn("Error closing relay during shutdown",
				slog.String("call_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Relay manager stopped",
		slog.Int("closed_calls", len(entries)),
	)
}

// startCleanupRoutine reaps relays that never got their second media leg.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Relay cleanup routine started",
		slog.Duration("pairing_timeout", m.cfg.PairingTimeout),
		slog.Duration("check_interval", 30*time.Second),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Relay cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupUnpairedCalls()
		}
	}
}

// cleanupUnpairedCalls removes relays that are still unstarted past the
// pairing timeout. Started relays stay until their legs disconnect.
func (m *Manager) cleanupUnpairedCalls() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for callID, entry := range m.relays {
		if !entry.relay.Started() && now.Sub(entry.created) > m.cfg.PairingTimeout {
			expired = append(expired, callID)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up unpaired calls",
		slog.Int("expired_count", len(expired)),
	)

	for _, callID := range expired {
		m.EndCall(callID)
	}
}
