package latency

import (
	"log/slog"
	"sync"
	"time"
)

// Record represents one detected utterance on a leg.
// FirstAudio stays zero until translated audio for the utterance is observed;
// a record only contributes to the average once both timestamps are present.
type Record struct {
	ID            string
	SpeechStopped time.Time
	FirstAudio    time.Time
}

// Latency returns the end-of-speech to first-audio delay, and whether the
// record qualifies (both timestamps present).
func (r *Record) Latency() (time.Duration, bool) {
	if r.FirstAudio.IsZero() {
		return 0, false
	}
	return r.FirstAudio.Sub(r.SpeechStopped), true
}

// Summary is the closing report for one leg.
// AverageMS is NaN when no record qualifies.
type Summary struct {
	Leg           string  `json:"leg"`
	Utterances    int     `json:"utterances"`
	Qualifying    int     `json:"qualifying"`
	TotalMS       float64 `json:"total_ms"`
	AverageMS     float64 `json:"average_ms"`
	OrphanedAudio uint64  `json:"orphaned_audio"`
}

// Tracker maintains the ordered utterance records for one leg.
// Records are appended in arrival order and retained until the relay closes.
type Tracker struct {
	leg    string
	logger *slog.Logger

	mu            sync.Mutex
	records       []Record
	orphanedAudio uint64
}

// NewTracker creates a tracker for the named leg with an empty record list.
func NewTracker(leg string, logger *slog.Logger) *Tracker {
	return &Tracker{
		leg:     leg,
		logger:  logger,
		records: make([]Record, 0),
	}
}

// RecordUtteranceStart appends a new record for an end-of-speech event.
func (t *Tracker) RecordUtteranceStart(id string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, Record{
		ID:            id,
		SpeechStopped: ts,
	})
}

// RecordFirstAudio stamps the most recently appended record with the first
// translated-audio timestamp. The first write wins; later audio chunks for
// the same utterance are ignored. Audio arriving before any end-of-speech
// event is counted and logged rather than faulting.
func (t *Tracker) RecordFirstAudio(ts time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.records) == 0 {
		t.orphanedAudio++
		t.logger.Warn("Translated audio received before any utterance was recorded",
			slog.String("leg", t.leg),
			slog.Uint64("orphaned_audio", t.orphanedAudio),
		)
		return 0, false
	}

	last := &t.records[len(t.records)-1]
	if !last.FirstAudio.IsZero() {
		return 0, false
	}

	last.FirstAudio = ts
	return ts.Sub(last.SpeechStopped), true
}

// UtteranceCount returns the number of recorded utterances.
func (t *Tracker) UtteranceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// AverageLatency returns the mean latency in milliseconds over all qualifying
// records. With zero qualifying records the division yields NaN, never a
// fault; callers report it as-is.
func (t *Tracker) AverageLatency() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	total, qualifying := t.totalsLocked()
	return total / float64(qualifying)
}

// Summary returns the closing report for this leg.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	total, qualifying := t.totalsLocked()

	return Summary{
		Leg:           t.leg,
		Utterances:    len(t.records),
		Qualifying:    qualifying,
		TotalMS:       total,
		AverageMS:     total / float64(qualifying),
		OrphanedAudio: t.orphanedAudio,
	}
}

func (t *Tracker) totalsLocked() (totalMS float64, qualifying int) {
	for i := range t.records {
		if d, ok := t.records[i].Latency(); ok {
			totalMS += float64(d) / float64(time.Millisecond)
			qualifying++
		}
	}
	return totalMS, qualifying
}

// Combine computes the combined average latency in milliseconds across legs.
// NaN when no leg recorded a qualifying utterance.
func Combine(summaries ...Summary) float64 {
	var total float64
	var qualifying int
	for _, s := range summaries {
		total += s.TotalMS
		qualifying += s.Qualifying
	}
	return total / float64(qualifying)
}
