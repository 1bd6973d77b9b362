package media

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// WSLeg is a media leg backed by one WebSocket media-stream connection.
// Frames are processed in arrival order by a single read pump; writes are
// serialized by a mutex so translated audio and close frames never interleave.
type WSLeg struct {
	direction string
	callSID   string
	streamSID string
	conn      *websocket.Conn
	logger    *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	mu      sync.Mutex
	onMedia func(payload []byte)
}

// NewWSLeg wraps an upgraded media-stream connection whose start frame has
// already been consumed by the transport server.
func NewWSLeg(direction string, start *StartFrame, conn *websocket.Conn, logger *slog.Logger) *WSLeg {
	return &WSLeg{
		direction: direction,
		callSID:   start.CallSID,
		streamSID: start.StreamSID,
		conn:      conn,
		logger:    logger,
	}
}

// Direction returns which side of the call this leg carries.
func (l *WSLeg) Direction() string {
	return l.direction
}

// CallSID returns the call identifier announced in the start frame.
func (l *WSLeg) CallSID() string {
	return l.callSID
}

// OnMedia registers the audio frame handler.
func (l *WSLeg) OnMedia(fn func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMedia = fn
}

// Send writes one translated-audio payload onto this leg.
func (l *WSLeg) Send(payload []byte) error {
	if l.closed.Load() {
		return fmt.Errorf("%s leg closed", l.direction)
	}

	frame := NewMediaFrame(l.streamSID, payload)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to write media frame: %w", err)
	}

	return nil
}

// Close tears down the connection. Idempotent.
func (l *WSLeg) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writeMu.Lock()
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.writeMu.Unlock()

	return l.conn.Close()
}

// ReadPump reads frames until the stream stops, the peer disconnects, or the
// leg is closed. It blocks the caller; the transport server runs it on the
// connection's handler goroutine so frame ordering is preserved.
func (l *WSLeg) ReadPump() {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if !l.closed.Load() && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("Media stream read failed",
					slog.String("direction", l.direction),
					slog.String("call_sid", l.callSID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			l.logger.Warn("Dropping malformed media frame",
				slog.String("direction", l.direction),
				slog.String("call_sid", l.callSID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch frame.Event {
		case EventMedia:
			l.mu.Lock()
			handler := l.onMedia
			l.mu.Unlock()

			if handler == nil {
				// Relay not started yet for this call
				l.logger.Debug("Dropping media frame with no handler registered",
					slog.String("direction", l.direction),
					slog.String("call_sid", l.callSID),
				)
				continue
			}
			handler(frame.Media.Payload)

		case EventStop:
			l.logger.Info("Media stream stopped by peer",
				slog.String("direction", l.direction),
				slog.String("call_sid", l.callSID),
			)
			return

		default:
			// connected, mark, and future kinds are ignored
		}
	}
}
