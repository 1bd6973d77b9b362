package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/config"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/media"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/relay"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/translation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTranslationStub runs a minimal translation endpoint so relay sessions
// have somewhere to connect.
func newTranslationStub(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type mediaHarness struct {
	mediaServer *MediaServer
	relayMgr    *relay.Manager
	endpoint    *httptest.Server
}

func newMediaHarness(t *testing.T, maxCalls int) *mediaHarness {
	t.Helper()

	relayMgr := relay.NewManager(relay.ManagerConfig{
		Relay: relay.Config{
			Language:     "Spanish",
			CallerPrompt: "Translate the caller into {language}.",
			AgentPrompt:  "Translate the agent into {language}.",
			Session: translation.Config{
				URL:              newTranslationStub(t),
				APIKey:           "test-key",
				HandshakeTimeout: 2 * time.Second,
			},
		},
	}, testLogger(), metrics.NewMetrics())
	t.Cleanup(relayMgr.Stop)

	serverCfg := &config.ServerConfig{
		Port:               8080,
		BindAddress:        "127.0.0.1",
		MaxConcurrentCalls: maxCalls,
	}
	mediaServer := NewMediaServer(serverCfg, testLogger(), relayMgr)

	mux := http.NewServeMux()
	mux.HandleFunc("/media/inbound", mediaServer.handleStream(media.DirectionInbound))
	mux.HandleFunc("/media/outbound", mediaServer.handleStream(media.DirectionOutbound))
	endpoint := httptest.NewServer(mux)
	t.Cleanup(endpoint.Close)

	return &mediaHarness{
		mediaServer: mediaServer,
		relayMgr:    relayMgr,
		endpoint:    endpoint,
	}
}

func (h *mediaHarness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.endpoint.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startFrame(callSID, streamSID string) map[string]interface{} {
	return map[string]interface{}{
		"event":     "start",
		"streamSid": streamSID,
		"start": map[string]interface{}{
			"streamSid": streamSID,
			"callSid":   callSID,
			"mediaFormat": map[string]interface{}{
				"encoding":   "audio/x-mulaw",
				"sampleRate": 8000,
				"channels":   1,
			},
		},
	}
}

func TestMediaServerPairsStreamsIntoCall(t *testing.T) {
	h := newMediaHarness(t, 10)

	inbound := h.dial(t, "/media/inbound")
	require.NoError(t, inbound.WriteJSON(map[string]interface{}{"event": "connected"}))
	require.NoError(t, inbound.WriteJSON(startFrame("CA1", "MZ-in")))

	require.Eventually(t, func() bool {
		return h.relayMgr.ActiveCalls() == 1
	}, 2*time.Second, 10*time.Millisecond, "inbound stream never created a call")

	r, ok := h.relayMgr.GetRelay("CA1")
	require.True(t, ok)
	assert.False(t, r.Started())

	outbound := h.dial(t, "/media/outbound")
	require.NoError(t, outbound.WriteJSON(map[string]interface{}{"event": "connected"}))
	require.NoError(t, outbound.WriteJSON(startFrame("CA1", "MZ-out")))

	require.Eventually(t, func() bool {
		return r.Started()
	}, 2*time.Second, 10*time.Millisecond, "relay never started after both streams connected")

	// A stop frame on either stream ends the whole call
	require.NoError(t, inbound.WriteJSON(map[string]interface{}{"event": "stop"}))

	require.Eventually(t, func() bool {
		return h.relayMgr.ActiveCalls() == 0
	}, 2*time.Second, 10*time.Millisecond, "call never torn down after stop")
}

func TestMediaServerDropsStreamWithBadHandshake(t *testing.T) {
	h := newMediaHarness(t, 10)

	conn := h.dial(t, "/media/inbound")

	// Media before start is a protocol violation
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"payload": "AAAA"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server should close the connection")
	assert.Equal(t, 0, h.relayMgr.ActiveCalls())
}

func TestMediaServerRejectsOverCapacity(t *testing.T) {
	h := newMediaHarness(t, 1)

	inbound := h.dial(t, "/media/inbound")
	require.NoError(t, inbound.WriteJSON(startFrame("CA1", "MZ-in")))

	require.Eventually(t, func() bool {
		return h.relayMgr.ActiveCalls() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The half-paired call already counts against the limit, but its own
	// second leg must still be admitted so the call can start.
	outbound := h.dial(t, "/media/outbound")
	require.NoError(t, outbound.WriteJSON(startFrame("CA1", "MZ-out")))

	r, ok := h.relayMgr.GetRelay("CA1")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return r.Started()
	}, 2*time.Second, 10*time.Millisecond, "pairing leg was refused at capacity")

	// A stream for a new call is refused once its start frame is read
	overflow := h.dial(t, "/media/inbound")
	require.NoError(t, overflow.WriteJSON(startFrame("CA2", "MZ-over")))

	overflow.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := overflow.ReadMessage()
	require.Error(t, err, "server should close the connection")

	assert.Equal(t, 1, h.relayMgr.ActiveCalls())
	_, known := h.relayMgr.GetRelay("CA2")
	assert.False(t, known)
}

func TestAwaitStartParsesHandshake(t *testing.T) {
	h := newMediaHarness(t, 10)

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(raw.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(raw.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	serverConn := <-serverConns

	payload, err := json.Marshal(startFrame("CA9", "MZ9"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.WriteJSON(map[string]interface{}{"event": "connected"})
		client.WriteMessage(websocket.TextMessage, payload)
	}()

	start, err := h.mediaServer.awaitStart(serverConn)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "CA9", start.CallSID)
	assert.Equal(t, "MZ9", start.StreamSID)
}
