package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type inferenceConfig struct {
	Event         string `json:"event"`
	SystemMessage string `json:"system_message"`
	TurnEndType   string `json:"turn_end_type"`
	Voice         string `json:"voice"`
	ToolChoice    string `json:"tool_choice"`
	DisableAudio  bool   `json:"disable_audio"`
	AudioFormat   string `json:"audio_format"`
}

type audioBufferAdd struct {
	Event string `json:"event"`
	Data  []byte `json:"data"`
}

type speechStopped struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chunksPerUtterance is how many audio chunks the mock treats as one
// utterance before it emits speech-stopped and echoes the audio back.
const chunksPerUtterance = 25

func realtimeHandler(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		log.Printf("❌ Rejected connection without Bearer token from %s", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("🔌 SESSION CONNECTED from %s", r.RemoteAddr)

	var configured bool
	var utterance int
	var chunks int
	var pending [][]byte

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("🔚 Session closed: %v", err)
			return
		}

		var envelope struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("⚠️  Ignoring malformed message: %v", err)
			continue
		}

		switch envelope.Event {
		case "set_inference_config":
			var cfg inferenceConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				log.Printf("⚠️  Bad inference config: %v", err)
				continue
			}
			configured = true

			log.Printf("⚙️  INFERENCE CONFIG RECEIVED:")
			log.Printf("  ═══════════════════════════════════")
			log.Printf("    System Message: %.80s", cfg.SystemMessage)
			log.Printf("    Turn End Type: %s", cfg.TurnEndType)
			log.Printf("    Voice: %s", cfg.Voice)
			log.Printf("    Audio Format: %s", cfg.AudioFormat)
			log.Printf("  ═══════════════════════════════════")

		case "audio_buffer_add":
			if !configured {
				log.Printf("⚠️  Audio received before inference config, ignoring")
				continue
			}

			var add audioBufferAdd
			if err := json.Unmarshal(raw, &add); err != nil {
				log.Printf("⚠️  Bad audio buffer message: %v", err)
				continue
			}

			pending = append(pending, add.Data)
			chunks++
			if chunks < chunksPerUtterance {
				continue
			}

			// Simulate the end of an utterance: emit speech-stopped, then
			// stream the buffered audio back as the "translation".
			utterance++
			messageID := messageIDFor(utterance)

			if err := conn.WriteJSON(speechStopped{
				Event:     "vad_speech_stopped",
				MessageID: messageID,
			}); err != nil {
				log.Printf("❌ Failed to send speech stopped: %v", err)
				return
			}

			time.Sleep(150 * time.Millisecond) // pretend to translate

			for _, data := range pending {
				if err := conn.WriteJSON(audioBufferAdd{
					Event: "audio_buffer_add",
					Data:  data,
				}); err != nil {
					log.Printf("❌ Failed to send translated audio: %v", err)
					return
				}
			}

			log.Printf("✅ UTTERANCE %d TRANSLATED: %s (%d chunks echoed)", utterance, messageID, len(pending))

			pending = pending[:0]
			chunks = 0

		default:
			log.Printf("⚠️  Unknown event %q, ignoring", envelope.Event)
		}
	}
}

func messageIDFor(utterance int) string {
	return time.Now().UTC().Format("msg-20060102-150405") + "-" + string(rune('a'+utterance%26))
}

func main() {
	http.HandleFunc("/v1/realtime", realtimeHandler)

	port := ":9000"
	log.Printf("🚀 Test Translation Server starting on port %s", port)
	log.Printf("📡 Endpoint: ws://localhost%s/v1/realtime", port)
	log.Println("💡 Update your config to use: ws://localhost:9000/v1/realtime")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
