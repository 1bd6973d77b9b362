package protocol

import (
	"encoding/json"
	"fmt"
)

// Event kinds exchanged with the translation endpoint
const (
	// Outbound (relay → endpoint)
	EventSetInferenceConfig = "set_inference_config"

	// Bidirectional: outbound carries caller/agent audio, inbound carries
	// translated audio synthesized by the endpoint
	EventAudioBufferAdd = "audio_buffer_add"

	// Inbound (endpoint → relay): server-side VAD detected end of speech
	EventVADSpeechStopped = "vad_speech_stopped"
)

// Fixed inference parameters sent in every configuration event
const (
	TurnEndServerDetection = "server_detection"
	VoiceAlloy             = "alloy"
	ToolChoiceNone         = "none"
	AudioFormatG711Ulaw    = "g711-ulaw"
)

// InferenceConfig is the one-time session configuration event.
// It must be sent exactly once, immediately after the connection opens
// and before any audio is forwarded.
type InferenceConfig struct {
	Event         string `json:"event"`
	SystemMessage string `json:"system_message"`
	TurnEndType   string `json:"turn_end_type"`
	Voice         string `json:"voice"`
	ToolChoice    string `json:"tool_choice"`
	DisableAudio  bool   `json:"disable_audio"`
	AudioFormat   string `json:"audio_format"`
}

// NewInferenceConfig builds a configuration event carrying the rendered
// system prompt and the fixed voice/format parameters.
func NewInferenceConfig(systemMessage string) *InferenceConfig {
	return &InferenceConfig{
		Event:         EventSetInferenceConfig,
		SystemMessage: systemMessage,
		TurnEndType:   TurnEndServerDetection,
		Voice:         VoiceAlloy,
		ToolChoice:    ToolChoiceNone,
		DisableAudio:  false,
		AudioFormat:   AudioFormatG711Ulaw,
	}
}

// AudioBufferAdd carries one audio payload. Data is raw bytes; the JSON
// encoding is standard base64, matching the G.711 µ-law payloads relayed
// from the media streams.
type AudioBufferAdd struct {
	Event string `json:"event"`
	Data  []byte `json:"data"`
}

// NewAudioBufferAdd wraps an audio payload in an audio event.
func NewAudioBufferAdd(payload []byte) *AudioBufferAdd {
	return &AudioBufferAdd{
		Event: EventAudioBufferAdd,
		Data:  payload,
	}
}

// ServerEvent is the inbound event envelope. Only the fields used by this
// service are decoded; events of unknown kind still parse so the caller can
// ignore them without treating them as protocol errors.
type ServerEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// ParseServerEvent parses one inbound message from the translation endpoint.
func ParseServerEvent(raw []byte) (*ServerEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty server event")
	}

	var event ServerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("failed to parse server event: %w", err)
	}

	if event.Event == "" {
		return nil, fmt.Errorf("server event missing event kind")
	}

	return &event, nil
}
