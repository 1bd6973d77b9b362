package media

import (
	"encoding/json"
	"fmt"
)

// Media-stream frame event kinds
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Leg directions: the inbound leg carries the caller's raw speech, the
// outbound leg carries the agent's
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Frame is the envelope for one media-stream message. Only the payloads used
// by this service are decoded; frames of unknown kind still parse so they can
// be ignored.
type Frame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
}

// StartFrame announces a new media stream and identifies the call it belongs to.
type StartFrame struct {
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the audio carried on the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaFrame carries one audio payload. The JSON encoding is standard base64.
type MediaFrame struct {
	Payload []byte `json:"payload"`
}

// NewMediaFrame builds an outgoing audio frame for the given stream.
func NewMediaFrame(streamSID string, payload []byte) *Frame {
	return &Frame{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaFrame{Payload: payload},
	}
}

// ParseFrame parses one media-stream message.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty media frame")
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse media frame: %w", err)
	}

	if frame.Event == "" {
		return nil, fmt.Errorf("media frame missing event kind")
	}

	switch frame.Event {
	case EventStart:
		if frame.Start == nil || frame.Start.CallSID == "" {
			return nil, fmt.Errorf("start frame missing call identifier")
		}
	case EventMedia:
		if frame.Media == nil {
			return nil, fmt.Errorf("media frame missing payload")
		}
	}

	return &frame, nil
}
