package media

// Leg is one side of a call as seen by the relay: a source of decoded audio
// frames and a sink for translated audio. The relay uses legs but does not
// own them; their lifecycle belongs to the transport that created them.
type Leg interface {
	// OnMedia registers the handler invoked for each received audio frame.
	// Frames arriving before a handler is registered are dropped.
	OnMedia(fn func(payload []byte))

	// Send writes one audio payload back onto this side of the call.
	Send(payload []byte) error

	// Close tears down the leg. Safe to call more than once.
	Close() error
}
