// Package translation implements the WebSocket client for the realtime
// speech-translation endpoint. Each session owns one connection, configures
// it exactly once on open, forwards raw call audio, and dispatches the
// endpoint's events (end-of-speech detection, translated audio) to handlers
// supplied by the relay. Sessions are never reconnected: a dropped session
// leaves its direction untranslated while the opposite direction keeps
// working.
package translation
