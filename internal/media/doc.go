// Package media provides the media-leg abstraction consumed by the relay and
// its WebSocket implementation. A leg delivers decoded audio frames from one
// side of a call and accepts translated audio to play back on that side; the
// wire format follows the telephony provider's media-stream framing (JSON
// events with base64 G.711 µ-law payloads).
package media
