// Package protocol implements the JSON event protocol spoken with the
// translation endpoint over WebSocket. It handles outbound configuration and
// audio events, inbound server event parsing, and preserves unknown event
// kinds so callers can ignore them forward-compatibly.
package protocol
