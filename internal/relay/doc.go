// Package relay binds the two media legs of a call to two realtime
// translation sessions. Audio from the inbound leg (the caller) is translated
// by the caller-prompt session and played onto the outbound leg; audio from
// the outbound leg (the agent) is translated by the agent-prompt session and
// played onto the inbound leg. A startup guard window keeps call-setup
// artifacts such as ringback out of the translation pipeline, and per-leg
// latency trackers produce the closing report. The Manager owns exactly one
// relay per call for its lifetime.
package relay
