// Package latency tracks per-utterance translation latency for one media leg.
// It records the time between the endpoint's end-of-speech detection and the
// first translated-audio chunk, and summarizes the averages reported when a
// call closes.
package latency
