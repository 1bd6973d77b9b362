// Package server implements the media stream WebSocket server and the HTTP
// monitoring API for the live translation relay service.
package server
