// Package server exposes the recognition session over HTTP: control
// endpoints to load a model and start or stop recording, a websocket stream
// of session events, archived transcripts, health and Prometheus metrics.
package server
