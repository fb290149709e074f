// Package stream drives a speech recognition session: it loads a model,
// reads PCM blocks from a capture device, cuts them into frames, runs each
// frame through feature extraction, the model and the CTC decoder, and
// reports volume, partial and final text on an ordered event channel.
//
// A Session moves through idle, model_loading, ready, recording and
// stopping. Failures become error events and return the session to its
// last stable state. A Dispatcher forwards events to sinks such as the
// websocket hub and the transcript store.
package stream
