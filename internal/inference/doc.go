// Package inference adapts PCM frames to a loaded acoustic model.
//
// Depending on the detected model profile a frame is either converted to a
// normalised spectrogram of shape [1, T, F] or scaled to floats and fitted
// to a fixed sample count. Model output is reduced to a single batch and
// returned as either a logits matrix or an index sequence.
package inference
