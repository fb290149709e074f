// Package features converts PCM frames into normalized spectral features.
//
// The pipeline is amplitude normalization, a Hann-windowed STFT computed with
// gonum's real FFT, an optional HTK mel filterbank, conversion to decibels
// relative to the loudest bin, and a fixed-range mapping of the decibel
// values onto roughly [0, 1].
package features
