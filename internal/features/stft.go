package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// ZeroMaxPolicy decides how amplitude normalization treats a frame whose
// peak is zero.
type ZeroMaxPolicy int

const (
	// SkipZeroMax leaves a silent frame unscaled.
	SkipZeroMax ZeroMaxPolicy = iota
	// ClampZeroMax divides by max(peak, 1e-10).
	ClampZeroMax
)

// ParseZeroMaxPolicy maps the configuration names "skip" and "clamp".
func ParseZeroMaxPolicy(name string) ZeroMaxPolicy {
	if name == "clamp" {
		return ClampZeroMax
	}
	return SkipZeroMax
}

func (p ZeroMaxPolicy) String() string {
	if p == ClampZeroMax {
		return "clamp"
	}
	return "skip"
}

const (
	maxAmplitude = 32767.0
	peakFloor    = 1e-10
)

// NormalizeAmplitude converts PCM-16 samples to floats in [-1, 1] and then
// rescales them so the loudest sample has magnitude 1.
func NormalizeAmplitude(samples []int16, policy ZeroMaxPolicy) []float64 {
	x := make([]float64, len(samples))
	peak := 0.0
	for i, s := range samples {
		x[i] = float64(s) / maxAmplitude
		if a := math.Abs(x[i]); a > peak {
			peak = a
		}
	}

	switch policy {
	case ClampZeroMax:
		floats.Scale(1/math.Max(peak, peakFloor), x)
	default:
		if peak > 0 {
			floats.Scale(1/peak, x)
		}
	}
	return x
}

// HannWindow returns a symmetric Hann window of length n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// FrameCount returns the number of STFT frames produced for a signal of
// length n: floor((n-fftSize)/hop)+1, or 0 when the signal is shorter than
// one FFT.
func FrameCount(n, fftSize, hop int) int {
	if n < fftSize || hop <= 0 {
		return 0
	}
	return (n-fftSize)/hop + 1
}

// STFT computes Hann-windowed magnitude spectra.
//
// Each frame starts hop samples after the previous one and spans fftSize
// samples; only the first winLength of those are windowed, the rest (and any
// samples past the end of the signal) contribute zero.
type STFT struct {
	fftSize   int
	hop       int
	winLength int
	window    []float64
	fft       *fourier.FFT
}

// NewSTFT creates an STFT. winLength must not exceed fftSize.
func NewSTFT(fftSize, hop, winLength int) *STFT {
	return &STFT{
		fftSize:   fftSize,
		hop:       hop,
		winLength: winLength,
		window:    HannWindow(winLength),
		fft:       fourier.NewFFT(fftSize),
	}
}

// Bins returns the number of frequency bins, fftSize/2+1.
func (s *STFT) Bins() int {
	return s.fftSize/2 + 1
}

// Magnitudes returns a [frames][bins] matrix of DFT magnitudes.
func (s *STFT) Magnitudes(signal []float64) [][]float64 {
	frames := FrameCount(len(signal), s.fftSize, s.hop)
	out := make([][]float64, frames)

	seq := make([]float64, s.fftSize)
	coeffs := make([]complex128, s.Bins())
	for f := 0; f < frames; f++ {
		start := f * s.hop
		for n := range seq {
			seq[n] = 0
			if n < s.winLength && start+n < len(signal) {
				seq[n] = signal[start+n] * s.window[n]
			}
		}

		coeffs = s.fft.Coefficients(coeffs, seq)
		row := make([]float64, len(coeffs))
		for k, c := range coeffs {
			row[k] = cmplx.Abs(c)
		}
		out[f] = row
	}
	return out
}
