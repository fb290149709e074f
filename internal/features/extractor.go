package features

import (
	"errors"
	"fmt"
	"math"
)

// ErrFrameTooShort is returned when a frame holds fewer samples than one FFT.
var ErrFrameTooShort = errors.New("frame shorter than fft size")

const dbEpsilon = 1e-10

// Params controls spectral feature extraction.
type Params struct {
	SampleRate int
	FFTSize    int
	HopLength  int
	WinLength  int
	// NumMels selects a mel projection; 0 keeps the raw FFTSize/2+1 bins.
	NumMels int
	// DBFloor is the decibel range mapped onto [0, 1]; usually 80.
	DBFloor float64
	// Clamp limits normalized values to [0, 1].
	Clamp   bool
	ZeroMax ZeroMaxPolicy
}

// DefaultParams returns the 16 kHz, 512-point, 128-hop, 400-window setup.
func DefaultParams() Params {
	return Params{
		SampleRate: 16000,
		FFTSize:    512,
		HopLength:  128,
		WinLength:  400,
		DBFloor:    80,
	}
}

// Spectrogram is a row-major [Frames][Bins] matrix of normalized values.
type Spectrogram struct {
	Frames int
	Bins   int
	Data   []float32
}

// Shape returns the model input shape [1, Frames, Bins].
func (s *Spectrogram) Shape() []int64 {
	return []int64{1, int64(s.Frames), int64(s.Bins)}
}

// At returns the value at time step t and bin f.
func (s *Spectrogram) At(t, f int) float32 {
	return s.Data[t*s.Bins+f]
}

// Extractor turns PCM frames into normalized spectrograms.
type Extractor struct {
	params Params
	stft   *STFT
	mel    [][]float64
}

// NewExtractor validates params and precomputes the window and filterbank.
func NewExtractor(p Params) (*Extractor, error) {
	if p.FFTSize < 2 {
		return nil, fmt.Errorf("fft size must be at least 2, got %d", p.FFTSize)
	}
	if p.HopLength <= 0 {
		return nil, fmt.Errorf("hop length must be positive, got %d", p.HopLength)
	}
	if p.WinLength <= 0 || p.WinLength > p.FFTSize {
		return nil, fmt.Errorf("window length must be in [1, %d], got %d", p.FFTSize, p.WinLength)
	}
	if p.DBFloor <= 0 {
		return nil, fmt.Errorf("db floor must be positive, got %f", p.DBFloor)
	}
	if p.NumMels < 0 {
		return nil, fmt.Errorf("mel band count cannot be negative, got %d", p.NumMels)
	}

	e := &Extractor{
		params: p,
		stft:   NewSTFT(p.FFTSize, p.HopLength, p.WinLength),
	}
	if p.NumMels > 0 && p.NumMels != e.stft.Bins() {
		if p.SampleRate <= 0 {
			return nil, fmt.Errorf("sample rate must be positive for mel features, got %d", p.SampleRate)
		}
		e.mel = MelFilterBank(p.NumMels, p.FFTSize, p.SampleRate, 0, float64(p.SampleRate)/2)
	}
	return e, nil
}

// Params returns the extractor configuration.
func (e *Extractor) Params() Params {
	return e.params
}

// Bins returns the feature width of every output row.
func (e *Extractor) Bins() int {
	if e.mel != nil {
		return len(e.mel)
	}
	return e.stft.Bins()
}

// FrameCount returns the time steps produced for n input samples.
func (e *Extractor) FrameCount(n int) int {
	return FrameCount(n, e.params.FFTSize, e.params.HopLength)
}

// Extract runs amplitude normalization, STFT, optional mel projection,
// dB conversion and fixed-range normalization over one frame.
func (e *Extractor) Extract(frame []int16) (*Spectrogram, error) {
	if len(frame) < e.params.FFTSize {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrFrameTooShort, len(frame), e.params.FFTSize)
	}

	signal := NormalizeAmplitude(frame, e.params.ZeroMax)
	spectra := e.stft.Magnitudes(signal)
	if e.mel != nil {
		spectra = applyFilterBank(spectra, e.mel)
	}

	AmplitudeToDB(spectra)

	out := &Spectrogram{
		Frames: len(spectra),
		Bins:   e.Bins(),
		Data:   make([]float32, 0, len(spectra)*e.Bins()),
	}
	for _, row := range spectra {
		for _, db := range row {
			out.Data = append(out.Data, float32(NormalizeDB(db, e.params.DBFloor, e.params.Clamp)))
		}
	}
	return out, nil
}

// AmplitudeToDB converts magnitudes in place to decibels relative to the
// global maximum: 20*log10((m+eps)/(ref+eps)).
func AmplitudeToDB(spectra [][]float64) {
	ref := 0.0
	for _, row := range spectra {
		for _, m := range row {
			if m > ref {
				ref = m
			}
		}
	}
	for _, row := range spectra {
		for i, m := range row {
			row[i] = 20 * math.Log10((m+dbEpsilon)/(ref+dbEpsilon))
		}
	}
}

// NormalizeDB maps db onto (db+floor)/floor, optionally clamped to [0, 1].
func NormalizeDB(db, floor float64, clamp bool) float64 {
	v := (db + floor) / floor
	if clamp {
		v = math.Min(math.Max(v, 0), 1)
	}
	return v
}
