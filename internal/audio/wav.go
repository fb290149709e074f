package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVInfo describes a PCM WAV file
type WAVInfo struct {
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
}

// WriteWAV writes mono PCM-16 samples to path, creating parent directories
func WriteWAV(path string, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create wav dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVReader streams PCM-16 samples out of a mono WAV file
type WAVReader struct {
	file *os.File
	dec  *wav.Decoder
	buf  *goaudio.IntBuffer
	info WAVInfo
}

// OpenWAV opens path and validates it is 16-bit mono PCM
func OpenWAV(path string) (*WAVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	if dec.WavAudioFormat != 1 {
		file.Close()
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", dec.WavAudioFormat)
	}
	if dec.BitDepth != 16 {
		file.Close()
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", dec.BitDepth)
	}
	if dec.NumChans != 1 {
		file.Close()
		return nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", dec.NumChans)
	}

	duration, err := dec.Duration()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read wav duration: %w", err)
	}

	// Duration seeks around the file; rewind before streaming PCM.
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewind wav file: %w", err)
	}
	dec = wav.NewDecoder(file)
	dec.ReadInfo()

	return &WAVReader{
		file: file,
		dec:  dec,
		info: WAVInfo{
			SampleRate:    int(dec.SampleRate),
			Channels:      int(dec.NumChans),
			BitsPerSample: int(dec.BitDepth),
			Duration:      duration,
		},
	}, nil
}

// Info returns the header information
func (r *WAVReader) Info() WAVInfo {
	return r.info
}

// Read fills dst with the next samples; io.EOF marks the end of the data chunk
func (r *WAVReader) Read(dst []int16) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if r.buf == nil || len(r.buf.Data) != len(dst) {
		r.buf = &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.info.SampleRate},
			Data:           make([]int, len(dst)),
			SourceBitDepth: 16,
		}
	}

	n, err := r.dec.PCMBuffer(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read wav samples: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(r.buf.Data[i])
	}
	return n, nil
}

// Close releases the underlying file
func (r *WAVReader) Close() error {
	return r.file.Close()
}

// ReadWAV loads every sample of a mono PCM-16 WAV file
func ReadWAV(path string) ([]int16, int, error) {
	r, err := OpenWAV(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var samples []int16
	block := make([]int16, 4096)
	for {
		n, err := r.Read(block)
		samples = append(samples, block[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}
	return samples, r.info.SampleRate, nil
}
