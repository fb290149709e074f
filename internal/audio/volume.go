package audio

import "math"

// MaxAmplitude is the largest positive 16-bit PCM sample value
const MaxAmplitude = 32767.0

// Volume returns the RMS level of samples scaled so a full-scale square wave
// reads 1.0. Empty input reads 0.
func Volume(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / MaxAmplitude
}

// BytesToSamples converts little-endian PCM-16 bytes to samples
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM-16 bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return data
}
