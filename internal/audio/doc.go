// Package audio handles PCM sample buffering and format conversion.
// It cuts the captured stream into fixed-length analysis frames, measures block
// volume, and reads and writes mono 16-bit WAV files.
package audio
