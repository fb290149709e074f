// Package ctc turns per-timestep model output into text.
// It loads the symbol vocabulary and applies greedy CTC decoding: blanks are
// dropped and consecutive repeats collapse to a single symbol.
package ctc
