// Package vad segments a capture stream into utterances using an RMS
// volume threshold over consecutive device reads.
package vad
