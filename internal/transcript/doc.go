// Package transcript archives completed utterances. Transcripts are stored
// in SQLite together with a small settings table, optionally published to a
// NATS subject as JSON, and their audio written to WAV files. An embedded
// NATS server can be started for single-host deployments.
package transcript
