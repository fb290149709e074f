// Package protocol implements the TLV datagram format used by network
// microphones: a start packet announcing the stream, sequenced 16-bit PCM
// audio packets and a stop packet.
package protocol
