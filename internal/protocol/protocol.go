package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeAudio = 0x02
	PacketTypeStop  = 0x03

	// Version carried in every header
	Version = 0x01

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 40 // 32 + 4 + 4 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	StopPayloadSize        = 4  // Final sequence number (4 bytes)

	DeviceIDSize = 32

	// MaxPacketSize bounds one UDP datagram
	MaxPacketSize = 65507
)

// Header represents the 8-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Version:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32
	Version    uint8
}

// StartPayload announces a stream
// Layout: [DeviceID:32][SampleRate:4][Timestamp:4]
type StartPayload struct {
	DeviceID   [DeviceIDSize]byte // Null-terminated string
	SampleRate uint32
	Timestamp  uint32 // Unix seconds
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM:N], PCM is 16-bit little-endian mono
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// StopPayload ends a stream
// Layout: [LastSequence:4]
type StopPayload struct {
	LastSequence uint32
}

// Packet represents a fully parsed TLV packet
type Packet struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
	Stop   *StopPayload  // Only set for stop packets
}

// ParseHeader parses the 8-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Version:    data[7],
	}, nil
}

// ParseStartPayload parses the 40-byte start payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{}
	copy(payload.DeviceID[:], data[:DeviceIDSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[DeviceIDSize : DeviceIDSize+4])
	payload.Timestamp = binary.BigEndian.Uint32(data[DeviceIDSize+4 : DeviceIDSize+8])
	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + PCM)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}
	if pcm := data[AudioPayloadHeaderSize:]; len(pcm) > 0 {
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("audio data has odd length %d", len(pcm))
		}
		payload.AudioData = make([]byte, len(pcm))
		copy(payload.AudioData, pcm)
	}
	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		start, err := ParseStartPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = start
	case PacketTypeAudio:
		audio, err := ParseAudioPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = audio
	case PacketTypeStop:
		packet.Stop = &StopPayload{LastSequence: binary.BigEndian.Uint32(payload)}
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported version: 0x%02x", header.Version)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeStop:
		if payloadSize != StopPayloadSize {
			return fmt.Errorf("stop packet payload size mismatch: expected %d, got %d",
				StopPayloadSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeStop
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// GetDeviceID extracts the device ID as a string
func (s *StartPayload) GetDeviceID() string {
	return ExtractString(s.DeviceID[:])
}

func putHeader(buf []byte, ptype uint8, streamID uint32) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = Version
}

// EncodeStart builds a start packet. deviceID is truncated to 31 bytes.
func EncodeStart(streamID uint32, deviceID string, sampleRate, timestamp uint32) []byte {
	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, streamID)
	payload := buf[HeaderSize:]
	copy(payload[:DeviceIDSize-1], deviceID)
	binary.BigEndian.PutUint32(payload[DeviceIDSize:], sampleRate)
	binary.BigEndian.PutUint32(payload[DeviceIDSize+4:], timestamp)
	return buf
}

// EncodeAudio builds an audio packet
func EncodeAudio(streamID, sequence uint32, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet of %d bytes exceeds %d", size, MaxPacketSize)
	}
	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

// EncodeStop builds a stop packet
func EncodeStop(streamID, lastSequence uint32) []byte {
	buf := make([]byte, HeaderSize+StopPayloadSize)
	putHeader(buf, PacketTypeStop, streamID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], lastSequence)
	return buf
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeStop:
		packetType = "Stop"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Version:%d}",
		packetType, h.PacketLen, h.StreamID, h.Version)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
