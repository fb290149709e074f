package protocol

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid start header",
			data: []byte{
				0x01,       // PacketType: Start
				0x00, 0x30, // PacketLen: 48 (8 + 40)
				0x00, 0x00, 0x30, 0x39, // StreamID: 12345
				0x01, // Version
			},
			expected: &Header{PacketType: PacketTypeStart, PacketLen: 48, StreamID: 12345, Version: Version},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // StreamID: 305419896
				0x01,
			},
			expected: &Header{PacketType: PacketTypeAudio, PacketLen: 256, StreamID: 305419896, Version: Version},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	start := EncodeStart(7, "kitchen-mic", 16000, 1701234567)
	p, err := ParsePacket(start)
	if err != nil {
		t.Fatalf("Failed to parse start packet: %v", err)
	}
	if p.Start == nil || p.Start.GetDeviceID() != "kitchen-mic" || p.Start.SampleRate != 16000 {
		t.Errorf("Unexpected start payload %+v", p.Start)
	}
	if p.Start.Timestamp != 1701234567 || p.Header.StreamID != 7 {
		t.Errorf("Unexpected start packet %+v", p.Header)
	}

	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	audio, err := EncodeAudio(7, 42, pcm)
	if err != nil {
		t.Fatalf("Failed to encode audio: %v", err)
	}
	p, err = ParsePacket(audio)
	if err != nil {
		t.Fatalf("Failed to parse audio packet: %v", err)
	}
	if p.Audio == nil || p.Audio.Sequence != 42 || string(p.Audio.AudioData) != string(pcm) {
		t.Errorf("Unexpected audio payload %v", p.Audio)
	}

	// The parsed payload must not alias the datagram buffer
	audio[HeaderSize+AudioPayloadHeaderSize] = 0x55
	if p.Audio.AudioData[0] != 0x01 {
		t.Error("Expected audio data to be copied")
	}

	p, err = ParsePacket(EncodeStop(7, 99))
	if err != nil {
		t.Fatalf("Failed to parse stop packet: %v", err)
	}
	if p.Stop == nil || p.Stop.LastSequence != 99 {
		t.Errorf("Unexpected stop payload %+v", p.Stop)
	}
}

func TestEncodeStartTruncatesDeviceID(t *testing.T) {
	long := strings.Repeat("x", 64)
	p, err := ParsePacket(EncodeStart(1, long, 16000, 0))
	if err != nil {
		t.Fatalf("Failed to parse start packet: %v", err)
	}
	if got := p.Start.GetDeviceID(); len(got) != DeviceIDSize-1 {
		t.Errorf("Expected device id of %d bytes, got %d", DeviceIDSize-1, len(got))
	}
}

func TestEncodeAudioTooLarge(t *testing.T) {
	if _, err := EncodeAudio(1, 1, make([]byte, MaxPacketSize)); err == nil {
		t.Error("Expected error for oversized audio packet")
	}
}

func TestParsePacketErrors(t *testing.T) {
	valid, _ := EncodeAudio(1, 1, []byte{0, 0})

	badVersion := append([]byte(nil), valid...)
	badVersion[7] = 0x09

	badType := append([]byte(nil), valid...)
	badType[0] = 0x07

	lengthMismatch := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(lengthMismatch[1:3], 100)

	oddPCM, _ := EncodeAudio(1, 1, []byte{0, 0, 0})

	shortStart := EncodeStart(1, "mic", 16000, 0)[:HeaderSize+10]
	binary.BigEndian.PutUint16(shortStart[1:3], uint16(len(shortStart)))

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{"bad version", badVersion, "unsupported version"},
		{"bad type", badType, "invalid packet type"},
		{"length mismatch", lengthMismatch, "length mismatch"},
		{"odd pcm", oddPCM, "odd length"},
		{"short start", shortStart, "payload size mismatch"},
		{"truncated", valid[:5], "header too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestHeaderString(t *testing.T) {
	h := &Header{PacketType: PacketTypeStop, PacketLen: 12, StreamID: 3, Version: Version}
	if got := h.String(); !strings.Contains(got, "Stop") {
		t.Errorf("Expected Stop in %s", got)
	}
	h.PacketType = 0x09
	if got := h.String(); !strings.Contains(got, "Unknown(0x09)") {
		t.Errorf("Expected unknown type in %s", got)
	}
}
