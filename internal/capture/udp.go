package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/protocol"
)

// PacketRecorder receives per-datagram accounting from the UDP device
type PacketRecorder interface {
	RecordPacket(packetType string)
	RecordPacketError(reason string)
}

// UDPConfig configures the network microphone listener
type UDPConfig struct {
	BindAddress string
	Port        int // 0 picks a free port
	BufferSize  int
	ReadTimeout time.Duration
	MaxGap      int
}

// UDPDevice receives TLV audio packets from one network microphone. The
// first stream to send a start or audio packet owns the device; packets
// from other streams are dropped until the owner stops.
type UDPDevice struct {
	config   UDPConfig
	logger   *slog.Logger
	recorder PacketRecorder

	conn   *net.UDPConn
	jitter *audio.JitterBuffer
	notify chan struct{}
	wg     sync.WaitGroup

	sampleRate int

	mu       sync.Mutex
	streamID uint32
	locked   bool
	deviceID string
	stopped  bool
	closed   bool

	packetsReceived uint64
	parseErrors     uint64
	foreignPackets  uint64
}

// UDPStats represents UDP device statistics
type UDPStats struct {
	StreamID        uint32            `json:"stream_id"`
	DeviceID        string            `json:"device_id"`
	PacketsReceived uint64            `json:"packets_received"`
	ParseErrors     uint64            `json:"parse_errors"`
	ForeignPackets  uint64            `json:"foreign_packets"`
	Stopped         bool              `json:"stopped"`
	Jitter          audio.JitterStats `json:"jitter"`
}

// NewUDPDevice creates a UDP device. recorder may be nil.
func NewUDPDevice(cfg UDPConfig, logger *slog.Logger, recorder PacketRecorder) *UDPDevice {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 65536
	}
	return &UDPDevice{
		config:   cfg,
		logger:   logger,
		recorder: recorder,
		jitter:   audio.NewJitterBuffer(cfg.MaxGap),
		notify:   make(chan struct{}, 1),
	}
}

// Open binds the listener and starts receiving
func (d *UDPDevice) Open(ctx context.Context, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	d.sampleRate = f.SampleRate

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", d.config.BindAddress, d.config.Port))
	if err != nil {
		return fmt.Errorf("%w: failed to resolve UDP address: %w", ErrDeviceInit, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: failed to listen on UDP: %w", ErrDeviceInit, err)
	}
	d.conn = conn

	if err := conn.SetReadBuffer(d.config.BufferSize); err != nil {
		d.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", d.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("UDP capture listening",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("max_gap", d.config.MaxGap),
	)

	d.wg.Add(1)
	go d.receiveLoop()
	return nil
}

// LocalAddr returns the bound address, or nil before Open
func (d *UDPDevice) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

func (d *UDPDevice) receiveLoop() {
	defer d.wg.Done()

	buffer := make([]byte, protocol.MaxPacketSize)
	for {
		n, remote, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}
		d.handlePacket(buffer[:n], remote)
	}
}

func (d *UDPDevice) handlePacket(data []byte, remote *net.UDPAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.packetsReceived++

	packet, err := protocol.ParsePacket(data)
	if err != nil {
		d.parseErrors++
		d.recordError("parse")
		d.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", remote.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	h := packet.Header
	if d.stopped {
		d.recordError("after_stop")
		return
	}
	if !d.locked && h.PacketType != protocol.PacketTypeStop {
		d.locked = true
		d.streamID = h.StreamID
		d.logger.Info("Network microphone stream accepted",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.String("remote_addr", remote.String()),
		)
	}
	if !d.locked || h.StreamID != d.streamID {
		d.foreignPackets++
		d.recordError("foreign_stream")
		return
	}

	switch h.PacketType {
	case protocol.PacketTypeStart:
		d.record("start")
		d.deviceID = packet.Start.GetDeviceID()
		if int(packet.Start.SampleRate) != d.sampleRate {
			d.logger.Warn("Network microphone sample rate mismatch",
				slog.String("device_id", d.deviceID),
				slog.Int("announced", int(packet.Start.SampleRate)),
				slog.Int("expected", d.sampleRate),
			)
		}
	case protocol.PacketTypeAudio:
		d.record("audio")
		if err := d.jitter.Add(packet.Audio.Sequence, packet.Audio.AudioData); err != nil {
			d.recordError("late")
			d.logger.Debug("Dropped audio packet",
				slog.Uint64("sequence", uint64(packet.Audio.Sequence)),
				slog.String("error", err.Error()),
			)
		}
	case protocol.PacketTypeStop:
		d.record("stop")
		d.jitter.FlushPending()
		d.stopped = true
		d.logger.Info("Network microphone stream stopped",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.Uint64("last_sequence", uint64(packet.Stop.LastSequence)),
		)
	}

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *UDPDevice) record(kind string) {
	if d.recorder != nil {
		d.recorder.RecordPacket(kind)
	}
}

func (d *UDPDevice) recordError(reason string) {
	if d.recorder != nil {
		d.recorder.RecordPacketError(reason)
	}
}

// Read returns ordered samples, (0, nil) after a quiet poll interval, or
// io.EOF once the stream has stopped and drained
func (d *UDPDevice) Read(dst []int16) (int, error) {
	deadline := time.NewTimer(d.config.ReadTimeout)
	defer deadline.Stop()

	for {
		if n := d.jitter.Read(dst); n > 0 {
			return n, nil
		}

		d.mu.Lock()
		stopped, closed := d.stopped, d.closed
		d.mu.Unlock()
		if closed {
			return 0, io.ErrClosedPipe
		}
		if stopped {
			return 0, io.EOF
		}

		select {
		case <-d.notify:
		case <-deadline.C:
			return 0, nil
		}
	}
}

// Close stops the listener
func (d *UDPDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	d.wg.Wait()
	return err
}

// GetStats returns current device statistics
func (d *UDPDevice) GetStats() UDPStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return UDPStats{
		StreamID:        d.streamID,
		DeviceID:        d.deviceID,
		PacketsReceived: d.packetsReceived,
		ParseErrors:     d.parseErrors,
		ForeignPackets:  d.foreignPackets,
		Stopped:         d.stopped,
		Jitter:          d.jitter.GetStats(),
	}
}
