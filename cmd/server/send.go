package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/protocol"
)

var sendCmd = &cobra.Command{
	Use:   "send <file.wav>",
	Short: "Stream a WAV file to a UDP capture listener",
	Long: `Act as a network microphone: send a start packet, the file's samples as
sequenced audio packets and a stop packet to a service running with
capture.device set to udp.

Examples:
  server send --addr 127.0.0.1:4444 speech.wav
  server send --addr 10.0.0.5:4444 --packet-ms 20 --realtime=false speech.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("addr", "127.0.0.1:4444", "Listener address")
	sendCmd.Flags().Uint32("stream-id", 1, "Stream identifier")
	sendCmd.Flags().String("device-id", "cli", "Device identifier in the start packet")
	sendCmd.Flags().Int("packet-ms", 20, "Audio per packet in milliseconds")
	sendCmd.Flags().Bool("realtime", true, "Pace packets at the audio rate")
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	streamID, _ := cmd.Flags().GetUint32("stream-id")
	deviceID, _ := cmd.Flags().GetString("device-id")
	packetMs, _ := cmd.Flags().GetInt("packet-ms")
	realtime, _ := cmd.Flags().GetBool("realtime")
	if packetMs < 1 {
		return fmt.Errorf("packet-ms must be positive, got %d", packetMs)
	}

	samples, rate, err := audio.ReadWAV(args[0])
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(protocol.EncodeStart(streamID, deviceID, uint32(rate), uint32(time.Now().Unix()))); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	perPacket := rate * packetMs / 1000
	interval := time.Duration(packetMs) * time.Millisecond
	next := time.Now()

	var seq uint32
	for off := 0; off < len(samples); off += perPacket {
		end := min(off+perPacket, len(samples))
		packet, err := protocol.EncodeAudio(streamID, seq, audio.SamplesToBytes(samples[off:end]))
		if err != nil {
			return err
		}
		if _, err := conn.Write(packet); err != nil {
			return fmt.Errorf("send audio %d: %w", seq, err)
		}
		seq++

		if realtime {
			next = next.Add(interval)
			time.Sleep(time.Until(next))
		}
	}

	last := uint32(0)
	if seq > 0 {
		last = seq - 1
	}
	if _, err := conn.Write(protocol.EncodeStop(streamID, last)); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets (%.2fs of audio) to %s\n",
		seq, float64(len(samples))/float64(rate), addr)
	return nil
}
