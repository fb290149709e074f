package main

import (
	"fmt"
	"log/slog"

	"github.com/Zmmoly/Rat50/internal/capture"
	"github.com/Zmmoly/Rat50/internal/capture/portaudio"
	"github.com/Zmmoly/Rat50/internal/config"
	"github.com/Zmmoly/Rat50/internal/features"
	"github.com/Zmmoly/Rat50/internal/metrics"
	"github.com/Zmmoly/Rat50/internal/model"
	"github.com/Zmmoly/Rat50/internal/model/onnxrt"
	"github.com/Zmmoly/Rat50/internal/model/remote"
	"github.com/Zmmoly/Rat50/internal/stream"
)

// sessionConfig maps the file configuration onto session settings
func sessionConfig(cfg *config.Config) stream.Config {
	rate := cfg.Audio.SampleRate
	return stream.Config{
		Format: capture.Format{
			SampleRate: rate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
		BlockSize:  cfg.Audio.BlockSize,
		WindowSize: cfg.Windowing.WindowSamples(rate),
		HopSize:    cfg.Windowing.HopSamples(rate),
		MinFlush:   cfg.Windowing.MinFlushSamples(rate),
		Features: features.Params{
			SampleRate: rate,
			FFTSize:    cfg.Features.FFTSize,
			HopLength:  cfg.Features.HopLength,
			WinLength:  cfg.Features.WinLength,
			NumMels:    cfg.Features.NumMels,
			DBFloor:    cfg.Features.DBFloor,
			Clamp:      cfg.Features.Clamp,
			ZeroMax:    features.ParseZeroMaxPolicy(cfg.Features.ZeroMaxPolicy),
		},
		Overrides:        modelOverrides(cfg.Model),
		VocabularyPath:   cfg.Model.VocabularyPath,
		SilenceThreshold: cfg.Segmentation.SilenceThreshold,
		SilenceReads:     cfg.Segmentation.SilenceReads,
		ResetBuffer:      cfg.Segmentation.ResetBuffer,
		MaxUtterance:     cfg.Segmentation.GetMaxUtteranceDuration(),
	}
}

func modelOverrides(m config.ModelConfig) model.Overrides {
	return model.Overrides{
		InputKind:       m.InputKind,
		OutputKind:      m.OutputKind,
		BlankPosition:   m.BlankPosition,
		IndexOffset:     m.IndexOffset,
		RequiredSamples: m.RequiredSamples,
	}
}

// newLoader registers the ONNX backend for .onnx files and the remote
// backend for http(s) URLs
func newLoader(cfg config.ModelConfig, m *metrics.Metrics) *model.Loader {
	loader := model.NewLoader()
	loader.RegisterExtension(".onnx", onnxrt.Opener(cfg.RuntimeLibrary))

	remoteCfg := remote.Config{
		APIKey:        cfg.Remote.APIKey,
		Timeout:       cfg.Remote.GetTimeoutDuration(),
		MaxRetries:    cfg.Remote.MaxRetries,
		MaxConcurrent: cfg.Remote.MaxConcurrent,
	}
	if m != nil {
		remoteCfg.Recorder = m
	}
	opener := remote.Opener(remoteCfg)
	loader.RegisterScheme("http", opener)
	loader.RegisterScheme("https", opener)
	return loader
}

// deviceFactory builds the capture device selected in the configuration.
// Real-time pacing applies to WAV playback only.
func deviceFactory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, realtime bool) (capture.Factory, error) {
	switch cfg.Capture.Device {
	case "portaudio":
		return portaudio.Factory(cfg.Audio.BlockSize, logger), nil
	case "wav":
		path := cfg.Capture.WAVPath
		return func() (capture.Device, error) {
			return capture.NewWAVDevice(path, realtime), nil
		}, nil
	case "udp":
		udpCfg := capture.UDPConfig{
			BindAddress: cfg.Capture.UDP.BindAddress,
			Port:        cfg.Capture.UDP.Port,
			BufferSize:  cfg.Capture.UDP.BufferSize,
			ReadTimeout: cfg.Capture.UDP.GetReadTimeoutDuration(),
			MaxGap:      cfg.Capture.UDP.MaxGap,
		}
		var recorder capture.PacketRecorder
		if m != nil {
			recorder = m
		}
		return func() (capture.Device, error) {
			return capture.NewUDPDevice(udpCfg, logger, recorder), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown capture device %q", config.ErrConfiguration, cfg.Capture.Device)
	}
}
