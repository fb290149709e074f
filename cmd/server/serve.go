package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zmmoly/Rat50/internal/config"
	"github.com/Zmmoly/Rat50/internal/metrics"
	"github.com/Zmmoly/Rat50/internal/server"
	"github.com/Zmmoly/Rat50/internal/stream"
	"github.com/Zmmoly/Rat50/internal/telemetry"
	"github.com/Zmmoly/Rat50/internal/transcript"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition service",
	Long: `Run the recognition service with its HTTP control API.

The model is taken from --model, then model.path in the configuration, then
the last model loaded by a previous run when a transcript store is configured.
With --autostart the session starts recording as soon as the model is ready.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("model", "", "Model path or http(s) URL")
	serveCmd.Flags().Bool("autostart", false, "Start recording once the model is loaded")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("block_size", cfg.Audio.BlockSize),
		slog.Float64("window_duration", cfg.Windowing.WindowDuration),
		slog.Float64("overlap_ratio", cfg.Windowing.OverlapRatio),
		slog.String("capture_device", cfg.Capture.Device),
		slog.Float64("silence_threshold", cfg.Segmentation.SilenceThreshold),
		slog.Int("silence_reads", cfg.Segmentation.SilenceReads),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	session, err := stream.NewSession(sessionConfig(cfg), newLoader(cfg.Model, appMetrics), logger,
		stream.WithRecorder(appMetrics))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	factory, err := deviceFactory(cfg, logger, appMetrics, true)
	if err != nil {
		return err
	}

	sinks, err := openTranscriptSinks(ctx, cfg.Transcripts, logger, appMetrics)
	if err != nil {
		return err
	}
	defer sinks.Close()

	hub := server.NewEventHub(logger)
	dispatcher := stream.NewDispatcher(logger)
	dispatcher.Add("log", stream.LogSink(logger))
	dispatcher.Add("transcripts", sinks.sink)
	dispatcher.Add("websocket", hub)

	// Runs until Cleanup closes the event channel.
	var g errgroup.Group
	g.Go(func() error {
		return dispatcher.Run(context.Background(), session.Events())
	})

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.Dependencies{
			Config:  cfg,
			Session: session,
			Factory: factory,
			Hub:     hub,
			Metrics: appMetrics,
		}
		if sinks.store != nil {
			deps.Transcripts = sinks.store
		}
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, deps)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	modelPath, _ := cmd.Flags().GetString("model")
	if modelPath == "" {
		modelPath = cfg.Model.Path
	}
	if modelPath == "" && sinks.store != nil {
		if last, ok, err := sinks.store.LastModelPath(ctx); err != nil {
			logger.Warn("Failed to read last model path", slog.String("error", err.Error()))
		} else if ok {
			modelPath = last
			logger.Info("Using last loaded model", slog.String("path", last))
		}
	}

	if modelPath != "" {
		autostart, _ := cmd.Flags().GetBool("autostart")
		if err := session.LoadModel(ctx, modelPath); err != nil {
			logger.Error("Failed to load model", slog.String("error", err.Error()))
		} else if autostart {
			if err := session.Start(ctx, factory); err != nil {
				logger.Error("Failed to start recording", slog.String("error", err.Error()))
			}
		}
	} else {
		logger.Info("No model configured, waiting for POST /session/model")
	}

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := session.Cleanup(shutdownCtx); err != nil {
		logger.Error("Error cleaning up session", slog.String("error", err.Error()))
	}
	if err := g.Wait(); err != nil {
		logger.Error("Event dispatcher stopped with error", slog.String("error", err.Error()))
	}

	stats := session.GetStats()
	dstats := dispatcher.GetStats()
	var sinkFailures uint64
	for _, n := range dstats.Failures {
		sinkFailures += n
	}
	logger.Info("Final session statistics",
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frame_errors", stats.FrameErrors),
		slog.Uint64("utterances", stats.Utterances),
		slog.Uint64("dropped_events", stats.DroppedEvents),
		slog.Uint64("events_delivered", dstats.Delivered),
		slog.Uint64("sink_failures", sinkFailures),
	)

	logger.Info("Service stopped")
	return nil
}

// transcriptSinks owns the optional archive backends
type transcriptSinks struct {
	sink      *transcript.Sink
	store     *transcript.Store
	publisher *transcript.Publisher
	broker    *transcript.EmbeddedServer
}

func openTranscriptSinks(ctx context.Context, cfg config.TranscriptsConfig, logger *slog.Logger,
	m *metrics.Metrics) (*transcriptSinks, error) {
	s := &transcriptSinks{sink: &transcript.Sink{WAVDir: cfg.WAVDir, Logger: logger}}
	if m != nil {
		s.sink.Recorder = m
	}

	if cfg.StorePath != "" {
		store, err := transcript.Open(ctx, cfg.StorePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		s.store = store
		s.sink.Store = store
	}

	url := cfg.NATSURL
	if cfg.NATSEmbedded {
		broker, err := transcript.StartEmbedded(cfg.NATSHost, cfg.NATSPort, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		s.broker = broker
		if url == "" {
			url = broker.ClientURL()
		}
	}

	if url != "" {
		pub, err := transcript.Connect(ctx, url, cfg.NATSSubject, 0, logger)
		if err != nil {
			logger.Warn("NATS unavailable, transcripts will not be published",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
		} else {
			s.publisher = pub
			s.sink.Publisher = pub
		}
	}

	return s, nil
}

// Close releases the store and publisher
func (s *transcriptSinks) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	s.broker.Shutdown()
}
