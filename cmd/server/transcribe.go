package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zmmoly/Rat50/internal/stream"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a 16 kHz mono WAV file",
	Long: `Run the recognition pipeline over a WAV file and print the final text of
every utterance. Silence boundaries from the segmentation settings split the
file into utterances.

Examples:
  server transcribe --model models/asr.onnx speech.wav
  server transcribe --model http://localhost:9000/asr --json speech.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().String("model", "", "Model path or http(s) URL (defaults to model.path)")
	transcribeCmd.Flags().Bool("json", false, "Print every event as a JSON line")
	transcribeCmd.Flags().Bool("partials", false, "Print partial results as they are decoded")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Capture.Device = "wav"
	cfg.Capture.WAVPath = args[0]
	cfg.Logging.Output = "stderr"

	modelPath, _ := cmd.Flags().GetString("model")
	if modelPath == "" {
		modelPath = cfg.Model.Path
	}
	if modelPath == "" {
		return errors.New("no model given: use --model or set model.path")
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	partials, _ := cmd.Flags().GetBool("partials")

	logger := initLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := stream.NewSession(sessionConfig(cfg), newLoader(cfg.Model, nil), logger)
	if err != nil {
		return err
	}
	factory, err := deviceFactory(cfg, logger, nil, false)
	if err != nil {
		return err
	}

	sinks, err := openTranscriptSinks(ctx, cfg.Transcripts, logger, nil)
	if err != nil {
		return err
	}
	defer sinks.Close()

	var failure error
	dispatcher := stream.NewDispatcher(logger)
	dispatcher.Add("transcripts", sinks.sink)
	dispatcher.Add("print", printSink(cmd.OutOrStdout(), asJSON, partials, &failure))

	var g errgroup.Group
	g.Go(func() error {
		return dispatcher.Run(context.Background(), session.Events())
	})

	runErr := func() error {
		if err := session.LoadModel(ctx, modelPath); err != nil {
			return err
		}
		if err := session.Start(ctx, factory); err != nil {
			return err
		}
		if err := session.Wait(ctx); err != nil {
			return session.Stop(context.Background())
		}
		return nil
	}()

	cleanupErr := session.Cleanup(context.Background())
	g.Wait()
	return errors.Join(runErr, failure, cleanupErr)
}

// printSink writes final text, optionally partials, or every event as JSON.
// A device read error ends the run with that error.
func printSink(w io.Writer, asJSON, partials bool, failure *error) stream.Sink {
	enc := json.NewEncoder(w)
	return stream.SinkFunc(func(_ context.Context, e stream.Event) error {
		if e.Type == stream.EventError && e.ErrorKind == stream.ErrorDeviceRead {
			*failure = fmt.Errorf("%s: %s", e.ErrorKind, e.Message)
		}
		if asJSON {
			if e.Type == stream.EventVolume {
				return nil
			}
			return enc.Encode(e)
		}
		if e.Type != stream.EventText {
			return nil
		}
		switch {
		case e.IsFinal && e.Text != "":
			_, err := fmt.Fprintln(w, e.Text)
			return err
		case !e.IsFinal && partials:
			_, err := fmt.Fprintf(w, "... %s\n", e.Text)
			return err
		}
		return nil
	})
}
