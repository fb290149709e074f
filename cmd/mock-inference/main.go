// Command mock-inference serves a deterministic stand-in acoustic model over
// the remote inference protocol, for exercising the service without a real
// model.
//
//	GET  /info   model signature
//	POST /infer  raw audio in, one class per step out
//
// A step is loud when its RMS exceeds the threshold; loud steps map to a
// class chosen from their level, quiet steps to blank.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type tensorInfo struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	Type  string  `json:"type"`
}

type infoResponse struct {
	Name    string       `json:"name"`
	Inputs  []tensorInfo `json:"inputs"`
	Outputs []tensorInfo `json:"outputs"`
}

type tensor struct {
	Shape []int64   `json:"shape"`
	Type  string    `json:"type"`
	Data  []float64 `json:"data"`
}

// mockModel produces one output step per stepSize input samples
type mockModel struct {
	samples   int
	stepSize  int
	classes   int
	threshold float64
	logits    bool
	apiKey    string
	delay     time.Duration
	logger    *slog.Logger
}

func (m *mockModel) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", m.authorized(m.handleInfo))
	mux.HandleFunc("/infer", m.authorized(m.handleInfer))
	return mux
}

func (m *mockModel) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+m.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (m *mockModel) steps() int {
	return (m.samples + m.stepSize - 1) / m.stepSize
}

func (m *mockModel) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := tensorInfo{Name: "classes", Shape: []int64{int64(m.steps())}, Type: "int64"}
	if m.logits {
		out = tensorInfo{Name: "logits", Shape: []int64{1, int64(m.steps()), int64(m.classes + 1)}, Type: "float32"}
	}

	writeJSON(w, infoResponse{
		Name:    "mock-ctc",
		Inputs:  []tensorInfo{{Name: "audio", Shape: []int64{1, int64(m.samples)}, Type: "float32"}},
		Outputs: []tensorInfo{out},
	})
}

func (m *mockModel) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in tensor
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid tensor", http.StatusBadRequest)
		return
	}
	if in.Type != "float32" || len(in.Data) != m.samples {
		http.Error(w, fmt.Sprintf("expected %d float32 samples, got %d %s", m.samples, len(in.Data), in.Type),
			http.StatusBadRequest)
		return
	}

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	classes := m.classify(in.Data)
	m.logger.Debug("Inference request",
		slog.Int("samples", len(in.Data)),
		slog.Any("classes", classes),
	)

	if !m.logits {
		out := tensor{Shape: []int64{int64(len(classes))}, Type: "int64"}
		for _, c := range classes {
			out.Data = append(out.Data, float64(c))
		}
		writeJSON(w, out)
		return
	}

	// Logits put blank last; index k scores vocabulary entry k.
	width := m.classes + 1
	out := tensor{Shape: []int64{1, int64(len(classes)), int64(width)}, Type: "float32"}
	out.Data = make([]float64, len(classes)*width)
	for t, c := range classes {
		best := m.classes
		if c > 0 {
			best = c - 1
		}
		out.Data[t*width+best] = 1
	}
	writeJSON(w, out)
}

// classify returns one class per step: 0 for quiet, 1..classes for loud
func (m *mockModel) classify(samples []float64) []int {
	out := make([]int, 0, m.steps())
	for start := 0; start < len(samples); start += m.stepSize {
		end := min(start+m.stepSize, len(samples))
		var sum float64
		for _, s := range samples[start:end] {
			sum += s * s
		}
		rms := math.Sqrt(sum / float64(end-start))
		if rms <= m.threshold {
			out = append(out, 0)
			continue
		}
		level := int(rms * float64(m.classes) * 4)
		out = append(out, 1+level%m.classes)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func main() {
	var (
		addr     string
		verbose  bool
		mock     = &mockModel{}
		rootCmd  *cobra.Command
		logLevel = slog.LevelInfo
	)

	rootCmd = &cobra.Command{
		Use:          "mock-inference",
		Short:        "Serve a deterministic mock acoustic model over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mock.samples < 1 || mock.stepSize < 1 || mock.classes < 1 {
				return fmt.Errorf("samples, step and classes must be positive")
			}
			if verbose {
				logLevel = slog.LevelDebug
			}
			mock.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

			base := "http://" + addr
			if strings.HasPrefix(addr, ":") {
				base = "http://localhost" + addr
			}
			mock.logger.Info("Mock inference server starting",
				slog.String("address", addr),
				slog.Int("samples", mock.samples),
				slog.Int("steps", mock.steps()),
				slog.Bool("logits", mock.logits),
			)
			mock.logger.Info("Set model.path to " + base)

			return http.ListenAndServe(addr, mock.routes())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&addr, "addr", ":9000", "Listen address")
	flags.IntVar(&mock.samples, "samples", 16000, "Input samples per request")
	flags.IntVar(&mock.stepSize, "step", 1600, "Input samples per output step")
	flags.IntVar(&mock.classes, "classes", 28, "Vocabulary size")
	flags.Float64Var(&mock.threshold, "threshold", 0.02, "RMS above which a step is loud")
	flags.BoolVar(&mock.logits, "logits", false, "Emit [1, T, classes+1] logits instead of indices")
	flags.StringVar(&mock.apiKey, "api-key", "", "Require this bearer token")
	flags.DurationVar(&mock.delay, "delay", 0, "Simulated processing time per request")
	flags.BoolVar(&verbose, "verbose", false, "Log every request")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
