package ctc

import (
	"math"
	"testing"

	"github.com/Zmmoly/Rat50/internal/model"
)

func mustVocab(t *testing.T, symbols ...string) *Vocabulary {
	t.Helper()
	v, err := NewVocabulary(symbols)
	if err != nil {
		t.Fatalf("Failed to create vocabulary: %v", err)
	}
	return v
}

// oneHot builds a logits matrix whose arg-max per step is classes[t]
func oneHot(classes []int, width int) [][]float32 {
	logits := make([][]float32, len(classes))
	for t, c := range classes {
		row := make([]float32, width)
		for i := range row {
			row[i] = -5
		}
		row[c] = 3
		logits[t] = row
	}
	return logits
}

func TestDecodeIndices(t *testing.T) {
	xy := mustVocab(t, "x", "y")

	tests := []struct {
		name    string
		indices []int64
		blank   int
		offset  int
		want    string
	}{
		{"repeats collapse", []int64{0, 0, 1, 1, 2, 1}, 2, 0, "xyy"},
		{"blank separates repeats", []int64{0, 0, 2, 0}, 2, 0, "xx"},
		{"only blanks", []int64{2, 2, 2}, 2, 0, ""},
		{"empty sequence", nil, 2, 0, ""},
		{"negative padding skipped", []int64{-1, 0, -1, -1, 1, -1}, 2, 0, "xy"},
		{"padding does not break a run", []int64{0, -1, 0}, 2, 0, "x"},
		{"out of range class dropped", []int64{0, 7, 1}, 2, 0, "xy"},
		{"blank at zero with offset", []int64{1, 1, 0, 1, 2}, 0, 1, "xxy"},
		{"offset below range dropped", []int64{0, 3, 1}, 0, 1, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(xy, tt.blank, tt.offset)
			if got := d.DecodeIndices(tt.indices); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecodeLogits(t *testing.T) {
	vocab := mustVocab(t, " ", "a", "b")
	d := NewDecoder(vocab, 3, 0)

	logits := oneHot([]int{3, 1, 1, 3, 2, 2, 2, 3}, 4)
	if got := d.DecodeLogits(logits); got != "ab" {
		t.Errorf("Expected %q, got %q", "ab", got)
	}

	// Leading and trailing spaces are trimmed, interior ones kept
	logits = oneHot([]int{0, 1, 0, 2, 0}, 4)
	if got := d.DecodeLogits(logits); got != "a b" {
		t.Errorf("Expected %q, got %q", "a b", got)
	}
}

func TestDecodeLogitsIgnoresNaN(t *testing.T) {
	vocab := mustVocab(t, "a", "b")
	d := NewDecoder(vocab, 2, 0)

	nan := float32(math.NaN())
	logits := [][]float32{
		{nan, 0.5, 0.1},
		{},
		{0.9, nan, 0.2},
	}
	if got := d.DecodeLogits(logits); got != "ba" {
		t.Errorf("Expected %q, got %q", "ba", got)
	}
}

func TestDecodeMultiCharacterSymbol(t *testing.T) {
	vocab := DefaultVocabulary()
	d := NewDecoder(vocab, vocab.Len(), 0)

	// 26 is the two-rune glyph for heh
	if got := d.DecodeIndices([]int64{26, 26, 1}); got != "هـا" {
		t.Errorf("Expected %q, got %q", "هـا", got)
	}
}

func TestDecodeDispatch(t *testing.T) {
	vocab := mustVocab(t, "a", "b")
	d := NewDecoder(vocab, 0, 1)

	tests := []struct {
		name string
		out  model.Output
		want string
	}{
		{
			name: "logits",
			out:  model.Output{Kind: model.OutputLogits, Logits: oneHot([]int{1, 0, 2}, 3)},
			want: "ab",
		},
		{
			name: "indices",
			out:  model.Output{Kind: model.OutputIndices, Indices: []int64{2, 2, 1}},
			want: "ba",
		},
		{
			name: "unknown kind",
			out:  model.Output{Kind: model.OutputKind(9), Indices: []int64{1}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Decode(tt.out); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if d.Blank() != 0 {
		t.Errorf("Expected blank 0, got %d", d.Blank())
	}
}
