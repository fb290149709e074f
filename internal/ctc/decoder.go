package ctc

import (
	"strings"

	"github.com/Zmmoly/Rat50/internal/model"
)

// Decoder performs greedy CTC decoding against a vocabulary.
//
// blank is the class index that means "no emission". offset is subtracted
// from every non-blank class before the vocabulary lookup, so a model that
// reserves class 0 for blank uses blank=0, offset=1 and one that appends the
// blank after the vocabulary uses blank=len(vocab), offset=0.
type Decoder struct {
	vocab  *Vocabulary
	blank  int64
	offset int64
}

// NewDecoder creates a decoder for one model convention
func NewDecoder(vocab *Vocabulary, blank, offset int) *Decoder {
	return &Decoder{vocab: vocab, blank: int64(blank), offset: int64(offset)}
}

// Blank returns the blank class index
func (d *Decoder) Blank() int {
	return int(d.blank)
}

// Decode dispatches on the output kind
func (d *Decoder) Decode(out model.Output) string {
	switch out.Kind {
	case model.OutputLogits:
		return d.DecodeLogits(out.Logits)
	case model.OutputIndices:
		return d.DecodeIndices(out.Indices)
	default:
		return ""
	}
}

// DecodeLogits takes the arg-max class per time step and collapses it
func (d *Decoder) DecodeLogits(logits [][]float32) string {
	classes := make([]int64, len(logits))
	for t, row := range logits {
		classes[t] = int64(argmax(row))
	}
	return d.collapse(classes)
}

// DecodeIndices collapses an already reduced class sequence. Negative
// entries are padding and are skipped.
func (d *Decoder) DecodeIndices(indices []int64) string {
	return d.collapse(indices)
}

func (d *Decoder) collapse(classes []int64) string {
	var sb strings.Builder
	last := int64(-1)
	for _, c := range classes {
		if c < 0 {
			continue
		}
		if c != last && c != d.blank {
			if sym, ok := d.vocab.Symbol(int(c - d.offset)); ok {
				sb.WriteString(sym)
			}
		}
		last = c
	}
	return strings.TrimSpace(sb.String())
}

func argmax(row []float32) int {
	best := -1
	for i, v := range row {
		if v != v { // NaN
			continue
		}
		if best < 0 || v > row[best] {
			best = i
		}
	}
	return best
}
