package ctc

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/Zmmoly/Rat50/internal/config"
)

// ErrEmptyVocabulary is returned when a vocabulary source holds no symbols
var ErrEmptyVocabulary = fmt.Errorf("%w: vocabulary is empty", config.ErrConfiguration)

var defaultSymbols = []string{
	" ", "ا", "ب", "ت", "ث", "ج", "ح", "خ", "د", "ذ",
	"ر", "ز", "س", "ش", "ص", "ض", "ط", "ظ", "ع", "غ",
	"ف", "ق", "ك", "ل", "م", "ن", "هـ", "و", "ي",
	"ى", "ئ", "ؤ",
}

// Vocabulary is an immutable, index-addressable symbol table
type Vocabulary struct {
	symbols []string
	source  string
}

// NewVocabulary creates a vocabulary from symbols in index order
func NewVocabulary(symbols []string) (*Vocabulary, error) {
	if len(symbols) == 0 {
		return nil, ErrEmptyVocabulary
	}
	s := make([]string, len(symbols))
	copy(s, symbols)
	return &Vocabulary{symbols: s, source: "inline"}, nil
}

// DefaultVocabulary returns the compiled-in Arabic character set
func DefaultVocabulary() *Vocabulary {
	v, _ := NewVocabulary(defaultSymbols)
	v.source = "builtin"
	return v
}

// LoadVocabulary reads one symbol per line from path. An empty path or a
// missing file falls back to DefaultVocabulary; a file without symbols is
// a configuration error.
func LoadVocabulary(path string, logger *slog.Logger) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Vocabulary file not found, using built-in vocabulary",
			slog.String("path", path),
		)
		return DefaultVocabulary(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}

	v, err := ParseVocabulary(string(data))
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	v.source = path
	return v, nil
}

// ParseVocabulary splits text into lines. Line order defines index order;
// a trailing line break does not add a symbol.
func ParseVocabulary(text string) (*Vocabulary, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return NewVocabulary(lines)
}

// Len returns the number of symbols, excluding any blank
func (v *Vocabulary) Len() int {
	return len(v.symbols)
}

// Symbol returns the symbol at index i
func (v *Vocabulary) Symbol(i int) (string, bool) {
	if i < 0 || i >= len(v.symbols) {
		return "", false
	}
	return v.symbols[i], true
}

// Source names where the vocabulary came from
func (v *Vocabulary) Source() string {
	return v.source
}
