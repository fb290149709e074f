package model

import (
	"fmt"
)

// DefaultRequiredSamples is the fixed input length assumed for raw-audio
// models whose signature leaves the sample axis dynamic
const DefaultRequiredSamples = 128000

// InputKind tells how a model expects audio to be presented
type InputKind int

const (
	InputSpectrogram InputKind = iota
	InputRawAudio
)

func (k InputKind) String() string {
	if k == InputRawAudio {
		return "raw_audio"
	}
	return "spectrogram"
}

// BlankPosition locates the CTC blank class
type BlankPosition int

const (
	// BlankEnd places blank at index len(vocabulary)
	BlankEnd BlankPosition = iota
	// BlankZero reserves index 0 for blank
	BlankZero
)

func (b BlankPosition) String() string {
	if b == BlankZero {
		return "zero"
	}
	return "end"
}

// Profile is the resolved contract between the pipeline and one model
type Profile struct {
	InputKind       InputKind     `json:"-"`
	InputRank       int           `json:"input_rank"`
	RequiredSamples int           `json:"required_samples,omitempty"`
	FeatureBins     int           `json:"feature_bins,omitempty"` // 0 when dynamic
	FixedFrames     int           `json:"fixed_frames,omitempty"` // 0 when dynamic
	OutputKind      OutputKind    `json:"-"`
	OutputRank      int           `json:"output_rank"`
	BlankPosition   BlankPosition `json:"-"`
	IndexOffset     int           `json:"index_offset"`
}

// Overrides carries configured values that take precedence over detection.
// Empty strings and "auto" mean detect.
type Overrides struct {
	InputKind       string
	OutputKind      string
	BlankPosition   string
	IndexOffset     *int
	RequiredSamples int
}

// BlankIndex returns the blank class for a vocabulary of vocabSize symbols
func (p Profile) BlankIndex(vocabSize int) int {
	if p.BlankPosition == BlankZero {
		return 0
	}
	return vocabSize
}

// Classes returns the number of output classes expected for a vocabulary
func (p Profile) Classes(vocabSize int) int {
	return vocabSize + 1
}

func (p Profile) String() string {
	return fmt.Sprintf("input=%s output=%s blank=%s offset=%d",
		p.InputKind, p.OutputKind, p.BlankPosition, p.IndexOffset)
}

// DetectProfile derives the model contract from its signature. The first
// input and first output are used.
func DetectProfile(info Info, o Overrides) (Profile, error) {
	if len(info.Inputs) == 0 {
		return Profile{}, fmt.Errorf("%w: model %s declares no inputs", ErrModelLoad, info.Name)
	}
	if len(info.Outputs) == 0 {
		return Profile{}, fmt.Errorf("%w: model %s declares no outputs", ErrModelLoad, info.Name)
	}

	var p Profile
	if err := p.detectInput(info.Inputs[0], o); err != nil {
		return Profile{}, err
	}
	if err := p.detectOutput(info.Outputs[0], o); err != nil {
		return Profile{}, err
	}
	if err := p.detectBlank(o); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p *Profile) detectInput(in TensorInfo, o Overrides) error {
	if in.Type != Float32 {
		return fmt.Errorf("%w: input %s has unsupported type %s", ErrModelLoad, in.Name, in.Type)
	}
	p.InputRank = in.Rank()

	switch o.InputKind {
	case "", "auto":
		switch in.Rank() {
		case 3:
			p.InputKind = InputSpectrogram
		case 1, 2:
			p.InputKind = InputRawAudio
		default:
			return fmt.Errorf("%w: cannot infer input kind from rank %d", ErrModelLoad, in.Rank())
		}
	case "spectrogram":
		if in.Rank() != 3 {
			return fmt.Errorf("%w: spectrogram input needs rank 3, model has %d", ErrModelLoad, in.Rank())
		}
		p.InputKind = InputSpectrogram
	case "raw_audio":
		if in.Rank() < 1 || in.Rank() > 2 {
			return fmt.Errorf("%w: raw audio input needs rank 1 or 2, model has %d", ErrModelLoad, in.Rank())
		}
		p.InputKind = InputRawAudio
	default:
		return fmt.Errorf("%w: unknown input kind %q", ErrModelLoad, o.InputKind)
	}

	if p.InputKind == InputSpectrogram {
		if d := in.Dim(1); d > 0 {
			p.FixedFrames = int(d)
		}
		if d := in.Dim(2); d > 0 {
			p.FeatureBins = int(d)
		}
		return nil
	}

	switch {
	case in.Dim(in.Rank()-1) > 0:
		p.RequiredSamples = int(in.Dim(in.Rank() - 1))
		if o.RequiredSamples > 0 && o.RequiredSamples != p.RequiredSamples {
			return fmt.Errorf("%w: required_samples %d conflicts with model input length %d",
				ErrModelLoad, o.RequiredSamples, p.RequiredSamples)
		}
	case o.RequiredSamples > 0:
		p.RequiredSamples = o.RequiredSamples
	default:
		p.RequiredSamples = DefaultRequiredSamples
	}
	return nil
}

func (p *Profile) detectOutput(out TensorInfo, o Overrides) error {
	p.OutputRank = out.Rank()

	var detected OutputKind
	switch out.Type {
	case Float32:
		detected = OutputLogits
		if out.Rank() < 1 || out.Rank() > 3 {
			return fmt.Errorf("%w: logits output needs rank 1 to 3, model has %d", ErrModelLoad, out.Rank())
		}
	case Int32, Int64:
		detected = OutputIndices
		if out.Rank() < 1 || out.Rank() > 2 {
			return fmt.Errorf("%w: index output needs rank 1 or 2, model has %d", ErrModelLoad, out.Rank())
		}
	default:
		return fmt.Errorf("%w: output %s has unsupported type %s", ErrModelLoad, out.Name, out.Type)
	}

	switch o.OutputKind {
	case "", "auto":
	case detected.String():
	default:
		return fmt.Errorf("%w: output_kind %s does not match %s output %s",
			ErrModelLoad, o.OutputKind, out.Type, out.Name)
	}
	p.OutputKind = detected
	return nil
}

func (p *Profile) detectBlank(o Overrides) error {
	switch o.BlankPosition {
	case "", "auto":
		if p.OutputKind == OutputIndices {
			p.BlankPosition = BlankZero
		} else {
			p.BlankPosition = BlankEnd
		}
	case "end":
		p.BlankPosition = BlankEnd
	case "zero":
		p.BlankPosition = BlankZero
	default:
		return fmt.Errorf("%w: unknown blank position %q", ErrModelLoad, o.BlankPosition)
	}

	want := 0
	if p.BlankPosition == BlankZero {
		want = 1
	}
	if o.IndexOffset != nil && *o.IndexOffset != want {
		return fmt.Errorf("%w: index_offset %d is inconsistent with blank at %s",
			ErrModelLoad, *o.IndexOffset, p.BlankPosition)
	}
	p.IndexOffset = want
	return nil
}
