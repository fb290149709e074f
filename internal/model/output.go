package model

// OutputKind tells whether a model emits per-class scores or class indices
type OutputKind int

const (
	OutputLogits OutputKind = iota
	OutputIndices
)

func (k OutputKind) String() string {
	if k == OutputIndices {
		return "indices"
	}
	return "logits"
}

// Output is the decoded-ready result of one inference call. Logits holds a
// [time][classes] matrix; Indices holds an already reduced class sequence.
type Output struct {
	Kind    OutputKind
	Logits  [][]float32
	Indices []int64
}

// Steps returns the number of time steps carried
func (o Output) Steps() int {
	if o.Kind == OutputIndices {
		return len(o.Indices)
	}
	return len(o.Logits)
}
