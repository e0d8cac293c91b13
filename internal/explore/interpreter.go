package explore

// Choice is one option offered at a decision point.
type Choice struct {
	Index int
	Label string
}

// Interpreter is the narrative state machine the explorer drives. A single
// instance is mutated in place and is never used from more than one goroutine.
type Interpreter interface {
	CanAdvance() bool
	// Advance emits the next unit of narration. A returned error is a
	// runtime fault for the frame being expanded.
	Advance() (string, error)
	CurrentChoices() []Choice
	ApplyChoice(index int) error
	SerializeState() ([]byte, error)
	// LoadState restores a blob produced by SerializeState. Loading the
	// same blob twice must leave the interpreter in the same state.
	LoadState(state []byte) error
	CurrentDecisionPoint() string
	LastNarrationLine() string
	// OnError installs the callback for errors the story reports without
	// failing the current step.
	OnError(fn func(message string))
}
