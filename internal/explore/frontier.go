package explore

import "fmt"

// Frame is one unit of pending exploration work.
type Frame struct {
	State []byte   `json:"state"`
	Path  []string `json:"path"`
	Depth int      `json:"depth"`
	// Choice is the label that produced State from Parent. Empty for the root.
	Choice string `json:"choice,omitempty"`
	// Parent is the pre-choice state. Siblings share the same slice.
	Parent []byte `json:"parent,omitempty"`
}

// Child builds the frame reached by taking choice from f.
func (f Frame) Child(choice string, before, after []byte) Frame {
	path := make([]string, len(f.Path), len(f.Path)+1)
	copy(path, f.Path)
	return Frame{
		State:  after,
		Path:   append(path, choice),
		Depth:  f.Depth + 1,
		Choice: choice,
		Parent: before,
	}
}

// Frontier is the LIFO worklist of pending frames.
type Frontier struct {
	frames []Frame
}

func NewFrontier(frames ...Frame) (*Frontier, error) {
	f := &Frontier{}
	for _, fr := range frames {
		if err := f.Push(fr); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frontier) Push(fr Frame) error {
	if fr.Depth != len(fr.Path) {
		return fmt.Errorf("frame depth %d does not match path length %d", fr.Depth, len(fr.Path))
	}
	f.frames = append(f.frames, fr)
	return nil
}

// Pop removes the most recently pushed frame.
func (f *Frontier) Pop() (Frame, bool) {
	n := len(f.frames)
	if n == 0 {
		return Frame{}, false
	}
	fr := f.frames[n-1]
	f.frames[n-1] = Frame{}
	f.frames = f.frames[:n-1]
	return fr, true
}

func (f *Frontier) Len() int { return len(f.frames) }

// Frames copies the stack bottom to top.
func (f *Frontier) Frames() []Frame {
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}
