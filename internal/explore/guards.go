package explore

import (
	"fmt"
	"runtime/metrics"
)

// Limits bounds the search.
type Limits struct {
	// MaxDepth: frames at or beyond this depth are counted and dropped.
	MaxDepth int
	// LoopThreshold: occurrences of one intra-frame state that make a loop.
	LoopThreshold int
	// MaxSteps: narration steps allowed between two decision points.
	MaxSteps int
	// StepFlushThreshold forces a checkpoint once the epoch's running
	// maximum step count exceeds it. Zero disables the check.
	StepFlushThreshold int
	// MemoryLimit in bytes of heap in use. Zero disables the check.
	MemoryLimit uint64
	// MemorySampleEvery frames between heap samples. One checks after
	// every frame.
	MemorySampleEvery int
	// BatchSize frames per checkpoint epoch.
	BatchSize int
	// ContinueInterval endings between operator milestones. Zero disables.
	ContinueInterval int
}

func DefaultLimits() Limits {
	return Limits{
		MaxDepth:           200,
		LoopThreshold:      3,
		MaxSteps:           1000,
		StepFlushThreshold: 1000,
		MemoryLimit:        26 << 30,
		MemorySampleEvery:  1,
		BatchSize:          20000,
		ContinueInterval:   10_000_000,
	}
}

func (l Limits) Validate() error {
	switch {
	case l.MaxDepth <= 0:
		return fmt.Errorf("max depth must be positive, got %d", l.MaxDepth)
	case l.LoopThreshold < 2:
		return fmt.Errorf("loop threshold must be at least 2, got %d", l.LoopThreshold)
	case l.MaxSteps <= 0:
		return fmt.Errorf("max steps must be positive, got %d", l.MaxSteps)
	case l.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", l.BatchSize)
	case l.ContinueInterval < 0:
		return fmt.Errorf("continue interval must not be negative, got %d", l.ContinueInterval)
	}
	return nil
}

// repetitions counts intra-frame states for the loop guard. It lives for
// the expansion of a single frame.
type repetitions struct {
	seen      map[Fingerprint]int
	threshold int
}

func newRepetitions(threshold int, initial Fingerprint) *repetitions {
	return &repetitions{seen: map[Fingerprint]int{initial: 1}, threshold: threshold}
}

// observe reports whether fp has now occurred threshold times.
func (r *repetitions) observe(fp Fingerprint) bool {
	r.seen[fp]++
	return r.seen[fp] >= r.threshold
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// HeapInUse reads the bytes held by heap objects without stopping the
// world.
func HeapInUse() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
