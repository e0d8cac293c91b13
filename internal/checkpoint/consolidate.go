package checkpoint

import (
	"storywalk/internal/explore"
)

// Consolidated is the fold of every snapshot of a run.
type Consolidated struct {
	Snapshots int
	Counters  explore.Counters
	Endings   []explore.EndingCount
	Errors    []explore.ErrorRecord
}

// Consolidate reads the snapshots in order and folds them: counters are
// merged, ending tallies unioned with the first detail kept, and error
// records concatenated without repeating a (decision point, kind) key.
func Consolidate(paths []string) (*Consolidated, error) {
	if len(paths) == 0 {
		return nil, ErrNoSnapshots
	}
	out := &Consolidated{}
	index := map[explore.Fingerprint]int{}
	seen := map[explore.LedgerKey]bool{}
	for _, p := range paths {
		snap, err := ReadSnapshot(p)
		if err != nil {
			return nil, err
		}
		out.Snapshots++
		out.Counters = out.Counters.Merge(snap.Counters)
		for _, row := range snap.Endings {
			if i, ok := index[row.Fingerprint]; ok {
				out.Endings[i].Count += row.Count
				continue
			}
			index[row.Fingerprint] = len(out.Endings)
			out.Endings = append(out.Endings, row)
		}
		for _, rec := range snap.Errors {
			if seen[rec.Key()] {
				continue
			}
			seen[rec.Key()] = true
			out.Errors = append(out.Errors, rec)
		}
	}
	explore.SortEndings(out.Endings)
	return out, nil
}
