// Package checkpoint persists exploration snapshots, the resume point, and
// folds snapshots back into one summary.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"storywalk/internal/explore"
)

var (
	ErrNoSnapshots  = errors.New("no checkpoint snapshots found")
	ErrStoryChanged = errors.New("story changed since the checkpoint was written")
)

const (
	snapshotDir = "checkpoints"
	resumeFile  = "resume.json"
)

var (
	snapshotRe = regexp.MustCompile(`^checkpoint_(\d+)\.json$`)
	pendingRe  = regexp.MustCompile(`^checkpoint_(\d+)\.json\.pending$`)
)

type resumeDoc struct {
	SchemaVersion int                  `json:"schema_version"`
	StoryHash     string               `json:"story_hash"`
	Resume        *explore.ResumePoint `json:"resume"`
}

// Store owns the checkpoint files of one run directory.
type Store struct {
	dir       string
	storyHash string
}

// NewStore opens the checkpoint directory of runDir and settles any save
// that was cut short.
func NewStore(runDir, storyHash string) (*Store, error) {
	dir := filepath.Join(runDir, snapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, storyHash: storyHash}
	if err := s.settle(); err != nil {
		return nil, fmt.Errorf("settle checkpoints: %w", err)
	}
	return s, nil
}

func SnapshotName(seq int) string {
	return fmt.Sprintf("checkpoint_%06d.json", seq)
}

// Save writes the snapshot as a new numbered file and replaces the resume
// point. A snapshot without a resume point removes any previous one.
//
// The snapshot is written as checkpoint_N.json.pending, then the resume
// point is updated, then the snapshot is renamed into place. A pending
// snapshot left by a crash is therefore committed only when the resume
// point already moved past it; see settle.
func (s *Store) Save(snap *explore.Snapshot) (string, error) {
	path := filepath.Join(s.dir, SnapshotName(snap.Sequence))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("snapshot %d already exists", snap.Sequence)
	}
	pending := path + ".pending"
	if err := writeJSONAtomic(pending, snap); err != nil {
		return "", err
	}
	resume := filepath.Join(s.dir, resumeFile)
	if snap.Resume == nil {
		if err := os.Remove(resume); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	} else {
		doc := resumeDoc{SchemaVersion: 1, StoryHash: s.storyHash, Resume: snap.Resume}
		if err := writeJSONAtomic(resume, doc); err != nil {
			return "", fmt.Errorf("write resume point: %w", err)
		}
	}
	if err := os.Rename(pending, path); err != nil {
		return "", err
	}
	return path, nil
}

// settle resolves pending snapshots. Pending snapshot N belongs to the run
// when there is no resume point or the resume point continues after N.
// Otherwise the resume point still starts at N and the pending file is
// dropped, so the epoch is explored again instead of counted twice.
func (s *Store) settle() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	next := -1
	if b, err := os.ReadFile(filepath.Join(s.dir, resumeFile)); err == nil {
		var doc resumeDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("decode resume point: %w", err)
		}
		if doc.Resume != nil {
			next = doc.Resume.NextSequence
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var errs []error
	for _, e := range entries {
		m := pendingRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pending := filepath.Join(s.dir, e.Name())
		final := filepath.Join(s.dir, SnapshotName(seq))
		_, statErr := os.Stat(final)
		switch {
		case statErr == nil:
			errs = append(errs, os.Remove(pending))
		case next < 0 || next > seq:
			errs = append(errs, os.Rename(pending, final))
		default:
			errs = append(errs, os.Remove(pending))
		}
	}
	return errors.Join(errs...)
}

// LoadResume returns the last resume point. It wraps fs.ErrNotExist when the
// run finished or never checkpointed.
func (s *Store) LoadResume() (*explore.ResumePoint, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, resumeFile))
	if err != nil {
		return nil, fmt.Errorf("read resume point: %w", err)
	}
	var doc resumeDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode resume point: %w", err)
	}
	if doc.StoryHash != s.storyHash {
		return nil, ErrStoryChanged
	}
	if doc.Resume == nil {
		return nil, fmt.Errorf("read resume point: %w", fs.ErrNotExist)
	}
	return doc.Resume, nil
}

// Snapshots lists snapshot files in sequence order.
func (s *Store) Snapshots() ([]string, error) {
	return ListSnapshots(s.dir)
}

func ListSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		seq  int
		path string
	}
	var found []numbered
	for _, e := range entries {
		m := snapshotRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{seq, filepath.Join(dir, e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.path)
	}
	return out, nil
}

// Cleanup removes every snapshot except the newest. Files already gone are
// skipped, so it is safe to run again.
func (s *Store) Cleanup() (int, error) {
	paths, err := s.Snapshots()
	if err != nil {
		return 0, err
	}
	if len(paths) < 2 {
		return 0, nil
	}
	removed := 0
	var errs []error
	for _, p := range paths[:len(paths)-1] {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func ReadSnapshot(path string) (*explore.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap explore.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// writeJSONAtomic writes through a temp file so a crash never leaves a
// truncated document behind.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
