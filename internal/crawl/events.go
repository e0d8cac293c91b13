package crawl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"storywalk/internal/explore"
)

func appendEvent(runDir string, event map[string]any) error {
	event["schema_version"] = 1
	if _, ok := event["at"]; !ok {
		event["at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	f, err := os.OpenFile(filepath.Join(runDir, "events.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Manifest describes a run directory.
type Manifest struct {
	SchemaVersion int            `json:"schema_version"`
	RunID         string         `json:"run_id"`
	StoryPath     string         `json:"story_path"`
	StoryName     string         `json:"story_name,omitempty"`
	StoryHash     string         `json:"story_hash"`
	StartedAt     time.Time      `json:"started_at"`
	Limits        explore.Limits `json:"limits"`
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
