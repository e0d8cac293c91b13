// Package crawl runs one exploration end to end: it prepares the run
// directory, wires the explorer to logging, metrics and the checkpoint
// store, and assembles the final report.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storywalk/internal/checkpoint"
	"storywalk/internal/config"
	"storywalk/internal/explore"
	"storywalk/internal/metrics"
	"storywalk/internal/report"
	"storywalk/internal/runlog"
	"storywalk/internal/story"
)

type RunConfig struct {
	StoryPath string
	Runsdir   string
	RunID     string
	Resume    bool
	Settings  *config.Config

	// Prompt is asked at every ending milestone. Nil always continues.
	Prompt func(explore.Progress) bool
	// Progress receives a one-line status display. Nil disables it.
	Progress io.Writer
	// Console receives error log records. Nil disables the console sink.
	Console io.Writer
	Color   bool
	Metrics *metrics.Metrics
}

type Result struct {
	RunID      string
	RunDir     string
	Outcome    explore.Outcome
	Report     *report.Report
	ReportPath string
}

// DefaultRunID names a run after its story and the current UTC time.
func DefaultRunID(storyPath string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(storyPath), filepath.Ext(storyPath))
	return base + "_" + now.UTC().Format("20060102_150405")
}

// RunStory explores the story at cfg.StoryPath. The returned error wraps
// explore.ErrUnexpectedFault when the traversal itself broke; the result is
// still filled in as far as the run got.
func RunStory(ctx context.Context, cfg RunConfig) (*Result, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if cfg.Runsdir == "" {
		cfg.Runsdir = settings.RunsDir
	}
	if cfg.Resume {
		if cfg.RunID == "" {
			return nil, fmt.Errorf("--run-id required with --resume")
		}
		m, err := readManifest(filepath.Join(cfg.Runsdir, cfg.RunID, "manifest.json"))
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", cfg.RunID, err)
		}
		if cfg.StoryPath == "" {
			cfg.StoryPath = m.StoryPath
		}
	}
	s, _, err := story.Load(cfg.StoryPath)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = DefaultRunID(cfg.StoryPath, time.Now())
	}
	runDir := filepath.Join(cfg.Runsdir, cfg.RunID)
	if !cfg.Resume {
		if _, err := os.Stat(runDir); err == nil {
			return nil, fmt.Errorf("run %s already exists", cfg.RunID)
		}
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, err
	}

	limits := settings.ExploreLimits()
	if !cfg.Resume {
		m := Manifest{
			SchemaVersion: 1,
			RunID:         cfg.RunID,
			StoryPath:     cfg.StoryPath,
			StoryName:     s.Name,
			StoryHash:     s.Hash,
			StartedAt:     time.Now().UTC(),
			Limits:        limits,
		}
		if err := writeJSON(filepath.Join(runDir, "manifest.json"), m); err != nil {
			return nil, err
		}
	}

	logger, err := runlog.New(runlog.Options{
		Level:   settings.Log.Level,
		Format:  settings.Log.Format,
		File:    filepath.Join(runDir, "run.log"),
		Console: cfg.Console,
		Color:   cfg.Color,
	})
	if err != nil {
		return nil, err
	}
	defer logger.Close()
	log := logger.With("run_id", cfg.RunID)

	store, err := checkpoint.NewStore(runDir, s.Hash)
	if err != nil {
		return nil, err
	}
	var resume *explore.ResumePoint
	if cfg.Resume {
		resume, err = store.LoadResume()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("run %s has nothing to resume", cfg.RunID)
		case err != nil:
			return nil, err
		}
	}

	machine, err := story.NewMachine(s)
	if err != nil {
		return nil, fmt.Errorf("start story: %w", err)
	}
	mx := cfg.Metrics
	if mx == nil {
		mx = metrics.New()
	}
	obs := &observer{
		log:         log,
		store:       store,
		metrics:     mx,
		metricsFile: settings.MetricsFile,
		runDir:      runDir,
		prompt:      cfg.Prompt,
		progress:    cfg.Progress,
	}
	e, err := explore.New(machine, explore.Options{Limits: limits, Observer: obs, Resume: resume})
	if err != nil {
		return nil, err
	}

	started := map[string]any{"type": "RunStarted", "run_id": cfg.RunID, "story": cfg.StoryPath, "resume": cfg.Resume}
	_ = appendEvent(runDir, started)
	log.Info("run started", "story", cfg.StoryPath, "nodes", s.Nodes, "resume", cfg.Resume)

	outcome, runErr := e.Run(ctx)
	obs.endProgress()
	mx.RunFinished(outcome)

	res := &Result{RunID: cfg.RunID, RunDir: runDir, Outcome: outcome}
	rep, repErr := finish(store, res, s, cfg, outcome)
	res.Report = rep
	if repErr != nil {
		log.Error("final report failed", "error", repErr)
	}
	if settings.MetricsFile != "" {
		if err := mx.WriteTextfile(settings.MetricsFile); err != nil {
			log.Warn("metrics textfile", "error", err)
		}
	}

	switch {
	case runErr != nil:
		log.Error("run failed", "error", runErr)
		_ = appendEvent(runDir, map[string]any{"type": "RunFailed", "error": runErr.Error()})
		return res, runErr
	case repErr != nil:
		_ = appendEvent(runDir, map[string]any{"type": "RunFailed", "error": repErr.Error()})
		return res, repErr
	}
	event := map[string]any{
		"type":    "Run" + strings.ToUpper(string(outcome[:1])) + string(outcome[1:]),
		"endings": rep.EndingsCount,
		"errors":  rep.TotalErrors,
	}
	_ = appendEvent(runDir, event)
	log.Info("run finished", "outcome", outcome, "choices", rep.ChoicesCount, "endings", rep.EndingsCount, "errors", rep.TotalErrors)
	return res, nil
}

// finish consolidates every snapshot into report.json. Older snapshots are
// cleaned up only once nothing is left to resume.
func finish(store *checkpoint.Store, res *Result, s *story.Story, cfg RunConfig, outcome explore.Outcome) (*report.Report, error) {
	paths, err := store.Snapshots()
	if err != nil {
		return nil, err
	}
	c, err := checkpoint.Consolidate(paths)
	if err != nil {
		return nil, err
	}
	name := s.Name
	if name == "" {
		name = filepath.Base(cfg.StoryPath)
	}
	rep := report.Assemble(c, report.Meta{RunID: cfg.RunID, Story: name, Outcome: outcome, GeneratedAt: time.Now()})
	res.ReportPath = filepath.Join(res.RunDir, "report.json")
	if err := report.Write(res.ReportPath, rep); err != nil {
		return nil, err
	}
	if _, err := store.LoadResume(); errors.Is(err, fs.ErrNotExist) {
		if _, err := store.Cleanup(); err != nil {
			return rep, fmt.Errorf("cleanup: %w", err)
		}
	}
	return rep, nil
}
