package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	story TEXT NOT NULL,
	outcome TEXT NOT NULL,
	generated_at INTEGER NOT NULL,
	choices_count INTEGER NOT NULL,
	endings_count INTEGER NOT NULL,
	max_depth_reached INTEGER NOT NULL,
	max_depth_aborts INTEGER NOT NULL,
	max_steps_between_choices INTEGER NOT NULL,
	total_errors INTEGER NOT NULL,
	suppressed_errors INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS endings (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	decision_point TEXT NOT NULL,
	last_line TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (run_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS errors (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	decision_point TEXT NOT NULL,
	message TEXT NOT NULL,
	path TEXT NOT NULL,
	last_choice TEXT NOT NULL,
	state_before TEXT,
	state_after TEXT,
	recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_errors_run ON errors(run_id);
`

// Export writes the report into a SQLite database, replacing any earlier
// export of the same run.
func Export(ctx context.Context, dbPath string, r *Report) error {
	if dbPath == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"errors", "endings", "runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, r.RunID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, story, outcome, generated_at, choices_count, endings_count,
			max_depth_reached, max_depth_aborts, max_steps_between_choices, total_errors, suppressed_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Story, r.Outcome, r.GeneratedAt.Unix(), r.ChoicesCount, r.EndingsCount,
		r.MaxDepthReached, r.MaxDepthAborts, r.MaxStepsBetweenChoices, r.TotalErrors, r.SuppressedErrors,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	endStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO endings (run_id, fingerprint, decision_point, last_line, count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer endStmt.Close()
	for _, e := range r.Endings {
		if _, err := endStmt.ExecContext(ctx, r.RunID, e.Fingerprint.String(), e.Detail.DecisionPoint, e.Detail.LastLine, e.Count); err != nil {
			return fmt.Errorf("insert ending: %w", err)
		}
	}

	errStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO errors (id, run_id, kind, decision_point, message, path, last_choice,
			state_before, state_after, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer errStmt.Close()
	for _, rec := range r.Errors {
		if _, err := errStmt.ExecContext(ctx, rec.ID, r.RunID, string(rec.Kind), rec.DecisionPoint, rec.Message,
			strings.Join(rec.Path, " > "), rec.LastChoice, rec.StateBefore, rec.StateAfter, rec.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("insert error: %w", err)
		}
	}
	return tx.Commit()
}
