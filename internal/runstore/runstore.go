// Package runstore persists allocation runs so that a session's blueprint can be audited later.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/refine"
	"github.com/myrjola/groupworkout/internal/sqlite"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

var ErrNotFound = errors.NewSentinel("run not found")

// Run is one invocation of the assembler together with the refined selections.
type Run struct {
	ID         int64
	CreatedAt  time.Time
	Seed       uint64
	Blueprint  allocation.Blueprint
	Selections []refine.Selection
}

// RunSummary is the listing view of a Run.
type RunSummary struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	TemplateID   string    `json:"template_id"`
	Seed         uint64    `json:"seed"`
	ClientCount  int       `json:"client_count"`
	FailedCount  int       `json:"failed_count"`
	WarningCount int       `json:"warning_count"`
}

// Store is a SQLite-backed repository of allocation runs.
type Store struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func New(db *sqlite.Database, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Save stores run and its validation warnings and returns the new run ID. ID and CreatedAt of run are ignored.
func (s *Store) Save(ctx context.Context, run Run) (_ int64, err error) {
	blueprintJSON, err := json.Marshal(run.Blueprint)
	if err != nil {
		return 0, errors.Wrap(err, "marshal blueprint")
	}
	selections := run.Selections
	if selections == nil {
		selections = []refine.Selection{}
	}
	selectionsJSON, err := json.Marshal(selections)
	if err != nil {
		return 0, errors.Wrap(err, "marshal selections")
	}

	tx, err := s.db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			err = errors.Join(err, errors.Wrap(rollbackErr, "rollback transaction"))
		}
	}()

	// SQLite integers are signed so the seed is stored with its bits reinterpreted.
	var id int64
	if err = tx.QueryRowContext(ctx, `
		INSERT INTO allocation_runs (
			template_id, seed, client_count, failed_count, blueprint_json, selections_json
		) VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		run.Blueprint.TemplateID,
		int64(run.Seed), //nolint:gosec // reversed in Get.
		len(run.Blueprint.ClientOrder)+len(run.Blueprint.FailedClients),
		len(run.Blueprint.FailedClients),
		string(blueprintJSON),
		string(selectionsJSON),
	).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "insert run")
	}

	for i, warning := range run.Blueprint.ValidationWarnings {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO allocation_warnings (run_id, position, message) VALUES (?, ?, ?)`,
			id, i, warning); err != nil {
			return 0, errors.Wrap(err, "insert warning", slog.Int("position", i))
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit transaction")
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "saved allocation run",
		slog.Int64("run_id", id),
		slog.Int("warnings", len(run.Blueprint.ValidationWarnings)))
	return id, nil
}

// Get returns the run with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (Run, error) {
	var (
		createdAt      string
		seed           int64
		blueprintJSON  string
		selectionsJSON string
	)
	err := s.db.ReadOnly.QueryRowContext(ctx, `
		SELECT created_at, seed, blueprint_json, selections_json
		FROM allocation_runs
		WHERE id = ?`, id).Scan(&createdAt, &seed, &blueprintJSON, &selectionsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrap(ErrNotFound, "get run", slog.Int64("run_id", id))
	}
	if err != nil {
		return Run{}, errors.Wrap(err, "query run", slog.Int64("run_id", id))
	}

	var run Run
	run.ID = id
	run.Seed = uint64(seed) //nolint:gosec // stored with reinterpreted bits in Save.
	if run.CreatedAt, err = time.Parse(timestampFormat, createdAt); err != nil {
		return Run{}, errors.Wrap(err, "parse created_at")
	}
	if err = json.Unmarshal([]byte(blueprintJSON), &run.Blueprint); err != nil {
		return Run{}, errors.Wrap(err, "unmarshal blueprint")
	}
	if err = json.Unmarshal([]byte(selectionsJSON), &run.Selections); err != nil {
		return Run{}, errors.Wrap(err, "unmarshal selections")
	}
	return run, nil
}

// Warnings returns the validation warnings of a run in the order they were recorded.
func (s *Store) Warnings(ctx context.Context, id int64) (_ []string, err error) {
	rows, err := s.db.ReadOnly.QueryContext(ctx, `
		SELECT message
		FROM allocation_warnings
		WHERE run_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrap(err, "query warnings")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, errors.Wrap(closeErr, "close rows"))
		}
	}()

	warnings := []string{}
	for rows.Next() {
		var message string
		if err = rows.Scan(&message); err != nil {
			return nil, errors.Wrap(err, "scan warning")
		}
		warnings = append(warnings, message)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate warnings")
	}
	return warnings, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) (_ []RunSummary, err error) {
	rows, err := s.db.ReadOnly.QueryContext(ctx, `
		SELECT r.id, r.created_at, r.template_id, r.seed, r.client_count, r.failed_count,
		       (SELECT COUNT(*) FROM allocation_warnings w WHERE w.run_id = r.id)
		FROM allocation_runs r
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, errors.Wrap(closeErr, "close rows"))
		}
	}()

	summaries := []RunSummary{}
	for rows.Next() {
		var (
			summary   RunSummary
			createdAt string
			seed      int64
		)
		if err = rows.Scan(&summary.ID, &createdAt, &summary.TemplateID, &seed, &summary.ClientCount,
			&summary.FailedCount, &summary.WarningCount); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		if summary.CreatedAt, err = time.Parse(timestampFormat, createdAt); err != nil {
			return nil, errors.Wrap(err, "parse created_at", slog.Int64("run_id", summary.ID))
		}
		summary.Seed = uint64(seed) //nolint:gosec // stored with reinterpreted bits in Save.
		summaries = append(summaries, summary)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return summaries, nil
}
