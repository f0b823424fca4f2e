package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"go.uber.org/zap"
)

// RunRepository handles harvest run database operations
type RunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
	}
}

const runColumns = `
	id, status, config, output_base, with_xlsx, record_count, query_count,
	csv_path, json_path, xlsx_path, error, created_at, started_at, finished_at
`

// Create inserts a new run
func (r *RunRepository) Create(ctx context.Context, run *models.HarvestRun) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO harvest_runs (
			id, status, config, output_base, with_xlsx, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		string(cfg),
		run.OutputBase,
		run.WithXLSX,
		run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create harvest run", zap.String("run_id", run.ID), zap.Error(err))
		return fmt.Errorf("failed to create harvest run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.HarvestRun, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM harvest_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get harvest run", zap.String("run_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get harvest run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.HarvestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM harvest_runs ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		r.logger.Error("Failed to list harvest runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list harvest runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.HarvestRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimNextPending moves the oldest pending run to RUNNING and returns it.
// It returns nil, nil when nothing is queued.
func (r *RunRepository) ClaimNextPending(ctx context.Context) (*models.HarvestRun, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM harvest_runs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1",
		models.RunStatusPending)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to select pending harvest run", zap.Error(err))
		return nil, fmt.Errorf("failed to select pending harvest run: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE harvest_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		models.RunStatusRunning, now, run.ID, models.RunStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim harvest run: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	return run, nil
}

// MarkCompleted records a successful run with its artifacts
func (r *RunRepository) MarkCompleted(ctx context.Context, run *models.HarvestRun) error {
	now := time.Now().UTC()
	query := `
		UPDATE harvest_runs
		SET status = ?, record_count = ?, query_count = ?,
			csv_path = ?, json_path = ?, xlsx_path = ?, error = '', finished_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		models.RunStatusCompleted,
		run.RecordCount,
		run.QueryCount,
		run.CSVPath,
		run.JSONPath,
		run.XLSXPath,
		now,
		run.ID,
		models.RunStatusRunning,
	)
	if err != nil {
		r.logger.Error("Failed to mark harvest run completed", zap.String("run_id", run.ID), zap.Error(err))
		return fmt.Errorf("failed to mark harvest run completed: %w", err)
	}
	if err := r.expectOne(res, run.ID); err != nil {
		return err
	}
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &now
	return nil
}

// MarkFailed records a failed run. Partial counts are kept.
func (r *RunRepository) MarkFailed(ctx context.Context, id string, runErr error, recordCount, queryCount int) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	query := `
		UPDATE harvest_runs
		SET status = ?, error = ?, record_count = ?, query_count = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		models.RunStatusFailed,
		msg,
		recordCount,
		queryCount,
		time.Now().UTC(),
		id,
		models.RunStatusPending,
		models.RunStatusRunning,
	)
	if err != nil {
		r.logger.Error("Failed to mark harvest run failed", zap.String("run_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark harvest run failed: %w", err)
	}
	return r.expectOne(res, id)
}

// FailInterrupted marks runs left RUNNING by a previous process as failed
func (r *RunRepository) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE harvest_runs SET status = ?, error = ?, finished_at = ? WHERE status = ?",
		models.RunStatusFailed, "interrupted by shutdown", time.Now().UTC(), models.RunStatusRunning)
	if err != nil {
		r.logger.Error("Failed to fail interrupted harvest runs", zap.Error(err))
		return 0, fmt.Errorf("failed to fail interrupted harvest runs: %w", err)
	}
	return res.RowsAffected()
}

func (r *RunRepository) expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrInvalidTransition, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.HarvestRun, error) {
	var (
		run        models.HarvestRun
		cfg        string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.Status,
		&cfg,
		&run.OutputBase,
		&run.WithXLSX,
		&run.RecordCount,
		&run.QueryCount,
		&run.CSVPath,
		&run.JSONPath,
		&run.XLSXPath,
		&run.Error,
		&run.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
