package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alexanderbarati/tensiletester/internal/kernel"
)

// SaveTestRun inserts one finalized run. Implements kernel.ResultStore.
func (p *PostgresClient) SaveTestRun(ctx context.Context, run kernel.TestRun) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO test_runs (
			id, started_at, duration_ms, max_force, max_extension,
			break_force, break_extension, data_points, completed,
			specimen_broke, params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID, run.StartedAt, run.Result.DurationMS,
		run.Result.MaxForce, run.Result.MaxExtension,
		run.Result.BreakForce, run.Result.BreakExtension,
		run.Result.DataPoints, run.Result.Completed,
		run.Result.SpecimenBroke, paramsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert test run: %w", err)
	}
	return nil
}

// LoadTestRun fetches one archived run by id.
func (p *PostgresClient) LoadTestRun(ctx context.Context, id uuid.UUID) (*kernel.TestRun, error) {
	var (
		run        kernel.TestRun
		startedAt  time.Time
		paramsJSON []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, started_at, duration_ms, max_force, max_extension,
		       break_force, break_extension, data_points, completed,
		       specimen_broke, params
		FROM test_runs WHERE id = $1
	`, id).Scan(
		&run.ID, &startedAt, &run.Result.DurationMS,
		&run.Result.MaxForce, &run.Result.MaxExtension,
		&run.Result.BreakForce, &run.Result.BreakExtension,
		&run.Result.DataPoints, &run.Result.Completed,
		&run.Result.SpecimenBroke, &paramsJSON)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("test run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test run: %w", err)
	}

	run.StartedAt = startedAt
	if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return &run, nil
}

// ListTestRuns returns the most recent runs, newest first.
func (p *PostgresClient) ListTestRuns(ctx context.Context, limit int) ([]kernel.TestRun, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, started_at, duration_ms, max_force, max_extension,
		       break_force, break_extension, data_points, completed,
		       specimen_broke, params
		FROM test_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	defer rows.Close()

	var runs []kernel.TestRun
	for rows.Next() {
		var (
			run        kernel.TestRun
			paramsJSON []byte
		)
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.Result.DurationMS,
			&run.Result.MaxForce, &run.Result.MaxExtension,
			&run.Result.BreakForce, &run.Result.BreakExtension,
			&run.Result.DataPoints, &run.Result.Completed,
			&run.Result.SpecimenBroke, &paramsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
