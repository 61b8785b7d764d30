package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// RunRepository persists catch-up run reports for the operational dashboard.
type RunRepository struct {
	db database.PGXDB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db database.PGXDB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun stores a report and sets its ID.
func (r *RunRepository) SaveRun(ctx context.Context, report *models.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO billing_runs (as_of, started_at, finished_at, expenses_created, failures, backlog, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, report.AsOf, report.StartedAt, report.FinishedAt, report.ExpensesCreated,
		len(report.Failures), len(report.BacklogRemaining), payload,
	).Scan(&report.ID)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// ListRuns returns the most recent reports, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, report FROM billing_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run reports: %w", err)
	}
	defer rows.Close()

	var reports []models.RunReport
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan run report: %w", err)
		}
		var report models.RunReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to decode run report %d: %w", id, err)
		}
		report.ID = id
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run reports: %w", err)
	}
	return reports, nil
}
