package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// ErrorLogRepo implements storage.ErrorLogRepository using PostgreSQL.
type ErrorLogRepo struct {
	db *DB
}

// NewErrorLogRepo creates a new PostgreSQL error log repository.
func NewErrorLogRepo(db *DB) *ErrorLogRepo {
	return &ErrorLogRepo{db: db}
}

// Append stores a newly classified error. Repeated classifications of the
// same signature bump the occurrence count instead of inserting a new row.
func (r *ErrorLogRepo) Append(ctx context.Context, e *domain.ClassifiedError) error {
	query := `
		INSERT INTO error_log (id, name, message, category, severity, component, operation, session_id, is_retryable, recovery_strategy, occurrence_count, classified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET occurrence_count = error_log.occurrence_count + 1,
		    classified_at = EXCLUDED.classified_at
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.Name,
		e.Message,
		string(e.Category),
		string(e.Severity),
		e.Context.Component,
		e.Context.Operation,
		e.Context.SessionID,
		e.IsRetryable,
		e.RecoveryStrategy,
		e.OccurrenceCount,
		e.Context.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append error: %w", err)
	}
	return nil
}

// RecordOutcome stores the result of a recovery attempt.
func (r *ErrorLogRepo) RecordOutcome(ctx context.Context, errorID string, result *domain.RecoveryResult) error {
	query := `
		INSERT INTO recovery_outcomes (error_id, success, strategy, action, duration_ms, retry_count, fallback_activated, message, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		errorID,
		result.Success,
		result.Strategy,
		result.Action,
		result.Duration.Milliseconds(),
		result.RetryCount,
		result.FallbackActivated,
		result.Message,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Count returns the number of archived errors.
func (r *ErrorLogRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM error_log`); err != nil {
		return 0, fmt.Errorf("failed to count errors: %w", err)
	}
	return count, nil
}

// Since returns archived errors classified at or after the given time.
func (r *ErrorLogRepo) Since(ctx context.Context, since time.Time) ([]*domain.ClassifiedError, error) {
	query := `
		SELECT id, name, message, category, severity, component, operation, session_id, is_retryable, recovery_strategy, occurrence_count, classified_at
		FROM error_log
		WHERE classified_at >= $1
		ORDER BY classified_at ASC
	`

	var rows []struct {
		ID               string    `db:"id"`
		Name             string    `db:"name"`
		Message          string    `db:"message"`
		Category         string    `db:"category"`
		Severity         string    `db:"severity"`
		Component        string    `db:"component"`
		Operation        string    `db:"operation"`
		SessionID        string    `db:"session_id"`
		IsRetryable      bool      `db:"is_retryable"`
		RecoveryStrategy string    `db:"recovery_strategy"`
		OccurrenceCount  int       `db:"occurrence_count"`
		ClassifiedAt     time.Time `db:"classified_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}

	out := make([]*domain.ClassifiedError, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.ClassifiedError{
			ID:       row.ID,
			Name:     row.Name,
			Message:  row.Message,
			Category: domain.Category(row.Category),
			Severity: domain.Severity(row.Severity),
			Context: domain.ErrorContext{
				Timestamp: row.ClassifiedAt,
				SessionID: row.SessionID,
				Component: row.Component,
				Operation: row.Operation,
			},
			IsRetryable:      row.IsRetryable,
			RecoveryStrategy: row.RecoveryStrategy,
			OccurrenceCount:  row.OccurrenceCount,
		})
	}
	return out, nil
}
