// Package storage defines the persistence interfaces for the fault pipeline.
package storage

import (
	"context"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// ErrorLogRepository is the durable archive of classified errors and their
// final recovery outcomes, used for offline analysis and export history.
type ErrorLogRepository interface {
	// Append stores a newly classified error.
	Append(ctx context.Context, e *domain.ClassifiedError) error

	// RecordOutcome stores the result of a recovery attempt for an error.
	RecordOutcome(ctx context.Context, errorID string, result *domain.RecoveryResult) error

	// Count returns the number of archived errors.
	Count(ctx context.Context) (int, error)

	// Since returns archived errors classified at or after the given time.
	Since(ctx context.Context, since time.Time) ([]*domain.ClassifiedError, error)
}
