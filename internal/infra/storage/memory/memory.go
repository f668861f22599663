// Package memory provides the in-memory ErrorLogRepository used when no
// database is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// ErrorLogRepo is an in-memory archive of classified errors.
type ErrorLogRepo struct {
	mu       sync.RWMutex
	errors   []*domain.ClassifiedError
	outcomes map[string][]*domain.RecoveryResult
	max      int
}

// NewErrorLogRepo creates a new in-memory repository. max bounds the archive;
// 0 means 10000.
func NewErrorLogRepo(max int) *ErrorLogRepo {
	if max == 0 {
		max = 10000
	}
	return &ErrorLogRepo{
		outcomes: make(map[string][]*domain.RecoveryResult),
		max:      max,
	}
}

// Append stores a newly classified error, evicting the oldest past the cap.
func (r *ErrorLogRepo) Append(ctx context.Context, e *domain.ClassifiedError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
	if len(r.errors) > r.max {
		evicted := r.errors[0]
		r.errors = r.errors[1:]
		delete(r.outcomes, evicted.ID)
	}
	return nil
}

// RecordOutcome stores a recovery result against an error id.
func (r *ErrorLogRepo) RecordOutcome(ctx context.Context, errorID string, result *domain.RecoveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[errorID] = append(r.outcomes[errorID], result)
	return nil
}

// Count returns the number of archived errors.
func (r *ErrorLogRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.errors), nil
}

// Since returns archived errors classified at or after the given time.
func (r *ErrorLogRepo) Since(ctx context.Context, since time.Time) ([]*domain.ClassifiedError, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ClassifiedError, 0)
	for _, e := range r.errors {
		if !e.Context.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
