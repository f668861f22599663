package recovery

import (
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// escalationHistory keeps a bounded per-error record of recovery results and
// derives an escalation level from recent failures.
type escalationHistory struct {
	mu      sync.Mutex
	byError map[string][]*domain.RecoveryResult
	cap     int
	window  time.Duration
	level   int
}

func newEscalationHistory(capPerError int, window time.Duration, levelCap int) *escalationHistory {
	if capPerError <= 0 {
		capPerError = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if levelCap <= 0 {
		levelCap = 5
	}
	return &escalationHistory{
		byError: make(map[string][]*domain.RecoveryResult),
		cap:     capPerError,
		window:  window,
		level:   levelCap,
	}
}

// record appends a result to the error's history, dropping the oldest past
// the cap.
func (h *escalationHistory) record(errorID string, result *domain.RecoveryResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.byError[errorID], result)
	if len(list) > h.cap {
		list = list[1:]
	}
	h.byError[errorID] = list
}

// escalationLevel counts failed attempts for the error inside the window,
// capped at the configured ceiling.
func (h *escalationHistory) escalationLevel(errorID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.window)
	failures := 0
	for _, r := range h.byError[errorID] {
		if !r.Success && r.Timestamp.After(cutoff) {
			failures++
		}
	}
	if failures > h.level {
		return h.level
	}
	return failures
}

// results returns a copy of the error's recovery history, oldest first.
func (h *escalationHistory) results(errorID string) []*domain.RecoveryResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*domain.RecoveryResult, len(h.byError[errorID]))
	copy(out, h.byError[errorID])
	return out
}
