package domain

import "time"

// EntryMetadata is auxiliary context persisted with a WAL entry.
type EntryMetadata struct {
	SessionID string `json:"session_id"`
	Operation string `json:"operation"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LogEntry is the write-ahead-log record for one classified error. Entries
// are created on classification, mutated in place as recovery is attempted,
// and removed only by retention cleanup or a full reset.
type LogEntry struct {
	ID                string           `json:"id"`
	Timestamp         time.Time        `json:"timestamp"`
	Error             *ClassifiedError `json:"error"`
	RecoveryAttempted bool             `json:"recovery_attempted"`
	RecoverySuccess   bool             `json:"recovery_success"`
	RetryCount        int              `json:"retry_count"`
	LastRetryAt       time.Time        `json:"last_retry_at,omitempty"`
	SilentFailure     bool             `json:"silent_failure"`
	Metadata          EntryMetadata    `json:"metadata"`
}

// Clone returns a copy safe to hand to external readers. The embedded
// ClassifiedError is read-only by contract and shared.
func (e *LogEntry) Clone() *LogEntry {
	c := *e
	return &c
}

// WALInfo is a point-in-time summary of the log for introspection.
type WALInfo struct {
	TotalEntries     int       `json:"total_entries"`
	SilentFailures   int       `json:"silent_failures"`
	Recovered        int       `json:"recovered"`
	ExhaustedRetries int       `json:"exhausted_retries"`
	OldestEntry      time.Time `json:"oldest_entry,omitempty"`
}
