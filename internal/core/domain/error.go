// Package domain defines the core types shared across the fault pipeline.
package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Category classifies the domain of a failure.
type Category string

const (
	CategoryNetworkConnection     Category = "network_connection"
	CategoryNetworkTimeout        Category = "network_timeout"
	CategoryWebsocketConnection   Category = "websocket_connection"
	CategoryWebsocketSchema       Category = "websocket_schema"
	CategoryWebsocketProtocol     Category = "websocket_protocol"
	CategoryAuthTokenExpired      Category = "auth_token_expired"
	CategoryAuthPermissionDenied  Category = "auth_permission_denied"
	CategoryAPIRateLimit          Category = "api_rate_limit"
	CategoryAPIQuotaExceeded      Category = "api_quota_exceeded"
	CategoryAPIServiceUnavailable Category = "api_service_unavailable"
	CategoryAPIResponseInvalid    Category = "api_response_invalid"
	CategoryTranscriptionService  Category = "transcription_service"
	CategoryTranscriptionQuality  Category = "transcription_quality"
	CategoryTranscriptionSync     Category = "transcription_sync"
	CategoryResourceMemory        Category = "resource_memory"
	CategoryResourceStorage       Category = "resource_storage"
	CategoryResourceCPU           Category = "resource_cpu"
	CategoryDataCorruption        Category = "data_corruption"
	CategoryDataLoss              Category = "data_loss"
	CategoryDataSyncConflict      Category = "data_sync_conflict"
	CategorySystemInitialization  Category = "system_initialization"
	CategorySystemConfiguration   Category = "system_configuration"
	CategorySystemDependency      Category = "system_dependency"
	CategoryUnknown               Category = "unknown"
)

// Categories lists every category in ordinal order. Aggregation code indexes
// fixed-size arrays by this ordinal instead of allocating maps per window.
var Categories = []Category{
	CategoryNetworkConnection,
	CategoryNetworkTimeout,
	CategoryWebsocketConnection,
	CategoryWebsocketSchema,
	CategoryWebsocketProtocol,
	CategoryAuthTokenExpired,
	CategoryAuthPermissionDenied,
	CategoryAPIRateLimit,
	CategoryAPIQuotaExceeded,
	CategoryAPIServiceUnavailable,
	CategoryAPIResponseInvalid,
	CategoryTranscriptionService,
	CategoryTranscriptionQuality,
	CategoryTranscriptionSync,
	CategoryResourceMemory,
	CategoryResourceStorage,
	CategoryResourceCPU,
	CategoryDataCorruption,
	CategoryDataLoss,
	CategoryDataSyncConflict,
	CategorySystemInitialization,
	CategorySystemConfiguration,
	CategorySystemDependency,
	CategoryUnknown,
}

// NumCategories is the size of ordinal-indexed category arrays.
const NumCategories = 24

var categoryIndex = func() map[Category]int {
	m := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		m[c] = i
	}
	return m
}()

// Index returns the ordinal of the category, or the ordinal of
// CategoryUnknown for values outside the closed enumeration.
func (c Category) Index() int {
	if i, ok := categoryIndex[c]; ok {
		return i
	}
	return NumCategories - 1
}

// Group is the coarse failure domain used for strategy dispatch and
// retroactive priority ordering.
type Group string

const (
	GroupNetwork       Group = "network"
	GroupWebsocket     Group = "websocket"
	GroupAuth          Group = "auth"
	GroupAPI           Group = "api"
	GroupTranscription Group = "transcription"
	GroupResource      Group = "resource"
	GroupData          Group = "data"
	GroupSystem        Group = "system"
	GroupUnknown       Group = "unknown"
)

// Group maps a category onto its failure domain.
func (c Category) Group() Group {
	switch c {
	case CategoryNetworkConnection, CategoryNetworkTimeout:
		return GroupNetwork
	case CategoryWebsocketConnection, CategoryWebsocketSchema, CategoryWebsocketProtocol:
		return GroupWebsocket
	case CategoryAuthTokenExpired, CategoryAuthPermissionDenied:
		return GroupAuth
	case CategoryAPIRateLimit, CategoryAPIQuotaExceeded,
		CategoryAPIServiceUnavailable, CategoryAPIResponseInvalid:
		return GroupAPI
	case CategoryTranscriptionService, CategoryTranscriptionQuality, CategoryTranscriptionSync:
		return GroupTranscription
	case CategoryResourceMemory, CategoryResourceStorage, CategoryResourceCPU:
		return GroupResource
	case CategoryDataCorruption, CategoryDataLoss, CategoryDataSyncConflict:
		return GroupData
	case CategorySystemInitialization, CategorySystemConfiguration, CategorySystemDependency:
		return GroupSystem
	default:
		return GroupUnknown
	}
}

// Severity is the ordinal urgency of a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists severities in ascending rank order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// NumSeverities is the size of ordinal-indexed severity arrays.
const NumSeverities = 4

// Rank returns the ordinal rank of the severity (low=0 .. critical=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ErrorContext carries where and when a failure happened.
type ErrorContext struct {
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id"`
	Component     string    `json:"component"`
	Operation     string    `json:"operation"`
	Stack         string    `json:"stack,omitempty"`
	PriorErrors   []string  `json:"prior_errors,omitempty"`
	IsRetroactive bool      `json:"is_retroactive,omitempty"`
}

// ClassifiedError is a raw failure enriched with category, severity and
// recovery metadata. It is created once by the classifier and read-only
// afterwards; downstream layers reference it without mutating it.
type ClassifiedError struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Message          string       `json:"message"`
	Category         Category     `json:"category"`
	Severity         Severity     `json:"severity"`
	Context          ErrorContext `json:"context"`
	IsRetryable      bool         `json:"is_retryable"`
	SuggestedAction  string       `json:"suggested_action"`
	RecoveryStrategy string       `json:"recovery_strategy"`
	UserMessage      string       `json:"user_message"`
	OccurrenceCount  int          `json:"occurrence_count"`
}

// Signature derives the stable identity of an error from its name, message
// and origin. Repeated failures with the same signature share an ID, which
// drives occurrence counting and WAL deduplication.
func Signature(name, message, component, operation string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s", name, message, component, operation)))
	return hex.EncodeToString(h[:8])
}
