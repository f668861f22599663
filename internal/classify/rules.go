package classify

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/faultline/internal/core/domain"
)

// Rule classifies an error when its Match predicate returns true. Rules are
// evaluated in order; the first match wins.
type Rule struct {
	Name            string
	Match           func(err error, ctx domain.ErrorContext) bool
	Category        domain.Category
	Severity        domain.Severity
	Retryable       bool
	Strategy        string
	SuggestedAction string
	UserMessage     string
}

func matchAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func grpcCode(err error) (codes.Code, bool) {
	s, ok := status.FromError(err)
	if !ok || s.Code() == codes.OK {
		return codes.OK, false
	}
	return s.Code(), true
}

func codeRule(code codes.Code) func(err error, ctx domain.ErrorContext) bool {
	return func(err error, ctx domain.ErrorContext) bool {
		c, ok := grpcCode(err)
		return ok && c == code
	}
}

// builtinRules returns the ordered built-in rule list. gRPC status codes from
// the transcription backend are matched before the string heuristics because
// they are exact; the string rules go from most to least specific. The
// unconditional catch-all is kept outside this list (see Handler).
func builtinRules() []Rule {
	lower := func(err error) string { return strings.ToLower(err.Error()) }

	return []Rule{
		{
			Name:            "grpc_unauthenticated",
			Match:           codeRule(codes.Unauthenticated),
			Category:        domain.CategoryAuthTokenExpired,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyAuthRefresh,
			SuggestedAction: "refresh the session token and retry",
			UserMessage:     "Your session expired. Reconnecting...",
		},
		{
			Name:            "grpc_permission_denied",
			Match:           codeRule(codes.PermissionDenied),
			Category:        domain.CategoryAuthPermissionDenied,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategyAuthRefresh,
			SuggestedAction: "verify account permissions",
			UserMessage:     "You don't have permission for this action.",
		},
		{
			Name:            "grpc_resource_exhausted",
			Match:           codeRule(codes.ResourceExhausted),
			Category:        domain.CategoryAPIQuotaExceeded,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategyAPIBackoff,
			SuggestedAction: "degrade to batch mode until quota resets",
			UserMessage:     "Usage limit reached. Switching to batch mode.",
		},
		{
			Name:            "grpc_unavailable",
			Match:           codeRule(codes.Unavailable),
			Category:        domain.CategoryAPIServiceUnavailable,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyAPIBackoff,
			SuggestedAction: "back off and retry against the service",
			UserMessage:     "The service is temporarily unavailable.",
		},
		{
			Name:            "grpc_deadline_exceeded",
			Match:           codeRule(codes.DeadlineExceeded),
			Category:        domain.CategoryNetworkTimeout,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyNetworkReconnection,
			SuggestedAction: "retry with backoff, check connection quality",
			UserMessage:     "The connection timed out. Retrying...",
		},
		{
			Name:            "grpc_data_loss",
			Match:           codeRule(codes.DataLoss),
			Category:        domain.CategoryDataLoss,
			Severity:        domain.SeverityCritical,
			Retryable:       false,
			Strategy:        domain.StrategyDataReconciliation,
			SuggestedAction: "reconcile the transcript from the replay buffer",
			UserMessage:     "Some data could not be recovered.",
		},
		{
			Name: "websocket_schema",
			Match: func(err error, ctx domain.ErrorContext) bool {
				msg := lower(err)
				ws := matchAny(msg, "websocket", "ws://", "wss://") ||
					strings.Contains(strings.ToLower(ctx.Component), "websocket")
				return ws && matchAny(msg, "schema", "unexpected message", "unknown field")
			},
			Category:        domain.CategoryWebsocketSchema,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategyWebsocketTransport,
			SuggestedAction: "switch transport, a schema error recurs on retry",
			UserMessage:     "Connection protocol changed. Switching transport...",
		},
		{
			Name: "websocket_connection",
			Match: func(err error, ctx domain.ErrorContext) bool {
				msg := lower(err)
				ws := matchAny(msg, "websocket", "ws://", "wss://") ||
					strings.Contains(strings.ToLower(ctx.Component), "websocket")
				return ws && matchAny(msg, "close", "1006", "1011", "connect", "handshake")
			},
			Category:        domain.CategoryWebsocketConnection,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyWebsocketTransport,
			SuggestedAction: "reconnect the websocket with backoff",
			UserMessage:     "Live connection dropped. Reconnecting...",
		},
		{
			Name: "websocket_protocol",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "websocket", "ws://", "wss://")
			},
			Category:        domain.CategoryWebsocketProtocol,
			Severity:        domain.SeverityMedium,
			Retryable:       true,
			Strategy:        domain.StrategyWebsocketTransport,
			SuggestedAction: "resynchronize the websocket session",
			UserMessage:     "Live connection hiccup. Resyncing...",
		},
		{
			Name: "auth_token_expired",
			Match: func(err error, ctx domain.ErrorContext) bool {
				msg := lower(err)
				if matchAny(msg, "401", "unauthorized", "unauthenticated") {
					return true
				}
				return strings.Contains(msg, "token") && matchAny(msg, "expired", "invalid", "revoked")
			},
			Category:        domain.CategoryAuthTokenExpired,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyAuthRefresh,
			SuggestedAction: "refresh the session token and retry",
			UserMessage:     "Your session expired. Reconnecting...",
		},
		{
			Name: "auth_permission_denied",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "403", "forbidden", "permission denied", "access denied")
			},
			Category:        domain.CategoryAuthPermissionDenied,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategyAuthRefresh,
			SuggestedAction: "verify account permissions",
			UserMessage:     "You don't have permission for this action.",
		},
		{
			Name: "api_rate_limit",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "429", "rate limit", "too many requests")
			},
			Category:        domain.CategoryAPIRateLimit,
			Severity:        domain.SeverityMedium,
			Retryable:       true,
			Strategy:        domain.StrategyAPIBackoff,
			SuggestedAction: "back off before the next request",
			UserMessage:     "Slowing down requests for a moment...",
		},
		{
			Name: "api_quota_exceeded",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "quota", "plan limit", "count exceeded", "usage limit")
			},
			Category:        domain.CategoryAPIQuotaExceeded,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategyAPIBackoff,
			SuggestedAction: "degrade to batch mode until quota resets",
			UserMessage:     "Usage limit reached. Switching to batch mode.",
		},
		{
			Name: "api_service_unavailable",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "503", "502", "service unavailable", "bad gateway", "maintenance")
			},
			Category:        domain.CategoryAPIServiceUnavailable,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyAPIBackoff,
			SuggestedAction: "back off and retry against the service",
			UserMessage:     "The service is temporarily unavailable.",
		},
		{
			Name: "api_response_invalid",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "invalid json", "unmarshal", "unexpected response", "malformed response", "decode")
			},
			Category:        domain.CategoryAPIResponseInvalid,
			Severity:        domain.SeverityMedium,
			Retryable:       true,
			Strategy:        domain.StrategyGenericRetry,
			SuggestedAction: "retry the request once, then surface",
			UserMessage:     "Received an unexpected response. Retrying...",
		},
		{
			Name: "transcription_sync",
			Match: func(err error, ctx domain.ErrorContext) bool {
				if !isTranscription(err, ctx) {
					return false
				}
				return matchAny(lower(err), "sync", "desync", "out of order", "sequence")
			},
			Category:        domain.CategoryTranscriptionSync,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyDataReconciliation,
			SuggestedAction: "reconcile the transcript against the replay buffer",
			UserMessage:     "Transcript out of sync. Reconciling...",
		},
		{
			Name: "transcription_quality",
			Match: func(err error, ctx domain.ErrorContext) bool {
				if !isTranscription(err, ctx) {
					return false
				}
				return matchAny(lower(err), "quality", "confidence", "garbled", "low signal")
			},
			Category:        domain.CategoryTranscriptionQuality,
			Severity:        domain.SeverityLow,
			Retryable:       true,
			Strategy:        domain.StrategyTranscriptionRestart,
			SuggestedAction: "restart the recognizer stream",
			UserMessage:     "Transcription quality degraded.",
		},
		{
			Name:            "transcription_service",
			Match:           isTranscription,
			Category:        domain.CategoryTranscriptionService,
			Severity:        domain.SeverityCritical,
			Retryable:       true,
			Strategy:        domain.StrategyTranscriptionRestart,
			SuggestedAction: "restart the transcription session and replay buffered audio",
			UserMessage:     "Transcription interrupted. Restoring...",
		},
		{
			Name: "resource_memory",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "out of memory", "oom", "heap", "allocation failed")
			},
			Category:        domain.CategoryResourceMemory,
			Severity:        domain.SeverityCritical,
			Retryable:       true,
			Strategy:        domain.StrategyResourceCleanup,
			SuggestedAction: "clear buffers and force a collection cycle",
			UserMessage:     "Freeing up memory...",
		},
		{
			Name: "resource_storage",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "disk full", "no space", "storage full", "enospc")
			},
			Category:        domain.CategoryResourceStorage,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyResourceCleanup,
			SuggestedAction: "prune local caches and retry the write",
			UserMessage:     "Storage is full. Cleaning up...",
		},
		{
			Name: "resource_cpu",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "cpu", "throttl", "overload")
			},
			Category:        domain.CategoryResourceCPU,
			Severity:        domain.SeverityMedium,
			Retryable:       true,
			Strategy:        domain.StrategyResourceCleanup,
			SuggestedAction: "throttle background work",
			UserMessage:     "Reducing load...",
		},
		{
			Name: "data_corruption",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "corrupt", "checksum", "integrity")
			},
			Category:        domain.CategoryDataCorruption,
			Severity:        domain.SeverityCritical,
			Retryable:       false,
			Strategy:        domain.StrategyDataReconciliation,
			SuggestedAction: "rebuild the affected records from the replay buffer",
			UserMessage:     "Data integrity issue detected. Repairing...",
		},
		{
			Name: "data_loss",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "data loss", "lost data", "missing segment")
			},
			Category:        domain.CategoryDataLoss,
			Severity:        domain.SeverityCritical,
			Retryable:       false,
			Strategy:        domain.StrategyDataReconciliation,
			SuggestedAction: "reconcile the transcript from the replay buffer",
			UserMessage:     "Some data could not be recovered.",
		},
		{
			Name: "data_sync_conflict",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "conflict", "version mismatch", "stale write")
			},
			Category:        domain.CategoryDataSyncConflict,
			Severity:        domain.SeverityMedium,
			Retryable:       true,
			Strategy:        domain.StrategyDataReconciliation,
			SuggestedAction: "re-run reconciliation with the latest version",
			UserMessage:     "Resolving a sync conflict...",
		},
		{
			Name: "network_timeout",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "timeout", "timed out", "deadline")
			},
			Category:        domain.CategoryNetworkTimeout,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyNetworkReconnection,
			SuggestedAction: "retry with backoff, check connection quality",
			UserMessage:     "The connection timed out. Retrying...",
		},
		{
			Name: "network_connection",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err),
					"network", "connection", "econnrefused", "econnreset",
					"dns", "offline", "unreachable", "socket")
			},
			Category:        domain.CategoryNetworkConnection,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategyNetworkReconnection,
			SuggestedAction: "reconnect with backoff, fall back to polling transport",
			UserMessage:     "Connection lost. Reconnecting...",
		},
		{
			Name: "system_initialization",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "not initialized", "initialization", "startup failed")
			},
			Category:        domain.CategorySystemInitialization,
			Severity:        domain.SeverityCritical,
			Retryable:       true,
			Strategy:        domain.StrategySystemRestart,
			SuggestedAction: "reinitialize the failed component",
			UserMessage:     "A component failed to start. Restarting...",
		},
		{
			Name: "system_configuration",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "config", "misconfigured", "invalid setting")
			},
			Category:        domain.CategorySystemConfiguration,
			Severity:        domain.SeverityHigh,
			Retryable:       false,
			Strategy:        domain.StrategySystemRestart,
			SuggestedAction: "reload configuration with defaults",
			UserMessage:     "A configuration problem was detected.",
		},
		{
			Name: "system_dependency",
			Match: func(err error, ctx domain.ErrorContext) bool {
				return matchAny(lower(err), "dependency", "module not found", "library")
			},
			Category:        domain.CategorySystemDependency,
			Severity:        domain.SeverityHigh,
			Retryable:       true,
			Strategy:        domain.StrategySystemRestart,
			SuggestedAction: "reload the missing dependency",
			UserMessage:     "A required component is unavailable.",
		},
	}
}

func isTranscription(err error, ctx domain.ErrorContext) bool {
	msg := strings.ToLower(err.Error())
	if matchAny(msg, "transcription", "transcript", "recognizer", "asr", "speech") {
		return true
	}
	origin := strings.ToLower(ctx.Component + " " + ctx.Operation)
	return matchAny(origin, "transcription", "transcript", "recognizer")
}

// catchAllRule matches unconditionally so every error classifies. It is
// applied after both built-in and caller-added rules.
var catchAllRule = Rule{
	Name:            "unknown",
	Match:           func(err error, ctx domain.ErrorContext) bool { return true },
	Category:        domain.CategoryUnknown,
	Severity:        domain.SeverityMedium,
	Retryable:       true,
	Strategy:        domain.StrategyGenericRetry,
	SuggestedAction: "retry once, then report",
	UserMessage:     "Something went wrong.",
}
