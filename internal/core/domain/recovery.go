package domain

import "time"

// Strategy names dispatched by the recovery layer. The classifier attaches
// one of these to every ClassifiedError.
const (
	StrategyNetworkReconnection  = "network_reconnection"
	StrategyWebsocketTransport   = "websocket_transport_switch"
	StrategyAuthRefresh          = "auth_token_refresh"
	StrategyAPIBackoff           = "api_backoff"
	StrategyTranscriptionRestart = "transcription_restart"
	StrategyResourceCleanup      = "resource_cleanup"
	StrategyDataReconciliation   = "data_reconciliation"
	StrategySystemRestart        = "system_component_restart"
	StrategyGenericRetry         = "generic_retry"
)

// RecoveryResult is the outcome of a single recovery attempt. A fresh result
// is produced per attempt; failures always carry a non-empty Message.
type RecoveryResult struct {
	Success           bool          `json:"success"`
	Strategy          string        `json:"strategy"`
	Action            string        `json:"action"`
	Duration          time.Duration `json:"duration"`
	RetryCount        int           `json:"retry_count"`
	FallbackActivated bool          `json:"fallback_activated,omitempty"`
	Message           string        `json:"message"`
	Timestamp         time.Time     `json:"timestamp"`
}
