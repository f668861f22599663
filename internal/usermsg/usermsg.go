// Package usermsg maps classified errors to the notices shown to end users.
// Wording is deliberately non-technical; operators get the real detail from
// logs and the dashboard.
package usermsg

import "github.com/vietddude/faultline/internal/core/domain"

// Notice is a user-facing rendering of an error.
type Notice struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
	AutoDismiss    bool   `json:"auto_dismiss"`
}

type template struct {
	title          string
	message        string
	actionRequired bool
	autoDismiss    bool
}

var templates = map[domain.Category]template{
	domain.CategoryNetworkConnection: {
		title:       "Connection lost",
		message:     "We lost the network connection and are trying to reconnect.",
		autoDismiss: true,
	},
	domain.CategoryNetworkTimeout: {
		title:       "Slow connection",
		message:     "The network is responding slowly. Retrying in the background.",
		autoDismiss: true,
	},
	domain.CategoryWebsocketConnection: {
		title:       "Reconnecting",
		message:     "The live connection dropped. Reconnecting now.",
		autoDismiss: true,
	},
	domain.CategoryWebsocketSchema: {
		title:   "Live updates degraded",
		message: "Live updates hit a compatibility issue. We switched to a backup connection.",
	},
	domain.CategoryWebsocketProtocol: {
		title:       "Reconnecting",
		message:     "The live connection hit a protocol error. Reconnecting now.",
		autoDismiss: true,
	},
	domain.CategoryAuthTokenExpired: {
		title:       "Session refreshed",
		message:     "Your session expired and was refreshed automatically.",
		autoDismiss: true,
	},
	domain.CategoryAuthPermissionDenied: {
		title:          "Access denied",
		message:        "You don't have permission for that action. Contact your administrator if this looks wrong.",
		actionRequired: true,
	},
	domain.CategoryAPIRateLimit: {
		title:       "Please wait",
		message:     "Too many requests in a short time. We'll retry shortly.",
		autoDismiss: true,
	},
	domain.CategoryAPIQuotaExceeded: {
		title:          "Usage limit reached",
		message:        "Your usage limit has been reached. Processing continues in reduced batch mode.",
		actionRequired: true,
	},
	domain.CategoryAPIServiceUnavailable: {
		title:       "Service unavailable",
		message:     "The service is temporarily unavailable. We'll keep retrying.",
		autoDismiss: true,
	},
	domain.CategoryAPIResponseInvalid: {
		title:   "Unexpected response",
		message: "We received an unexpected response and are retrying the request.",
	},
	domain.CategoryTranscriptionSync: {
		title:       "Catching up",
		message:     "The transcript fell behind and is being resynchronized.",
		autoDismiss: true,
	},
	domain.CategoryTranscriptionQuality: {
		title:   "Audio quality",
		message: "Transcription quality dropped. Check your microphone and background noise.",
	},
	domain.CategoryTranscriptionService: {
		title:          "Transcription interrupted",
		message:        "Transcription was interrupted. We're restarting it and recovering missed audio.",
		actionRequired: true,
	},
	domain.CategoryResourceMemory: {
		title:   "Low memory",
		message: "The app is running low on memory. Some history was trimmed to keep things responsive.",
	},
	domain.CategoryResourceStorage: {
		title:          "Storage full",
		message:        "Local storage is nearly full. Free up space to keep saving transcripts.",
		actionRequired: true,
	},
	domain.CategoryResourceCPU: {
		title:       "High load",
		message:     "The app is under heavy load and may respond slowly.",
		autoDismiss: true,
	},
	domain.CategoryDataCorruption: {
		title:          "Data issue detected",
		message:        "Part of the transcript could not be read and is being restored from the log.",
		actionRequired: true,
	},
	domain.CategoryDataLoss: {
		title:          "Data recovery in progress",
		message:        "Some recent data was lost and is being recovered.",
		actionRequired: true,
	},
	domain.CategoryDataSyncConflict: {
		title:   "Sync conflict",
		message: "Two versions of the transcript diverged. The newer one was kept.",
	},
	domain.CategorySystemInitialization: {
		title:          "Startup problem",
		message:        "The app had trouble starting. Running in safe mode.",
		actionRequired: true,
	},
	domain.CategorySystemConfiguration: {
		title:          "Configuration problem",
		message:        "A configuration problem needs attention before this feature can work.",
		actionRequired: true,
	},
	domain.CategorySystemDependency: {
		title:       "Component unavailable",
		message:     "A required component is unavailable. Retrying.",
		autoDismiss: true,
	},
}

var genericNotice = Notice{
	Title:       "Something went wrong",
	Message:     "Something went wrong. We're looking into it.",
	AutoDismiss: true,
}

// For renders the notice for a classified error. A non-empty UserMessage on
// the error overrides the template body.
func For(e *domain.ClassifiedError) Notice {
	if e == nil {
		return genericNotice
	}
	tmpl, ok := templates[e.Category]
	if !ok {
		n := genericNotice
		if e.UserMessage != "" {
			n.Message = e.UserMessage
		}
		return n
	}
	n := Notice{
		Title:          tmpl.title,
		Message:        tmpl.message,
		ActionRequired: tmpl.actionRequired,
		AutoDismiss:    tmpl.autoDismiss,
	}
	if e.UserMessage != "" {
		n.Message = e.UserMessage
	}
	// Critical errors always demand attention regardless of template.
	if e.Severity == domain.SeverityCritical {
		n.ActionRequired = true
		n.AutoDismiss = false
	}
	return n
}
