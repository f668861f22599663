package usermsg

import (
	"testing"

	"github.com/vietddude/faultline/internal/core/domain"
)

func TestFor_KnownCategory(t *testing.T) {
	n := For(&domain.ClassifiedError{Category: domain.CategoryNetworkConnection})
	if n.Title != "Connection lost" {
		t.Errorf("unexpected title %q", n.Title)
	}
	if !n.AutoDismiss {
		t.Error("transient network notices auto-dismiss")
	}
	if n.ActionRequired {
		t.Error("reconnects do not need user action")
	}
}

func TestFor_ActionRequiredCategories(t *testing.T) {
	for _, cat := range []domain.Category{
		domain.CategoryAuthPermissionDenied,
		domain.CategoryAPIQuotaExceeded,
		domain.CategoryResourceStorage,
		domain.CategorySystemConfiguration,
	} {
		n := For(&domain.ClassifiedError{Category: cat})
		if !n.ActionRequired {
			t.Errorf("%s should require user action", cat)
		}
		if n.AutoDismiss {
			t.Errorf("%s must not auto-dismiss", cat)
		}
	}
}

func TestFor_CriticalOverridesTemplate(t *testing.T) {
	// network_connection normally auto-dismisses, but a critical instance
	// demands attention.
	n := For(&domain.ClassifiedError{
		Category: domain.CategoryNetworkConnection,
		Severity: domain.SeverityCritical,
	})
	if !n.ActionRequired || n.AutoDismiss {
		t.Error("critical errors always require attention")
	}
}

func TestFor_UserMessageOverridesBody(t *testing.T) {
	n := For(&domain.ClassifiedError{
		Category:    domain.CategoryNetworkConnection,
		UserMessage: "Connection lost. Reconnecting...",
	})
	if n.Message != "Connection lost. Reconnecting..." {
		t.Errorf("classifier message should win, got %q", n.Message)
	}
}

func TestFor_UnknownAndNil(t *testing.T) {
	if n := For(&domain.ClassifiedError{Category: domain.CategoryUnknown}); n.Title != "Something went wrong" {
		t.Errorf("unexpected generic title %q", n.Title)
	}
	if n := For(nil); n.Title != "Something went wrong" {
		t.Errorf("nil error should get the generic notice, got %q", n.Title)
	}
}
