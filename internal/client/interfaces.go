package client

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-approvals/internal/approval"
)

// UserDirectory resolves which of a set of user ids exist and are active.
// Consumed by the reconciliation engine for approver validation.
type UserDirectory interface {
	// ResolveExisting returns the subset of ids that exist and are active.
	ResolveExisting(ctx context.Context, userIDs []string) ([]string, error)
}

// Notifier delivers decision-outcome events to the platform notification
// service. Implementations are fire-and-forget: failures are logged by the
// implementation and never propagated.
type Notifier interface {
	PublishSubmissionEvent(ctx context.Context, eventType string, event approval.DecisionEvent)
}

// ScheduleAdjuster creates or updates return-to-work schedule entries.
// Best-effort only: callers treat failures as non-fatal warnings.
type ScheduleAdjuster interface {
	UpsertReturnToWork(ctx context.Context, userID string, date time.Time, patternRef *string) error
}
