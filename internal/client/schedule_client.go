package client

import (
	"context"
	"fmt"
	"time"
)

// ScheduleClient implements ScheduleAdjuster against the platform scheduling
// service.
type ScheduleClient struct {
	http *httpClient
}

// NewScheduleClient creates a schedule client for the given base URL.
func NewScheduleClient(baseURL string, timeout time.Duration) *ScheduleClient {
	return &ScheduleClient{http: newHTTPClient(baseURL, timeout)}
}

type returnToWorkRequest struct {
	UserID     string  `json:"user_id"`
	Date       string  `json:"date"` // YYYY-MM-DD
	PatternRef *string `json:"pattern_ref,omitempty"`
}

// UpsertReturnToWork creates or updates the return-to-work schedule entry for
// a user on the given date.
func (c *ScheduleClient) UpsertReturnToWork(ctx context.Context, userID string, date time.Time, patternRef *string) error {
	req := returnToWorkRequest{
		UserID:     userID,
		Date:       date.Format("2006-01-02"),
		PatternRef: patternRef,
	}

	if err := c.http.postJSON(ctx, "/api/v1/schedules/return-to-work", req, nil); err != nil {
		return fmt.Errorf("failed to upsert return-to-work entry: %w", err)
	}
	return nil
}
