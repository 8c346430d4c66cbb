package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-hr-approvals/internal/approval"
)

// NotificationPublisher publishes submission events to NATS for consumption
// by the platform notifications service.
//
// Subject convention: <prefix>.<event_type>
// Event types: submission_created, submission_approved, submission_rejected
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt the
// approval engine.
type NotificationPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	log           zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	RecipientID  string                 `json:"recipient_id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS and returns a publisher. An
// empty URL yields a disabled publisher that drops events.
func NewNotificationPublisher(url, subjectPrefix string, log zerolog.Logger) (*NotificationPublisher, error) {
	p := &NotificationPublisher{subjectPrefix: subjectPrefix, log: log}
	if url == "" {
		log.Warn().Msg("notification: NATS URL not configured, events will be dropped")
		return p, nil
	}

	conn, err := nats.Connect(url, nats.Name("be-hr-approvals"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Close drains the underlying connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishSubmissionEvent publishes a submission lifecycle event.
// Subject: <prefix>.<eventType>
func (p *NotificationPublisher) PublishSubmissionEvent(ctx context.Context, eventType string, event approval.DecisionEvent) {
	if p.conn == nil {
		return
	}

	msg := &NotificationEvent{
		EventType:    eventType,
		RecipientID:  event.RequesterID,
		ResourceType: "submission",
		ResourceID:   event.SubmissionID,
		Severity:     "info",
		Category:     "hr_approval",
		Payload: map[string]interface{}{
			"kind":       event.Kind,
			"status":     event.Status,
			"decision":   event.Decision,
			"level":      event.Level,
			"decided_by": event.DecidedBy,
		},
	}
	if event.Note != nil {
		msg.Payload["note"] = *event.Note
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("submission_id", event.SubmissionID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("submission_id", event.SubmissionID).
		Msg("notification: event published")
}
