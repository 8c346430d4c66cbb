package service

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/client"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
)

// SideEffectDispatcher hands notification events off to a bounded queue
// drained by a single background worker, so the decision transaction's
// success is never coupled to notification delivery. When the queue is full
// the event is dropped with a warning; delivery is best effort.
type SideEffectDispatcher struct {
	notifier client.Notifier
	queue    chan dispatchTask
	wg       sync.WaitGroup
	log      *logger.Logger

	mu     sync.Mutex
	closed bool
}

type dispatchTask struct {
	eventType string
	event     approval.DecisionEvent
}

// publishTimeout bounds a single notification publish.
const publishTimeout = 5 * time.Second

// NewSideEffectDispatcher starts the worker goroutine.
func NewSideEffectDispatcher(notifier client.Notifier, queueSize int, log *logger.Logger) *SideEffectDispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &SideEffectDispatcher{
		notifier: notifier,
		queue:    make(chan dispatchTask, queueSize),
		log:      log,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *SideEffectDispatcher) run() {
	defer d.wg.Done()
	for task := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		d.notifier.PublishSubmissionEvent(ctx, task.eventType, task.event)
		cancel()
	}
}

// Enqueue hands an event to the worker without blocking the caller.
func (d *SideEffectDispatcher) Enqueue(eventType string, event approval.DecisionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- dispatchTask{eventType: eventType, event: event}:
	default:
		d.log.Warn().
			Str("event_type", eventType).
			Str("submission_id", event.SubmissionID).
			Msg("dispatch queue full, dropping notification event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *SideEffectDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
