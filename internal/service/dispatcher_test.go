package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
)

// blockingNotifier parks every publish until released, so tests can pin the
// worker and observe queue behavior deterministically.
type blockingNotifier struct {
	gate chan struct{}

	mu     sync.Mutex
	events []notified
}

func (b *blockingNotifier) PublishSubmissionEvent(ctx context.Context, eventType string, event approval.DecisionEvent) {
	<-b.gate
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, notified{eventType: eventType, event: event})
}

func TestDispatcher_DeliversQueuedEventsBeforeClose(t *testing.T) {
	log := &logger.Logger{Logger: zerolog.Nop()}
	notifier := &fakeNotifier{}
	d := NewSideEffectDispatcher(notifier, 16, log)

	for i := 0; i < 5; i++ {
		d.Enqueue("submission_approved", approval.DecisionEvent{
			SubmissionID: fmt.Sprintf("sub-%d", i),
		})
	}
	d.Close()

	events := notifier.all()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("sub-%d", i), e.event.SubmissionID)
	}
}

func TestDispatcher_EnqueueAfterCloseIsNoop(t *testing.T) {
	log := &logger.Logger{Logger: zerolog.Nop()}
	notifier := &fakeNotifier{}
	d := NewSideEffectDispatcher(notifier, 4, log)
	d.Close()

	assert.NotPanics(t, func() {
		d.Enqueue("submission_rejected", approval.DecisionEvent{SubmissionID: "sub-late"})
	})
	assert.Empty(t, notifier.all())
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	log := &logger.Logger{Logger: zerolog.Nop()}
	d := NewSideEffectDispatcher(&fakeNotifier{}, 4, log)

	d.Close()
	assert.NotPanics(t, d.Close)
}

func TestDispatcher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	log := &logger.Logger{Logger: zerolog.Nop()}
	notifier := &blockingNotifier{gate: make(chan struct{})}
	d := NewSideEffectDispatcher(notifier, 1, log)

	// First event occupies the worker, second fills the queue, the rest must
	// be dropped without blocking the caller.
	for i := 0; i < 6; i++ {
		d.Enqueue("submission_approved", approval.DecisionEvent{
			SubmissionID: fmt.Sprintf("sub-%d", i),
		})
	}

	close(notifier.gate)
	d.Close()

	notifier.mu.Lock()
	delivered := len(notifier.events)
	notifier.mu.Unlock()
	assert.GreaterOrEqual(t, delivered, 1)
	assert.LessOrEqual(t, delivered, 3)
}
