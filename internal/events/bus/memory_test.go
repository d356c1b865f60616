package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideate/ideate/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	b := NewMemoryEventBus(log)
	t.Cleanup(b.Close)
	return b
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := newTestBus(t)
	require.True(t, b.IsConnected())

	var got *Event
	sub, err := b.Subscribe("question.answered.q_ab12cd34", func(_ context.Context, e *Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	sent := NewEvent("question.answered", "session-store", map[string]interface{}{
		"question_id": "q_ab12cd34",
	})
	require.NoError(t, b.Publish(context.Background(), "question.answered.q_ab12cd34", sent))

	// Delivery is synchronous, so the handler has already run.
	require.NotNil(t, got)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "question.answered", got.Type)
	assert.Equal(t, "q_ab12cd34", got.StringData("question_id"))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newTestBus(t)

	var count int32
	for i := 0; i < 3; i++ {
		_, err := b.Subscribe("session.ended.ses_xyz", func(_ context.Context, _ *Event) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), "session.ended.ses_xyz", NewEvent("session.ended", "test", nil)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var count int32
	sub, err := b.Subscribe("session.started.ses_abc", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "session.started.ses_abc", NewEvent("session.started", "test", nil)))
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Publish(ctx, "session.started.ses_abc", NewEvent("session.started", "test", nil)))

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := newTestBus(t)

	var fired int32
	_, err := b.Subscribe("branch.completed.ses_a", func(_ context.Context, _ *Event) error {
		return errors.New("handler exploded")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("branch.completed.ses_a", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "branch.completed.ses_a", NewEvent("branch.completed", "test", nil)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"question.answered.q_1", "question.answered.q_1", true},
		{"question.answered.q_1", "question.answered.q_2", false},
		{"question.answered.*", "question.answered.q_1", true},
		{"question.answered.*", "question.answered", false},
		{"question.answered.*", "question.answered.q_1.extra", false},
		{"question.*.q_1", "question.answered.q_1", true},
		{"question.*.q_1", "question.q_1", false},
		{"brainstorm.>", "brainstorm.created", true},
		{"brainstorm.>", "brainstorm.completed.ses_abc12345", true},
		{"brainstorm.>", "brainstorm", false},
		{">", "anything.at.all", true},
		{"session.>.deep", "session.a.deep", false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.match, matchSubject(tt.pattern, tt.subject),
			"pattern %q vs subject %q", tt.pattern, tt.subject)
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var count int32
	_, err := b.Subscribe("question.answered.*", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "question.answered.q_11111111", NewEvent("question.answered", "test", nil)))
	require.NoError(t, b.Publish(ctx, "question.answered.q_22222222", NewEvent("question.answered", "test", nil)))
	require.NoError(t, b.Publish(ctx, "question.cancelled.q_33333333", NewEvent("question.cancelled", "test", nil)))

	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestQueueGroupRoundRobin(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	perMember := make([]int, 3)
	for i := 0; i < 3; i++ {
		idx := i
		_, err := b.QueueSubscribe("session.started.*", "digest-workers", func(_ context.Context, _ *Event) error {
			mu.Lock()
			perMember[idx]++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Publish(ctx, "session.started.ses_round", NewEvent("session.started", "test", nil)))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 2, 2}, perMember, "each event lands on exactly one member, in turn")
}

func TestConcurrentPublishers(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var received int32
	_, err := b.Subscribe("question.answered.*", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})
	require.NoError(t, err)

	const goroutines, perGoroutine = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_ = b.Publish(ctx, "question.answered.q_stress", NewEvent("question.answered", "test", nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(goroutines*perGoroutine), atomic.LoadInt32(&received))
}

func TestClosedBusRejectsTraffic(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	b := NewMemoryEventBus(log)

	require.True(t, b.IsConnected())
	b.Close()
	assert.False(t, b.IsConnected())

	assert.Error(t, b.Publish(context.Background(), "session.started.ses_x", NewEvent("session.started", "test", nil)))
	_, err = b.Subscribe("session.started.ses_x", func(_ context.Context, _ *Event) error { return nil })
	assert.Error(t, err)
}

func TestRequestReply(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Subscribe("archive.lookup", func(ctx context.Context, e *Event) error {
		reply := e.StringData("_reply")
		if reply == "" {
			return nil
		}
		return b.Publish(ctx, reply, NewEvent("archive.lookup.result", "archive", map[string]interface{}{
			"request": e.StringData("request"),
		}))
	})
	require.NoError(t, err)

	res, err := b.Request(ctx, "archive.lookup",
		NewEvent("archive.lookup", "tools", map[string]interface{}{"request": "healthcheck"}),
		2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "healthcheck", res.StringData("request"))
}

func TestRequestTimesOutWithoutResponder(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Request(context.Background(), "archive.nobody",
		NewEvent("archive.lookup", "tools", nil), 100*time.Millisecond)
	require.Error(t, err)
}

func TestNewEventStampsFields(t *testing.T) {
	before := time.Now().UTC()
	e := NewEvent("question.answered", "session-store", map[string]interface{}{"question_id": "q_12345678"})
	after := time.Now().UTC()

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "question.answered", e.Type)
	assert.Equal(t, "session-store", e.Source)
	assert.Equal(t, "q_12345678", e.StringData("question_id"))
	assert.Equal(t, "", e.StringData("missing"))
	assert.Equal(t, "", (&Event{}).StringData("question_id"))
	assert.False(t, e.Timestamp.Before(before))
	assert.False(t, e.Timestamp.After(after))
}

// Handlers run on the publishing goroutine, so a subscriber watching answer
// events sees them in the order they were published.
func TestDeliveryPreservesPublishOrder(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var order []int
	_, err := b.Subscribe("question.answered.q_seq", func(_ context.Context, e *Event) error {
		order = append(order, e.Data["seq"].(int))
		return nil
	})
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, "question.answered.q_seq",
			NewEvent("question.answered", "test", map[string]interface{}{"seq": i})))
	}

	require.Len(t, order, n)
	for i, seq := range order {
		require.Equal(t, i, seq, "event %d delivered out of order", i)
	}
}
