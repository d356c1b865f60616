package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
)

// MemoryEventBus implements EventBus for a single process. Subjects follow
// NATS conventions: dot-separated tokens where * matches exactly one token
// and a trailing > matches one or more remaining tokens.
//
// Handlers run synchronously on the publishing goroutine so subscribers
// observe events in publish order.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	queues map[string]*queueGroup
	logger *logger.Logger
	closed bool
}

// memorySubscription represents an in-memory subscription
type memorySubscription struct {
	bus     *MemoryEventBus
	pattern string
	queue   string // empty for regular subscriptions
	handler EventHandler

	mu     sync.Mutex
	active bool
}

// queueGroup tracks round-robin delivery for one queue/pattern pair
type queueGroup struct {
	mu          sync.Mutex
	subscribers []*memorySubscription
	nextIndex   int
}

// NewMemoryEventBus creates a new in-memory event bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		queues: make(map[string]*queueGroup),
		logger: log,
	}
}

// Publish sends an event to all matching subscribers
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}

	var targets []*memorySubscription
	deliveredQueues := make(map[string]bool)

	for _, sub := range b.subs {
		if !sub.isActive() || !matchSubject(sub.pattern, subject) {
			continue
		}
		if sub.queue == "" {
			targets = append(targets, sub)
			continue
		}
		// One delivery per queue group, round-robin across its members.
		queueKey := sub.queue + ":" + sub.pattern
		if deliveredQueues[queueKey] {
			continue
		}
		deliveredQueues[queueKey] = true
		if member := b.queues[queueKey].next(); member != nil {
			targets = append(targets, member)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("Event handler error",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Subscribe creates a subscription to a subject pattern
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe creates a queue subscription for load balancing.
// Only one subscriber in the queue group receives each message.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryEventBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: subject,
		queue:   queue,
		handler: handler,
		active:  true,
	}
	b.subs = append(b.subs, sub)

	if queue != "" {
		queueKey := queue + ":" + subject
		qg, ok := b.queues[queueKey]
		if !ok {
			qg = &queueGroup{}
			b.queues[queueKey] = qg
		}
		qg.mu.Lock()
		qg.subscribers = append(qg.subscribers, sub)
		qg.mu.Unlock()

		b.logger.Debug("Queue subscribed to subject",
			zap.String("subject", subject),
			zap.String("queue", queue))
	} else {
		b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	}

	return sub, nil
}

// Request sends a request and waits for a response.
// The responder publishes its reply to the subject named in the
// "_reply" field of the request data.
func (b *MemoryEventBus) Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error) {
	replySubject := fmt.Sprintf("_INBOX.%s", event.ID)

	responseChan := make(chan *Event, 1)
	sub, err := b.Subscribe(replySubject, func(ctx context.Context, e *Event) error {
		select {
		case responseChan <- e:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reply subscription: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	if event.Data == nil {
		event.Data = make(map[string]interface{})
	}
	event.Data["_reply"] = replySubject

	if err := b.Publish(ctx, subject, event); err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case response := <-responseChan:
		return response, nil
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("request timeout after %v", timeout)
	}
}

// Close closes the event bus
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.deactivate()
	}
	b.subs = nil
	b.queues = make(map[string]*queueGroup)

	b.logger.Info("Memory event bus closed")
}

// IsConnected returns true until the bus is closed
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Unsubscribe removes the subscription
func (s *memorySubscription) Unsubscribe() error {
	s.deactivate()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}

	if s.queue != "" {
		queueKey := s.queue + ":" + s.pattern
		if qg, ok := s.bus.queues[queueKey]; ok {
			qg.mu.Lock()
			for i, sub := range qg.subscribers {
				if sub == s {
					qg.subscribers = append(qg.subscribers[:i], qg.subscribers[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}

	return nil
}

// IsValid returns whether the subscription is still active
func (s *memorySubscription) IsValid() bool {
	return s.isActive()
}

func (s *memorySubscription) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySubscription) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// next picks the next active member round-robin, or nil when the group is empty.
func (g *queueGroup) next() *memorySubscription {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < len(g.subscribers); i++ {
		idx := (g.nextIndex + i) % len(g.subscribers)
		if sub := g.subscribers[idx]; sub.isActive() {
			g.nextIndex = (idx + 1) % len(g.subscribers)
			return sub
		}
	}
	return nil
}

// matchSubject reports whether a concrete subject matches a pattern,
// walking the dot-separated tokens of both.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			// > must be the last pattern token and matches one or more
			// remaining subject tokens.
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(st) == len(pt)
}
