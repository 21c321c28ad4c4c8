package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/event"
)

var (
	ErrBusClosed    = errors.New("event bus closed")
	ErrUnknownTopic = errors.New("unknown topic")
	ErrNilHandler   = errors.New("handler is nil")
	ErrNilPayload   = errors.New("payload is nil")
)

// backoff is the retry schedule applied per subscriber per delivery.
var backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

const asyncQueueCap = 1024

// Handler consumes one payload. A non-nil error (or a panic) counts as a
// failed delivery attempt and triggers the bus retry schedule.
type Handler func(ctx context.Context, p event.Payload) error

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	topic event.Topic
	id    uint64
}

// Topic returns the topic the subscription is attached to.
func (s Subscription) Topic() event.Topic { return s.topic }

type subscriber struct {
	id      uint64
	handler Handler
	queue   chan event.Payload // non-nil for async subscribers
	stop    chan struct{}
}

type topicState struct {
	// deliverMu serializes deliveries so subscribers observe publishes for
	// one topic in the order Publish was called.
	deliverMu sync.Mutex
	subs      []*subscriber
}

// Bus is an in-process topic-based publish/subscribe hub.
//
// Delivery is at-least-once per subscriber: a failing handler is retried on
// the backoff schedule, then the event is logged and dropped for that
// subscriber only. One subscriber's failure never reaches the publisher or
// other subscribers. Consumers that need dedup must key on the payload's
// entity id plus session id, not on bus guarantees.
type Bus struct {
	clock  Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	topics map[event.Topic]*topicState
	nextID uint64

	closed atomic.Bool
}

// New creates an empty bus.
func New() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		clock:  realClock{},
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[event.Topic]*topicState),
	}
}

// WithClock swaps the clock implementation.
func (b *Bus) WithClock(clock Clock) *Bus {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// Subscribe registers a handler invoked inside Publish, in subscription order.
func (b *Bus) Subscribe(topic event.Topic, h Handler) (Subscription, error) {
	return b.subscribe(topic, h, false)
}

// SubscribeAsync registers a handler that consumes events on its own
// goroutine, outside the publisher's latency budget. Per-subscriber ordering
// and the retry schedule still apply; events queued at shutdown are abandoned.
func (b *Bus) SubscribeAsync(topic event.Topic, h Handler) (Subscription, error) {
	return b.subscribe(topic, h, true)
}

func (b *Bus) subscribe(topic event.Topic, h Handler, async bool) (Subscription, error) {
	if !topic.IsAvailable() {
		return Subscription{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if h == nil {
		return Subscription{}, ErrNilHandler
	}
	if b.closed.Load() {
		return Subscription{}, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &subscriber{id: b.nextID, handler: h, stop: make(chan struct{})}
	if async {
		s.queue = make(chan event.Payload, asyncQueueCap)
		go b.runAsync(s)
	}

	ts := b.topics[topic]
	if ts == nil {
		ts = &topicState{}
		b.topics[topic] = ts
	}
	ts.subs = append(ts.subs, s)
	return Subscription{topic: topic, id: s.id}, nil
}

// Unsubscribe removes a handler. When the topic has no remaining subscribers
// its entry is deleted entirely, so churned topics leave no residual state.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[sub.topic]
	if ts == nil {
		return
	}
	for i, s := range ts.subs {
		if s.id == sub.id {
			close(s.stop)
			ts.subs = append(ts.subs[:i], ts.subs[i+1:]...)
			break
		}
	}
	if len(ts.subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Publish delivers p to every current subscriber of its topic. Handler
// failures are retried and then dropped; they are never returned to the
// caller. The only errors Publish reports are payload validation errors.
func (b *Bus) Publish(ctx context.Context, p event.Payload) error {
	if p == nil {
		return ErrNilPayload
	}
	if !p.Topic().IsAvailable() {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, p.Topic())
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid %s payload: %w", p.Topic(), err)
	}

	b.mu.RLock()
	ts := b.topics[p.Topic()]
	var subs []*subscriber
	if ts != nil {
		subs = append(subs, ts.subs...)
	}
	b.mu.RUnlock()
	if ts == nil || len(subs) == 0 {
		return nil
	}

	ts.deliverMu.Lock()
	defer ts.deliverMu.Unlock()
	for _, s := range subs {
		if s.queue != nil {
			select {
			case s.queue <- p:
			case <-s.stop:
			case <-b.ctx.Done():
				return nil
			}
			continue
		}
		b.deliver(ctx, s, p)
	}
	return nil
}

// ListTopics reports the current subscriber count per topic.
func (b *Bus) ListTopics() map[event.Topic]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[event.Topic]int, len(b.topics))
	for topic, ts := range b.topics {
		out[topic] = len(ts.subs)
	}
	return out
}

// Shutdown clears all subscriptions. Idempotent; in-flight retries are
// abandoned at their next suspension point, not awaited.
func (b *Bus) Shutdown() {
	if b.closed.Swap(true) {
		return
	}
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ts := range b.topics {
		for _, s := range ts.subs {
			close(s.stop)
		}
	}
	b.topics = make(map[event.Topic]*topicState)
}

func (b *Bus) runAsync(s *subscriber) {
	for {
		select {
		case <-s.stop:
			return
		case <-b.ctx.Done():
			return
		case p := <-s.queue:
			b.deliver(b.ctx, s, p)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s *subscriber, p event.Payload) {
	var err error
	for attempt := range backoff {
		if err = b.invoke(ctx, s, p); err == nil {
			return
		}
		logs.Warnf("delivery attempt %d/%d failed on topic %s, err: %+v",
			attempt+1, len(backoff), p.Topic(), err)
		// Retry sleeps run against the bus lifetime so Shutdown abandons them.
		if b.clock.Sleep(b.ctx, backoff[attempt]) != nil {
			return
		}
	}
	logs.Errorf("dropping event on topic %s after %d attempts, err: %+v",
		p.Topic(), len(backoff), err)
}

func (b *Bus) invoke(ctx context.Context, s *subscriber, p event.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, p)
}
