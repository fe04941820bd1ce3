// Package eventbus fans out the hub's domain events (node upserts,
// new spectrograms, alerts, sync completion) to any number of
// subscribers — the live HTTP/WebSocket layer, the notifier, metrics —
// without ever letting a slow subscriber block a Store write.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/foresthq/guardian/internal/logging"
)

// Type names one of the bus's domain events.
type Type string

const (
	TypeNewNode              Type = "new_node"
	TypeNodeUpdate           Type = "node_update"
	TypeNewSpectrogram       Type = "new_spectrogram"
	TypeNewAlert             Type = "new_alert"
	TypeSpectrogramAnalyzed  Type = "spectrogram_analyzed"
	TypeSyncCompleted        Type = "sync_completed"
	TypeSessionAbandoned     Type = "session_abandoned"
	// TypeSubscriberLag is synthetic: emitted to every OTHER subscriber
	// when one subscriber's queue overflows, never to the overflowing
	// subscriber itself (that would just recurse into more drops).
	TypeSubscriberLag Type = "subscriber_lag"
)

// Event is one published item. Payload's concrete type depends on Type
// (e.g. a *store.Node for TypeNewNode); subscribers type-assert it.
type Event struct {
	Type    Type
	Payload any
}

// DefaultQueueCapacity bounds each subscriber's private queue.
const DefaultQueueCapacity = 256

// Subscription is a live registration returned by Subscribe. Call
// Unsubscribe to stop delivery and release its goroutine.
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	done    chan struct{}
}

// Dropped reports how many events this subscriber has lost to
// queue-overflow eviction since it subscribed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe stops delivery to this subscription and removes it from
// the bus. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Bus is the hub's central event fan-out point. The zero value is not
// usable; construct with New.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	queueCap  int
	log       *slog.Logger
}

// New constructs a Bus whose subscriber queues hold queueCapacity
// events before evicting the oldest (0 uses DefaultQueueCapacity).
func New(queueCapacity int) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		queueCap: queueCapacity,
		log:      logging.ForService("eventbus"),
	}
}

// Subscribe registers handler to receive events in publish order on a
// dedicated goroutine. The returned Subscription's queue holds up to
// the bus's configured capacity; on overflow the oldest queued event is
// dropped to admit the new one, and every other subscriber is notified
// via a TypeSubscriberLag event.
func (b *Bus) Subscribe(handler func(Event)) *Subscription {
	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		id:   b.nextID,
		bus:  b,
		ch:   make(chan Event, b.queueCap),
		done: make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish delivers event to every current subscriber. It never blocks
// on a slow subscriber: an overflowing queue drops its oldest entry to
// make room, per spec.md §4.I.
func (b *Bus) Publish(event Event) {
	b.publish(event, true)
}

// publish is Publish's internal form; notifyOnDrop is false when
// emitting the synthetic TypeSubscriberLag event itself, so an
// overflowing lag notification cannot recursively generate more lag
// notifications.
func (b *Bus) publish(event Event, notifyOnDrop bool) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event, notifyOnDrop)
	}
}

func (b *Bus) deliver(sub *Subscription, event Event, notifyOnDrop bool) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Queue full: drop the oldest to make room for this event.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- event:
	default:
		// Another publisher raced us and refilled the queue; the event
		// is lost rather than blocking the writer, which is the
		// invariant §4.I actually requires.
		sub.dropped.Add(1)
	}

	if notifyOnDrop {
		b.log.Warn("subscriber queue overflow, dropped oldest event", "dropped_total", sub.dropped.Load())
		b.notifyLag(sub)
	}
}

func (b *Bus) notifyLag(overflowing *Subscription) {
	b.mu.RLock()
	others := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.id != overflowing.id {
			others = append(others, sub)
		}
	}
	b.mu.RUnlock()

	lag := Event{Type: TypeSubscriberLag, Payload: SubscriberLag{Dropped: overflowing.dropped.Load()}}
	for _, sub := range others {
		b.deliver(sub, lag, false)
	}
}

// SubscriberLag is TypeSubscriberLag's payload.
type SubscriberLag struct {
	Dropped uint64
}

// SubscriberCount reports how many subscriptions are currently active,
// for metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
