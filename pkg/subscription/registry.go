package subscription

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionID is a unique identifier for a subscription
type SubscriptionID string

// Event is a notification dispatched to topic subscribers
type Event struct {
	// Topic is matched exactly against subscriber topic sets
	Topic string `json:"topic"`

	// ChainID is the microchain the event belongs to
	ChainID string `json:"chainId"`

	// Payload is the event body as delivered to pages
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Callback receives events matching a subscription. It runs on the
// dispatching goroutine and must not block.
type Callback func(id SubscriptionID, event Event)

// SubscriptionStats tracks statistics for a subscription
type SubscriptionStats struct {
	// EventsReceived is the total number of events delivered to the callback
	EventsReceived atomic.Uint64

	// CallbackPanics is the number of deliveries that panicked
	CallbackPanics atomic.Uint64

	// LastEventTime is the timestamp of the last delivery
	LastEventTime atomic.Int64 // Unix timestamp in nanoseconds

	CreatedAt time.Time
}

// Subscription is a topic filter with its callback
type Subscription struct {
	ID     SubscriptionID
	Topics map[string]struct{}
	Stats  SubscriptionStats

	callback Callback
}

// Matches reports whether the subscription wants events of topic
func (s *Subscription) Matches(topic string) bool {
	_, ok := s.Topics[topic]
	return ok
}

// Registry maps subscription ids to topic filters and callbacks.
// Subscribe and Unsubscribe may race freely with Handle.
type Registry struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	stats struct {
		totalEvents     atomic.Uint64
		totalDeliveries atomic.Uint64
		unmatchedEvents atomic.Uint64
	}

	metrics *Metrics
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		subscribers: make(map[SubscriptionID]*Subscription),
		logger:      logger,
	}
}

// SetMetrics enables Prometheus metrics for the registry
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Subscribe registers callback for the given topics and returns a fresh id
func (r *Registry) Subscribe(topics []string, callback Callback) SubscriptionID {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	sub := &Subscription{
		ID:       SubscriptionID(uuid.NewString()),
		Topics:   set,
		callback: callback,
	}
	sub.Stats.CreatedAt = time.Now()

	r.mu.Lock()
	r.subscribers[sub.ID] = sub
	count := len(r.subscribers)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSubscribe(count)
	}
	r.logger.Debug("subscription added",
		zap.String("subscription_id", string(sub.ID)),
		zap.Strings("topics", topics),
	)
	return sub.ID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id SubscriptionID) {
	r.mu.Lock()
	_, ok := r.subscribers[id]
	delete(r.subscribers, id)
	count := len(r.subscribers)
	r.mu.Unlock()

	if !ok {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordUnsubscribe(count)
	}
	r.logger.Debug("subscription removed", zap.String("subscription_id", string(id)))
}

// Handle delivers event to every subscription whose topic set contains event.Topic.
// Callbacks run outside the registry lock; a panicking callback is logged and
// does not affect the others.
func (r *Registry) Handle(event Event) {
	start := time.Now()
	r.stats.totalEvents.Add(1)

	r.mu.RLock()
	matched := make([]*Subscription, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		if sub.Matches(event.Topic) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		r.stats.unmatchedEvents.Add(1)
	}

	delivered := 0
	for _, sub := range matched {
		if r.deliver(sub, event) {
			delivered++
		}
	}
	r.stats.totalDeliveries.Add(uint64(delivered))

	if r.metrics != nil {
		r.metrics.RecordHandled(event.Topic, delivered, time.Since(start))
	}
}

func (r *Registry) deliver(sub *Subscription, event Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			sub.Stats.CallbackPanics.Add(1)
			if r.metrics != nil {
				r.metrics.CallbackPanicsTotal.Inc()
			}
			r.logger.Error("subscription callback panicked",
				zap.String("subscription_id", string(sub.ID)),
				zap.String("topic", event.Topic),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()

	sub.callback(sub.ID, event)
	sub.Stats.EventsReceived.Add(1)
	sub.Stats.LastEventTime.Store(time.Now().UnixNano())
	return true
}

// Count returns the number of active subscriptions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// SubscriberInfo describes one subscription
type SubscriberInfo struct {
	ID             SubscriptionID `json:"id"`
	Topics         []string       `json:"topics"`
	EventsReceived uint64         `json:"eventsReceived"`
	CallbackPanics uint64         `json:"callbackPanics"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// GetSubscriberInfo returns information about a subscription
func (r *Registry) GetSubscriberInfo(id SubscriptionID) (SubscriberInfo, bool) {
	r.mu.RLock()
	sub, ok := r.subscribers[id]
	r.mu.RUnlock()
	if !ok {
		return SubscriberInfo{}, false
	}

	topics := make([]string, 0, len(sub.Topics))
	for t := range sub.Topics {
		topics = append(topics, t)
	}
	return SubscriberInfo{
		ID:             sub.ID,
		Topics:         topics,
		EventsReceived: sub.Stats.EventsReceived.Load(),
		CallbackPanics: sub.Stats.CallbackPanics.Load(),
		CreatedAt:      sub.Stats.CreatedAt,
	}, true
}

// Stats returns registry-wide counters: handled events, deliveries and events nobody matched
func (r *Registry) Stats() (events, deliveries, unmatched uint64) {
	return r.stats.totalEvents.Load(), r.stats.totalDeliveries.Load(), r.stats.unmatchedEvents.Load()
}
