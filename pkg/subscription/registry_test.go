package subscription

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	ids    []SubscriptionID
}

func (r *recorder) callback(id SubscriptionID, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.ids = append(r.ids, id)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHandleMatchesTopic(t *testing.T) {
	reg := NewRegistry(nil)

	var blocks, messages recorder
	blockID := reg.Subscribe([]string{"NewBlock"}, blocks.callback)
	reg.Subscribe([]string{"NewIncomingBundle", "NewRound"}, messages.callback)

	payload := json.RawMessage(`{"height":1}`)
	reg.Handle(Event{Topic: "NewBlock", ChainID: "c1", Payload: payload})

	require.Equal(t, 1, blocks.count())
	assert.Equal(t, 0, messages.count())
	assert.Equal(t, blockID, blocks.ids[0])
	assert.Equal(t, "c1", blocks.events[0].ChainID)
	assert.JSONEq(t, `{"height":1}`, string(blocks.events[0].Payload))

	reg.Handle(Event{Topic: "NewRound", ChainID: "c1"})
	assert.Equal(t, 1, messages.count())

	reg.Handle(Event{Topic: "newblock"})
	assert.Equal(t, 1, blocks.count(), "topics match exactly")

	events, deliveries, unmatched := reg.Stats()
	assert.Equal(t, uint64(3), events)
	assert.Equal(t, uint64(2), deliveries)
	assert.Equal(t, uint64(1), unmatched)
}

func TestSubscribeReturnsDistinctIDs(t *testing.T) {
	reg := NewRegistry(nil)
	seen := make(map[SubscriptionID]bool)
	for i := 0; i < 100; i++ {
		id := reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {})
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 100, reg.Count())
}

func TestUnsubscribe(t *testing.T) {
	reg := NewRegistry(nil)

	var rec recorder
	id := reg.Subscribe([]string{"NewBlock"}, rec.callback)
	reg.Unsubscribe(id)
	reg.Unsubscribe(id)
	reg.Unsubscribe("unknown")

	reg.Handle(Event{Topic: "NewBlock"})
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, reg.Count())

	_, ok := reg.GetSubscriberInfo(id)
	assert.False(t, ok)
}

func TestEmptyTopicsNeverMatch(t *testing.T) {
	reg := NewRegistry(nil)

	var rec recorder
	reg.Subscribe(nil, rec.callback)
	reg.Handle(Event{Topic: ""})
	reg.Handle(Event{Topic: "NewBlock"})
	assert.Equal(t, 0, rec.count())
}

func TestCallbackPanicIsolated(t *testing.T) {
	reg := NewRegistry(nil)

	bad := reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {
		panic("boom")
	})
	var rec recorder
	reg.Subscribe([]string{"NewBlock"}, rec.callback)

	assert.NotPanics(t, func() {
		reg.Handle(Event{Topic: "NewBlock"})
	})
	assert.Equal(t, 1, rec.count())

	info, ok := reg.GetSubscriberInfo(bad)
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.CallbackPanics)
	assert.Equal(t, uint64(0), info.EventsReceived)
}

func TestUnsubscribeFromCallback(t *testing.T) {
	reg := NewRegistry(nil)

	var id SubscriptionID
	calls := 0
	id = reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {
		calls++
		reg.Unsubscribe(id)
	})

	reg.Handle(Event{Topic: "NewBlock"})
	reg.Handle(Event{Topic: "NewBlock"})
	assert.Equal(t, 1, calls)
}

func TestConcurrentSubscribeAndHandle(t *testing.T) {
	reg := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {})
				reg.Unsubscribe(id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg.Handle(Event{Topic: "NewBlock"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Count())
}

func TestRegistryMetrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg, "test")

	reg := NewRegistry(nil)
	reg.SetMetrics(metrics)

	id := reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {})
	reg.Subscribe([]string{"NewBlock"}, func(SubscriptionID, Event) {})
	reg.Handle(Event{Topic: "NewBlock"})
	reg.Unsubscribe(id)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SubscribersTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SubscriptionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UnsubscriptionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.EventsDeliveredTotal.WithLabelValues("NewBlock")))
}
