package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

type fakeSource struct {
	mu          sync.Mutex
	endpoint    string
	chains      []string
	endpointErr error
	chainsErr   error
}

func (s *fakeSource) SubscriptionEndpoint(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.endpointErr
}

func (s *fakeSource) Microchains(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chains...), s.chainsErr
}

func (s *fakeSource) set(endpoint string, chains ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
	s.chains = chains
}

type fakeStream struct {
	endpoint string

	mu       sync.Mutex
	handlers map[string]client.Handler
	ended    map[string]client.EndHandler
	requests []*client.Request
	stopped  map[string]int
	closed   int
}

func (c *fakeStream) Subscribe(req *client.Request, handler client.Handler, ended client.EndHandler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chain := req.Variables["chainId"].(string)
	c.requests = append(c.requests, req)
	c.handlers[chain] = handler
	c.ended[chain] = ended
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopped[chain]++
	}, nil
}

func (c *fakeStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeStream) push(chain string, data string) {
	c.mu.Lock()
	h := c.handlers[chain]
	c.mu.Unlock()
	h(json.RawMessage(data))
}

func (c *fakeStream) end(chain string, err error) {
	c.mu.Lock()
	h := c.ended[chain]
	c.mu.Unlock()
	h(err)
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeStream
	err     error
}

func (f *fakeFactory) create(endpoint string) (StreamClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeStream{endpoint: endpoint, handlers: map[string]client.Handler{}, ended: map[string]client.EndHandler{}, stopped: map[string]int{}}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) created() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.clients...)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []subscription.Event
	panics bool
}

func (d *recordingDispatcher) Handle(event subscription.Event) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	if d.panics {
		panic("bad subscriber")
	}
}

func (d *recordingDispatcher) received() []subscription.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]subscription.Event(nil), d.events...)
}

type fakeRelay struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (r *fakeRelay) Publish(_ context.Context, event subscription.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, event.Topic)
	return r.err
}

func newTestManager(t *testing.T, source Source, dispatcher Dispatcher, factory *fakeFactory, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClientFactory(factory.create)}, opts...)
	m, err := NewManager(source, dispatcher, opts...)
	require.NoError(t, err)
	return m
}

func TestReconcileEndpointTransition(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, source, dispatcher, factory)

	source.set("ws://e1/ws", "A")
	require.NoError(t, m.reconcile(ctx))
	require.NoError(t, m.reconcile(ctx))

	clients := factory.created()
	require.Len(t, clients, 1, "one client for E1")
	assert.Len(t, clients[0].requests, 1, "A subscribed once on E1")

	source.set("ws://e2/ws", "A")
	require.NoError(t, m.reconcile(ctx))

	clients = factory.created()
	require.Len(t, clients, 2, "one new client for E2")
	assert.Equal(t, "ws://e2/ws", clients[1].endpoint)
	assert.Equal(t, 1, clients[0].stopped["A"], "A torn down once")
	assert.Equal(t, 1, clients[0].closed)
	assert.Len(t, clients[1].requests, 1, "A recreated once")
	assert.Equal(t, "ws://e2/ws", m.Endpoint())
	assert.Equal(t, []string{"A"}, m.Chains())

	var initialized int
	for _, e := range dispatcher.received() {
		if e.Topic == constants.TopicInitialized {
			initialized++
		}
	}
	assert.Equal(t, 2, initialized)
}

func TestReconcileSubscriptionRequest(t *testing.T) {
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, source, dispatcher, factory)

	source.set("ws://node/ws", "chain-a")
	require.NoError(t, m.reconcile(context.Background()))

	req := factory.created()[0].requests[0]
	assert.Equal(t, constants.NotificationsSubscription, req.Query)
	assert.Equal(t, map[string]any{"chainId": "chain-a"}, req.Variables)

	events := dispatcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, constants.TopicInitialized, events[0].Topic)
	assert.Equal(t, "chain-a", events[0].ChainID)
	assert.JSONEq(t, `{"topic":"Initialized","microchain":"chain-a"}`, string(events[0].Payload))
}

func TestReconcileSkipsEmptyEndpoint(t *testing.T) {
	source := &fakeSource{chains: []string{"A"}}
	factory := &fakeFactory{}
	m := newTestManager(t, source, &recordingDispatcher{}, factory)

	require.NoError(t, m.reconcile(context.Background()))
	assert.Empty(t, factory.created())
	assert.Empty(t, m.Chains())
}

func TestReconcileAddsNewChainsOnly(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	factory := &fakeFactory{}
	m := newTestManager(t, source, &recordingDispatcher{}, factory)

	source.set("ws://node/ws", "A")
	require.NoError(t, m.reconcile(ctx))
	source.set("ws://node/ws", "A", "B")
	require.NoError(t, m.reconcile(ctx))

	c := factory.created()[0]
	require.Len(t, c.requests, 2)
	assert.Equal(t, "B", c.requests[1].Variables["chainId"])

	// Removed chains stay subscribed
	source.set("ws://node/ws", "B")
	require.NoError(t, m.reconcile(ctx))
	assert.Equal(t, []string{"A", "B"}, m.Chains())
	assert.Zero(t, c.stopped["A"])
}

func TestReconcileErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store closed")

	t.Run("endpoint", func(t *testing.T) {
		factory := &fakeFactory{}
		m := newTestManager(t, &fakeSource{endpointErr: boom}, &recordingDispatcher{}, factory)
		assert.ErrorIs(t, m.reconcile(ctx), boom)
		assert.Empty(t, factory.created())
	})

	t.Run("microchains", func(t *testing.T) {
		factory := &fakeFactory{}
		m := newTestManager(t, &fakeSource{endpoint: "ws://node/ws", chainsErr: boom}, &recordingDispatcher{}, factory)
		assert.ErrorIs(t, m.reconcile(ctx), boom)
		assert.Len(t, factory.created(), 1)
	})

	t.Run("client", func(t *testing.T) {
		factory := &fakeFactory{err: boom}
		m := newTestManager(t, &fakeSource{endpoint: "ws://node/ws", chains: []string{"A"}}, &recordingDispatcher{}, factory)
		assert.ErrorIs(t, m.reconcile(ctx), boom)
		assert.Empty(t, m.Endpoint())
	})
}

func TestEventsReachDispatcherAndRelay(t *testing.T) {
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{}
	relay := &fakeRelay{}
	m := newTestManager(t, source, dispatcher, factory, WithRelay(relay))

	source.set("ws://node/ws", "A")
	require.NoError(t, m.reconcile(context.Background()))

	data := `{"notifications":{"chain_id":"A","reason":{"NewBlock":{"height":3,"hash":"h"}}}}`
	factory.created()[0].push("A", data)

	events := dispatcher.received()
	require.Len(t, events, 2)
	assert.Equal(t, "NewBlock", events[1].Topic)
	assert.Equal(t, "A", events[1].ChainID)
	assert.JSONEq(t, data, string(events[1].Payload))

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []string{constants.TopicInitialized, "NewBlock"}, relay.topics)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	m := newTestManager(t, source, dispatcher, factory, WithMetrics(metrics))

	source.set("ws://node/ws", "A")
	require.NoError(t, m.reconcile(context.Background()))

	stream := factory.created()[0]
	stream.push("A", `{"other":{}}`)
	stream.push("A", `{"notifications":{"chain_id":"A","reason":{}}}`)
	stream.push("A", `[1,2]`)

	assert.Len(t, dispatcher.received(), 1, "only the Initialized event")
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.MalformedEventsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ClientRebuildsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChainSubscriptions))
}

func TestDispatchPanicIsContained(t *testing.T) {
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{panics: true}
	m := newTestManager(t, source, dispatcher, factory)

	source.set("ws://node/ws", "A", "B")
	require.NoError(t, m.reconcile(context.Background()))
	assert.Equal(t, []string{"A", "B"}, m.Chains())

	assert.NotPanics(t, func() {
		factory.created()[0].push("A", `{"notifications":{"chain_id":"A","reason":{"NewBlock":{}}}}`)
	})
	assert.Len(t, dispatcher.received(), 3)
}

func TestParseEventFallsBackToSubscribedChain(t *testing.T) {
	event, err := parseEvent(json.RawMessage(`{"notifications":{"reason":{"NewIncomingBundle":{}}}}`), "A")
	require.NoError(t, err)
	assert.Equal(t, "NewIncomingBundle", event.Topic)
	assert.Equal(t, "A", event.ChainID)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	source.set("ws://node/ws", "A")
	factory := &fakeFactory{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	m := newTestManager(t, source, &recordingDispatcher{}, factory,
		WithInterval(10*time.Millisecond),
		WithMetrics(metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(m.Chains()) == 1 }, time.Second, 5*time.Millisecond)

	// A failing tick does not stop the loop
	source.mu.Lock()
	source.chainsErr = errors.New("transient")
	source.mu.Unlock()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TickFailuresTotal) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	c := factory.created()[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 1, c.stopped["A"])
	assert.Equal(t, 1, c.closed)
	assert.Empty(t, m.Chains())
}

func TestReconcileResubscribesLostChain(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	factory := &fakeFactory{}
	dispatcher := &recordingDispatcher{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	m := newTestManager(t, source, dispatcher, factory, WithMetrics(metrics))

	source.set("ws://e1/ws", "A", "B")
	require.NoError(t, m.reconcile(ctx))
	c := factory.created()[0]

	c.end("A", client.ErrSubscriptionEnded)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LostTotal))
	assert.ElementsMatch(t, []string{"A", "B"}, m.Chains(), "lost chain stays listed until the next tick")

	require.NoError(t, m.reconcile(ctx))

	c.mu.Lock()
	assert.Len(t, c.requests, 3, "only A subscribed again")
	assert.Equal(t, 1, c.stopped["A"])
	assert.Zero(t, c.stopped["B"])
	c.mu.Unlock()
	assert.ElementsMatch(t, []string{"A", "B"}, m.Chains())

	var initialized []string
	for _, event := range dispatcher.received() {
		if event.Topic == constants.TopicInitialized {
			initialized = append(initialized, event.ChainID)
		}
	}
	assert.ElementsMatch(t, []string{"A", "B", "A"}, initialized)

	// The new subscription is healthy again
	require.NoError(t, m.reconcile(ctx))
	c.mu.Lock()
	assert.Len(t, c.requests, 3)
	c.mu.Unlock()
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, &recordingDispatcher{})
	assert.Error(t, err)

	_, err = NewManager(&fakeSource{}, nil)
	assert.Error(t, err)

	m, err := NewManager(&fakeSource{}, &recordingDispatcher{}, WithInterval(-1))
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultReconcileInterval, m.interval)
}
