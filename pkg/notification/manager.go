// Package notification keeps the wallet subscribed to the node's notification
// stream for every known microchain and feeds the events to the topic registry.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

// Source resolves what the manager must be subscribed to
type Source interface {
	SubscriptionEndpoint(ctx context.Context) (string, error)
	Microchains(ctx context.Context) ([]string, error)
}

// Dispatcher receives every notification event
type Dispatcher interface {
	Handle(event subscription.Event)
}

// StreamClient is a lazy, reconnecting GraphQL subscription client
type StreamClient interface {
	Subscribe(req *client.Request, handler client.Handler, ended client.EndHandler) (func(), error)
	Close() error
}

// ClientFactory creates the stream client for an endpoint
type ClientFactory func(endpoint string) (StreamClient, error)

// Relay republishes notification events outside the process
type Relay interface {
	Publish(ctx context.Context, event subscription.Event) error
}

// DefaultClientFactory creates client.StreamClient instances
func DefaultClientFactory(minBackoff, maxBackoff time.Duration, log *zap.Logger) ClientFactory {
	return func(endpoint string) (StreamClient, error) {
		return client.NewStreamClient(&client.StreamConfig{
			Endpoint:   endpoint,
			MinBackoff: minBackoff,
			MaxBackoff: maxBackoff,
			Logger:     log,
		})
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithInterval sets the reconciliation period
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithClientFactory replaces the stream client constructor
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

// WithRelay adds a relay every event is published to
func WithRelay(r Relay) Option {
	return func(m *Manager) { m.relays = append(m.relays, r) }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager reconciles the per-chain notification subscriptions
type Manager struct {
	source     Source
	dispatcher Dispatcher
	newClient  ClientFactory
	relays     []Relay
	interval   time.Duration
	logger     *zap.Logger
	metrics    *Metrics

	// Written by the reconcile loop only; mu lets accessors read a snapshot
	mu         sync.RWMutex
	endpoint   string
	client     StreamClient
	subscribed map[string]*chainSubscription
}

// chainSubscription is the live subscription of one chain. lost is set from
// the stream client when the node ends it; the loop then subscribes again.
type chainSubscription struct {
	stop func()
	lost atomic.Bool
}

// NewManager creates a manager
func NewManager(source Source, dispatcher Dispatcher, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}

	m := &Manager{
		source:     source,
		dispatcher: dispatcher,
		interval:   constants.DefaultReconcileInterval,
		subscribed: make(map[string]*chainSubscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.WithComponent(logger.OrNop(m.logger), "notification")
	if m.newClient == nil {
		m.newClient = DefaultClientFactory(constants.DefaultReconnectMinBackoff, constants.DefaultReconnectMaxBackoff, m.logger)
	}
	if m.interval <= 0 {
		m.interval = constants.DefaultReconcileInterval
	}
	return m, nil
}

// Run reconciles immediately and then on every interval until ctx is done.
// Every subscription and the stream client are released on return.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.teardown()

	m.logger.Info("notification manager started", zap.Duration("interval", m.interval))
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("notification manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if err := m.reconcile(ctx); err != nil {
		m.metrics.recordTickFailure()
		m.logger.Warn("notification reconcile failed", zap.Error(err))
	}
}

// reconcile brings the subscriptions in line with the current endpoint and
// microchains. Chains that disappeared stay subscribed until the endpoint changes.
func (m *Manager) reconcile(ctx context.Context) error {
	endpoint, err := m.source.SubscriptionEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve subscription endpoint: %w", err)
	}
	if endpoint == "" {
		return nil
	}

	if endpoint != m.currentEndpoint() {
		if err := m.rebuild(endpoint); err != nil {
			return err
		}
	}

	chains, err := m.source.Microchains(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve microchains: %w", err)
	}

	for _, chain := range chains {
		if cs, ok := m.subscription(chain); ok {
			if !cs.lost.Load() {
				continue
			}
			m.drop(chain, cs)
		}

		cs := &chainSubscription{}
		stop, err := m.client.Subscribe(&client.Request{
			Query:     constants.NotificationsSubscription,
			Variables: map[string]any{"chainId": chain},
		}, m.onData(chain), m.onEnded(chain, cs))
		if err != nil {
			m.logger.Warn("failed to subscribe chain notifications",
				zap.String("chain_id", chain),
				zap.Error(err),
			)
			continue
		}
		cs.stop = stop

		m.mu.Lock()
		m.subscribed[chain] = cs
		count := len(m.subscribed)
		m.mu.Unlock()
		m.metrics.setChains(count)

		m.logger.Debug("chain notifications subscribed", zap.String("chain_id", chain))
		m.dispatch(initializedEvent(chain))
	}
	return nil
}

// rebuild drops every subscription and the client of the previous endpoint
func (m *Manager) rebuild(endpoint string) error {
	m.teardown()

	c, err := m.newClient(endpoint)
	if err != nil {
		return fmt.Errorf("failed to create stream client for %s: %w", endpoint, err)
	}

	m.mu.Lock()
	m.client = c
	m.endpoint = endpoint
	m.mu.Unlock()

	m.metrics.recordRebuild()
	m.logger.Info("notification endpoint changed", zap.String("endpoint", endpoint))
	return nil
}

func (m *Manager) teardown() {
	m.mu.Lock()
	subscribed := m.subscribed
	c := m.client
	m.subscribed = make(map[string]*chainSubscription)
	m.client = nil
	m.endpoint = ""
	m.mu.Unlock()

	for _, cs := range subscribed {
		cs.stop()
	}
	if c != nil {
		if err := c.Close(); err != nil {
			m.logger.Warn("failed to close stream client", zap.Error(err))
		}
	}
	m.metrics.setChains(0)
}

// drop forgets a chain whose subscription the node ended
func (m *Manager) drop(chain string, cs *chainSubscription) {
	m.mu.Lock()
	if m.subscribed[chain] == cs {
		delete(m.subscribed, chain)
	}
	count := len(m.subscribed)
	m.mu.Unlock()
	m.metrics.setChains(count)
	cs.stop()
}

// onEnded marks cs lost. It runs on the stream client's goroutine, so the
// subscribed set is left to the loop.
func (m *Manager) onEnded(chain string, cs *chainSubscription) client.EndHandler {
	return func(err error) {
		cs.lost.Store(true)
		m.metrics.recordLost()
		m.logger.Warn("chain notifications lost, resubscribing",
			zap.String("chain_id", chain),
			zap.Error(err),
		)
	}
}

func (m *Manager) onData(chain string) client.Handler {
	return func(data json.RawMessage) {
		event, err := parseEvent(data, chain)
		if err != nil {
			m.metrics.recordMalformed()
			m.logger.Warn("malformed notification",
				zap.String("chain_id", chain),
				zap.Error(err),
			)
			return
		}
		m.dispatch(event)
	}
}

// dispatch hands event to the registry and the relays. A failing consumer
// never reaches the stream client.
func (m *Manager) dispatch(event subscription.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification dispatch panicked",
				zap.String("topic", event.Topic),
				zap.String("chain_id", event.ChainID),
				zap.Any("panic", r),
			)
		}
	}()

	m.metrics.recordEvent(event.Topic)
	m.dispatcher.Handle(event)

	for _, relay := range m.relays {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		err := relay.Publish(ctx, event)
		cancel()
		if err != nil {
			m.logger.Warn("failed to relay notification",
				zap.String("topic", event.Topic),
				zap.Error(err),
			)
		}
	}
}

// Endpoint returns the endpoint the manager is subscribed through
func (m *Manager) Endpoint() string {
	return m.currentEndpoint()
}

// Chains returns the subscribed microchains in lexical order
func (m *Manager) Chains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chains := make([]string, 0, len(m.subscribed))
	for chain := range m.subscribed {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

func (m *Manager) currentEndpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

func (m *Manager) subscription(chain string) (*chainSubscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.subscribed[chain]
	return cs, ok
}

const relayTimeout = 2 * time.Second

type notificationData struct {
	Notifications *struct {
		ChainID string                     `json:"chain_id"`
		Reason  map[string]json.RawMessage `json:"reason"`
	} `json:"notifications"`
}

// parseEvent turns a notifications result into an event. The topic is the
// variant name of the notification reason, e.g. NewBlock.
func parseEvent(data json.RawMessage, chain string) (subscription.Event, error) {
	var n notificationData
	if err := json.Unmarshal(data, &n); err != nil {
		return subscription.Event{}, err
	}
	if n.Notifications == nil {
		return subscription.Event{}, fmt.Errorf("missing notifications field")
	}
	if len(n.Notifications.Reason) == 0 {
		return subscription.Event{}, fmt.Errorf("missing notification reason")
	}

	topics := make([]string, 0, len(n.Notifications.Reason))
	for topic := range n.Notifications.Reason {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	chainID := n.Notifications.ChainID
	if chainID == "" {
		chainID = chain
	}
	return subscription.Event{Topic: topics[0], ChainID: chainID, Payload: data}, nil
}

func initializedEvent(chain string) subscription.Event {
	payload, _ := json.Marshal(map[string]string{
		"topic":      constants.TopicInitialized,
		"microchain": chain,
	})
	return subscription.Event{Topic: constants.TopicInitialized, ChainID: chain, Payload: payload}
}
