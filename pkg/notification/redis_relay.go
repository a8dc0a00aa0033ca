package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/config"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

var (
	// ErrInvalidRelayConfig is returned for an unusable relay configuration
	ErrInvalidRelayConfig = errors.New("invalid relay configuration")

	// ErrRelayNotConnected is returned when publishing before Connect
	ErrRelayNotConnected = errors.New("relay not connected")
)

// RelayMessage is the JSON published for every notification
type RelayMessage struct {
	Topic   string          `json:"topic"`
	ChainID string          `json:"chainId"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay publishes notification events to Redis Pub/Sub on
// "<prefix>:<topic>" channels
type RedisRelay struct {
	client        *redis.Client
	channelPrefix string
	logger        *zap.Logger

	connected atomic.Bool
	stats     struct {
		published atomic.Uint64
		errors    atomic.Uint64
	}
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay creates a relay. No connection is made until Connect.
func NewRedisRelay(cfg *config.RedisConfig, log *zap.Logger) (*RedisRelay, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("%w: no Redis address configured", ErrInvalidRelayConfig)
	}

	return &RedisRelay{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		}),
		channelPrefix: cfg.ChannelPrefix,
		logger:        logger.WithComponent(logger.OrNop(log), "redis-relay"),
	}, nil
}

// Connect checks that Redis is reachable
func (r *RedisRelay) Connect(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	r.connected.Store(true)
	r.logger.Info("connected to Redis", zap.String("addr", r.client.Options().Addr))
	return nil
}

// Publish sends event to the channel of its topic
func (r *RedisRelay) Publish(ctx context.Context, event subscription.Event) error {
	if !r.connected.Load() {
		return ErrRelayNotConnected
	}

	data, err := json.Marshal(&RelayMessage{Topic: event.Topic, ChainID: event.ChainID, Payload: event.Payload})
	if err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := r.client.Publish(ctx, r.Channel(event.Topic), data).Err(); err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	r.stats.published.Add(1)
	return nil
}

// Channel returns the Redis channel of a topic
func (r *RedisRelay) Channel(topic string) string {
	if r.channelPrefix == "" {
		return topic
	}
	return r.channelPrefix + ":" + topic
}

// Stats returns the number of published notifications and failures
func (r *RedisRelay) Stats() (published, failed uint64) {
	return r.stats.published.Load(), r.stats.errors.Load()
}

// Close disconnects from Redis
func (r *RedisRelay) Close() error {
	r.connected.Store(false)
	return r.client.Close()
}
