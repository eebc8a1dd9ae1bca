package shelf

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEventBus publishes engine events as JSON on a Redis channel so other
// processes can follow storage activity.
//
// Publishing is best effort: failures are logged and counted, never
// returned to the storage operation that emitted the event. A circuit
// breaker stops publishing after repeated failures.
//
// Message format:
//
//	{"name":"storage:saved","data":{"store":"characters","key":"c1","timestamp":1718000000000}}
type RedisEventBus struct {
	redis      *redis.Client
	channel    string
	timeout    time.Duration
	breaker    *CircuitBreaker
	logger     Logger
	metrics    Metrics
	ownsClient bool // If true, Close() will close the Redis client
}

// RedisEventMessage is the published payload.
type RedisEventMessage struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
}

// NewRedisEventBus creates a bus publishing to channel. A nil client
// disables publishing.
func NewRedisEventBus(client *redis.Client, channel string) *RedisEventBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &RedisEventBus{
		redis:   client,
		channel: channel,
		timeout: 2 * time.Second,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
}

// NewRedisEventBusWithOwnedClient creates a bus that closes client on Close.
func NewRedisEventBusWithOwnedClient(client *redis.Client, channel string) *RedisEventBus {
	b := NewRedisEventBus(client, channel)
	b.ownsClient = true
	return b
}

// WithLogger sets the logger for publish failures.
func (b *RedisEventBus) WithLogger(logger Logger) *RedisEventBus {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics sink for publish failures.
func (b *RedisEventBus) WithMetrics(metrics Metrics) *RedisEventBus {
	b.metrics = metrics
	return b
}

// WithBreaker replaces the default circuit breaker (5 failures, 30s).
func (b *RedisEventBus) WithBreaker(cb *CircuitBreaker) *RedisEventBus {
	b.breaker = cb
	return b
}

// Channel returns the channel events are published to.
func (b *RedisEventBus) Channel() string {
	return b.channel
}

// Emit publishes one event.
func (b *RedisEventBus) Emit(name string, data map[string]interface{}) {
	if b.redis == nil {
		return
	}

	payload, err := json.Marshal(RedisEventMessage{Name: name, Data: data})
	if err != nil {
		b.fail(name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	err = b.breaker.Execute(ctx, func() error {
		return b.redis.Publish(ctx, b.channel, payload).Err()
	})
	if err != nil {
		b.fail(name, err)
	}
}

func (b *RedisEventBus) fail(name string, err error) {
	b.metrics.Increment(MetricEventPublishError)
	b.logger.Warn("event publish failed",
		"event", name,
		"channel", b.channel,
		"error", err)
}

// Close releases resources held by the bus.
// If the bus owns the Redis client, it will be closed
func (b *RedisEventBus) Close() error {
	if b.ownsClient && b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
