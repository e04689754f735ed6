// Package redis broadcasts registry refresh events over Redis pub/sub so that
// other processes sharing the registry store can reload their caches.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// DefaultChannel carries refresh events.
const DefaultChannel = "symreg:refresh"

// ErrBreakerOpen is returned when publishing is short-circuited.
var ErrBreakerOpen = errors.New("refresh publisher circuit open")

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string
	Breaker  BreakerConfig
}

// Notifier publishes and subscribes to refresh events.
type Notifier struct {
	client  *goredis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
}

var _ model.RefreshPublisher = (*Notifier)(nil)

// New creates a Notifier and pings the server.
func New(cfg Config, m *metrics.Metrics) (*Notifier, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s (channel=%s)", cfg.Addr, channelOrDefault(cfg.Channel))
	return NewWithClient(client, cfg.Channel, cfg.Breaker, m), nil
}

// NewWithClient wraps an existing client. A zero breaker config uses
// DefaultBreakerConfig.
func NewWithClient(client *goredis.Client, channel string, bc BreakerConfig, m *metrics.Metrics) *Notifier {
	if bc == (BreakerConfig{}) {
		bc = DefaultBreakerConfig()
	}
	channel = channelOrDefault(channel)
	return &Notifier{
		client:  client,
		channel: channel,
		cb:      newBreaker("redis-publish:"+channel, bc, m),
	}
}

func channelOrDefault(ch string) string {
	if ch == "" {
		return DefaultChannel
	}
	return ch
}

// Client returns the underlying Redis client for health checks.
func (n *Notifier) Client() *goredis.Client { return n.client }

// Channel returns the pub/sub channel name.
func (n *Notifier) Channel() string { return n.channel }

// State returns the publish breaker state.
func (n *Notifier) State() gobreaker.State { return n.cb.State() }

// PublishRefresh announces a completed refresh. Failures never affect the
// refresh itself; callers log them.
func (n *Notifier) PublishRefresh(ctx context.Context, ev model.RefreshEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal refresh event: %w", err)
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		return nil, n.client.Publish(ctx, n.channel, payload).Err()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", n.channel, err)
	}
	return nil
}

// Subscribe delivers refresh events to handle until ctx is cancelled.
// Malformed payloads are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context, handle func(context.Context, model.RefreshEvent)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", n.channel, err)
	}
	log.Printf("[redis] subscribed to %s", n.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.RefreshEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[redis] bad refresh event on %s: %v", msg.Channel, err)
				continue
			}
			handle(ctx, ev)
		}
	}
}

// Close closes the Redis client.
func (n *Notifier) Close() error {
	return n.client.Close()
}
