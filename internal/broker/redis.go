package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfabric/fabric/internal/observability"
)

// RedisGateway is the production Gateway backed by Redis pub/sub. Dropped
// connections are recovered by go-redis's own client, which redials with
// exponential backoff internally; this gateway observes that recovery
// through logging and the broker connection-error counter rather than
// implementing its own retry loop.
type RedisGateway struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *observability.MetricsManager

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// RedisOptions configures a RedisGateway connection, mirrored from
// AppConfig.RedisAddr / RedisPassword / RedisDB.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisGateway dials Redis and verifies connectivity with a ping.
// metrics may be nil in tests.
func NewRedisGateway(ctx context.Context, opts RedisOptions, logger *slog.Logger, metrics *observability.MetricsManager) (*RedisGateway, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker: ping redis at %s: %w", opts.Addr, err)
	}

	return &RedisGateway{
		client:  client,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*redis.PubSub),
	}, nil
}

func (g *RedisGateway) recordConnectionError(ctx context.Context) {
	if g.metrics == nil {
		return
	}
	g.metrics.IncrementBrokerConnectionErrors(ctx)
}

func (g *RedisGateway) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := g.client.Publish(ctx, channel, payload).Err(); err != nil {
		g.logger.ErrorContext(ctx, "broker publish failed", "channel", channel, "error", err)
		g.recordConnectionError(ctx)
		return fmt.Errorf("broker: publish to %s: %w", channel, err)
	}
	return nil
}

func (g *RedisGateway) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	pubsub := g.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		g.logger.ErrorContext(ctx, "broker subscribe failed", "channel", channel, "error", err)
		g.recordConnectionError(ctx)
		return nil, fmt.Errorf("broker: subscribe to %s: %w", channel, err)
	}

	g.mu.Lock()
	key := fmt.Sprintf("%s#%p", channel, pubsub)
	g.subs[key] = pubsub
	g.mu.Unlock()

	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					// go-redis closes this channel when the subscription's
					// connection is torn down and cannot be recovered
					// (e.g. Close was called, or the client gave up
					// reconnecting). Unsubscribe wasn't requested here if
					// done isn't also closed, so this is a connection loss.
					select {
					case <-done:
					default:
						g.logger.WarnContext(ctx, "broker subscription connection lost", "channel", channel)
						g.recordConnectionError(ctx)
					}
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		pubsub.Close()
		g.mu.Lock()
		delete(g.subs, key)
		g.mu.Unlock()
		g.logger.Debug("broker unsubscribed", "channel", channel)
	}
	return unsubscribe, nil
}

func (g *RedisGateway) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		g.logger.WarnContext(ctx, "broker ping failed", "error", err)
		g.recordConnectionError(ctx)
		return err
	}
	return nil
}

func (g *RedisGateway) Close() error {
	g.mu.Lock()
	for _, pubsub := range g.subs {
		pubsub.Close()
	}
	g.subs = make(map[string]*redis.PubSub)
	g.mu.Unlock()

	if err := g.client.Close(); err != nil {
		g.logger.Error("broker close failed", "error", err)
		return err
	}
	g.logger.Debug("broker connection closed")
	return nil
}
