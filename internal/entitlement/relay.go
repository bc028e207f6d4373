package entitlement

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const RelayChannel = "entitlement.changes"

// RedisRelay publishes to the local hub and to every other instance through
// Redis pub/sub. Events carry the publishing instance as Origin so an
// instance never re-delivers its own events.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	origin string
	log    *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *Hub, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
		log:    log.Named("entitlement.relay"),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event Event) {
	event.Origin = r.origin
	r.hub.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Warn("failed to encode entitlement event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		r.log.Warn("failed to relay entitlement event", zap.Error(err))
	}
}

// Start subscribes to the relay channel and forwards foreign events to the hub.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			r.deliver(msg.Payload)
		}
	}()

	r.log.Info("entitlement relay started", zap.String("channel", RelayChannel))
	return nil
}

func (r *RedisRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}

	err := pubsub.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (r *RedisRelay) deliver(payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.log.Warn("dropping malformed entitlement event", zap.Error(err))
		return
	}
	if event.Origin == r.origin {
		return
	}
	r.hub.Publish(context.Background(), event)
}
