package propagate

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis Pub/Sub channel shared by all instances.
const DefaultChannel = "jsoncache:updates"

// subscriberBuffer is the per-subscriber queue length.
const subscriberBuffer = 64

var (
	broadcastsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jsoncache_broadcasts_published_total",
		Help: "Total update messages published",
	})

	broadcastsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_broadcasts_received_total",
		Help: "Total update messages received by origin",
	}, []string{"origin"}) // "self", "peer"

	broadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jsoncache_broadcasts_dropped_total",
		Help: "Total messages dropped for slow or malformed subscribers",
	})
)

// Broadcaster delivers update messages to every instance sharing the channel,
// including the publisher.
type Broadcaster interface {
	Publish(ctx context.Context, msg message.Message) error

	// Subscribe returns a channel of messages that is closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan message.Message, error)
}

// RedisBroadcaster broadcasts over Redis Pub/Sub.
type RedisBroadcaster struct {
	redis   *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisBroadcaster creates a broadcaster on channel, DefaultChannel if empty.
func NewRedisBroadcaster(redisClient *redis.Client, channel string, logger zerolog.Logger) *RedisBroadcaster {
	if redisClient == nil {
		panic("redis client must not be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{
		redis:   redisClient,
		channel: channel,
		logger:  logger,
	}
}

// Publish sends msg to all subscribers of the channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, msg message.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	broadcastsPublished.Inc()
	return nil
}

// Subscribe listens on the channel until ctx ends. The subscription is
// confirmed before Subscribe returns.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan message.Message, error) {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	out := make(chan message.Message, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				msg, err := message.Decode([]byte(raw.Payload))
				if err != nil {
					broadcastsDropped.Inc()
					b.logger.Warn().Err(err).Str("channel", b.channel).Msg("Ignoring malformed broadcast")
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// MemoryBroadcaster fans messages out within one process.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan message.Message
	nextID int
}

// NewMemoryBroadcaster creates an in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]chan message.Message)}
}

// Publish delivers msg to every subscriber. Subscribers with a full queue
// miss the message.
func (b *MemoryBroadcaster) Publish(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			broadcastsDropped.Inc()
		}
	}
	broadcastsPublished.Inc()
	return nil
}

// Subscribe registers a subscriber until ctx ends.
func (b *MemoryBroadcaster) Subscribe(ctx context.Context) (<-chan message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan message.Message, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
