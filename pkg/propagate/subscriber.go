package propagate

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/jsoncache/pkg/cache"
	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/Sternrassler/jsoncache/pkg/reader"
	"github.com/rs/zerolog"
)

// Subscriber reacts to update broadcasts on behalf of this instance.
//
// A message from this instance means the cache already holds the new
// content, so watchers get a plain Read. A message from a peer means the
// local copy is outdated: the path is refreshed if it is watched or cached.
type Subscriber struct {
	manager     *cache.Manager
	reader      *reader.Reader
	broadcaster Broadcaster
	origin      string
	logger      zerolog.Logger

	mu       sync.RWMutex
	watchers map[string][]func(reader.Result)
}

// NewSubscriber creates a subscriber for the instance identified by origin.
func NewSubscriber(manager *cache.Manager, rdr *reader.Reader, broadcaster Broadcaster, origin string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		manager:     manager,
		reader:      rdr,
		broadcaster: broadcaster,
		origin:      origin,
		logger:      logger,
		watchers:    make(map[string][]func(reader.Result)),
	}
}

// Watch registers fn to receive the updated result whenever path changes.
func (s *Subscriber) Watch(path string, fn func(reader.Result)) {
	key := cache.NormalizePath(path)

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], fn)
	s.mu.Unlock()
}

// Run consumes broadcasts until ctx ends or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	messages, err := s.broadcaster.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to updates: %w", err)
	}

	s.logger.Info().Str("origin", s.origin).Msg("Listening for content updates")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg message.Message) {
	if msg.Type != message.TypeJSONUpdated {
		return
	}

	key := cache.NormalizePath(msg.Path)

	s.mu.RLock()
	fns := append(([]func(reader.Result))(nil), s.watchers[key]...)
	s.mu.RUnlock()

	self := msg.Origin == s.origin
	if self {
		broadcastsReceived.WithLabelValues("self").Inc()
	} else {
		broadcastsReceived.WithLabelValues("peer").Inc()
	}

	var res reader.Result
	switch {
	case self && len(fns) == 0:
		return
	case self:
		res = s.reader.Read(ctx, key)
	default:
		if _, cached := s.manager.GetStale(key); !cached && len(fns) == 0 {
			return
		}
		res = s.reader.Refresh(ctx, key)
	}

	s.logger.Debug().
		Str("path", key).
		Bool("self", self).
		Str("source", string(res.Source)).
		Int("watchers", len(fns)).
		Msg("Applied content update")

	for _, fn := range fns {
		fn(res)
	}
}
