package propagate

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/Sternrassler/jsoncache/pkg/reader"
	"github.com/rs/zerolog"
)

type resultSink struct {
	mu      sync.Mutex
	results []reader.Result
	ch      chan struct{}
}

func newResultSink() *resultSink {
	return &resultSink{ch: make(chan struct{}, 16)}
}

func (s *resultSink) Add(res reader.Result) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	s.ch <- struct{}{}
}

func (s *resultSink) Wait(t *testing.T) reader.Result {
	t.Helper()

	select {
	case <-s.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

func startSubscriber(t *testing.T, f *fixture, b Broadcaster, origin string) *Subscriber {
	t.Helper()

	sub := NewSubscriber(f.manager, f.reader, b, origin, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
	return sub
}

// waitForSubscribers blocks until n subscriptions are registered.
func waitForSubscribers(t *testing.T, b *MemoryBroadcaster, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.RLock()
		got := len(b.subs)
		b.mu.RUnlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriber_OwnUpdateReadsFromCache(t *testing.T) {
	f := newFixture(t)
	f.origin.Set("json/home", map[string]any{"title": "A"})

	b := NewMemoryBroadcaster()
	sub := startSubscriber(t, f, b, "self")
	waitForSubscribers(t, b, 1)

	sink := newResultSink()
	sub.Watch("home", sink.Add)

	p := f.propagator(t, b, nil, Config{Origin: "self"})
	p.InvalidateOnEdit(context.Background(), "home")

	res := sink.Wait(t)
	if res.Source != reader.SourceCache {
		t.Errorf("watcher source = %s, want cache", res.Source)
	}
	if !reflect.DeepEqual(res.Data, map[string]any{"title": "A"}) {
		t.Errorf("watcher data = %v", res.Data)
	}
	if f.origin.Calls() != 1 {
		t.Errorf("origin calls = %d, want 1", f.origin.Calls())
	}
}

func TestSubscriber_PeerUpdateRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.origin.Set("json/home", map[string]any{"title": "A"})
	f.reader.Read(ctx, "home")

	b := NewMemoryBroadcaster()
	sub := startSubscriber(t, f, b, "self")
	waitForSubscribers(t, b, 1)

	sink := newResultSink()
	sub.Watch("/json/home", sink.Add)

	// A peer edited the content and announced it.
	f.origin.Set("json/home", map[string]any{"title": "B"})
	msg := message.New(message.TypeJSONUpdated, "home", time.Now())
	msg.Origin = "peer"
	if err := b.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	res := sink.Wait(t)
	if res.Source != reader.SourceNetwork {
		t.Errorf("watcher source = %s, want network", res.Source)
	}
	if !reflect.DeepEqual(res.Data, map[string]any{"title": "B"}) {
		t.Errorf("watcher data = %v, want title B", res.Data)
	}

	cached, ok := f.manager.GetCachedData("json/home")
	if !ok || !reflect.DeepEqual(cached, map[string]any{"title": "B"}) {
		t.Errorf("cache = %v, %v; want refreshed content", cached, ok)
	}
}

func TestSubscriber_PeerUpdateOfCachedPathWithoutWatchers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.origin.Set("json/home", map[string]any{"v": 1})
	f.reader.Read(ctx, "home")

	b := NewMemoryBroadcaster()
	sub := NewSubscriber(f.manager, f.reader, b, "self", zerolog.Nop())

	f.origin.Set("json/home", map[string]any{"v": 2})
	sub.handle(ctx, message.Message{Type: message.TypeJSONUpdated, Path: "home", Origin: "peer"})

	cached, _ := f.manager.GetCachedData("json/home")
	if !reflect.DeepEqual(cached, map[string]any{"v": 2}) {
		t.Errorf("cache = %v, want refreshed content", cached)
	}
}

func TestSubscriber_IgnoresIrrelevantMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := NewSubscriber(f.manager, f.reader, NewMemoryBroadcaster(), "self", zerolog.Nop())
	called := false
	sub.Watch("home", func(reader.Result) { called = true })

	tests := []struct {
		name string
		msg  message.Message
	}{
		{"invalidate type", message.Message{Type: message.TypeInvalidateJSONCache, Path: "home", Origin: "peer"}},
		{"own update of unwatched path", message.Message{Type: message.TypeJSONUpdated, Path: "other", Origin: "self"}},
		{"peer update of uncached unwatched path", message.Message{Type: message.TypeJSONUpdated, Path: "other", Origin: "peer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub.handle(ctx, tt.msg)
		})
	}

	if called {
		t.Error("watcher should not be called")
	}
	if f.origin.Calls() != 0 {
		t.Errorf("origin calls = %d, want 0", f.origin.Calls())
	}
}

func TestSubscriber_RunStopsWhenContextEnds(t *testing.T) {
	f := newFixture(t)
	sub := NewSubscriber(f.manager, f.reader, NewMemoryBroadcaster(), "self", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSubscriber_RunSubscribeError(t *testing.T) {
	f := newFixture(t)
	sub := NewSubscriber(f.manager, f.reader, &recordingBroadcaster{}, "self", zerolog.Nop())

	if err := sub.Run(context.Background()); err == nil {
		t.Error("Run() should fail when subscribing fails")
	}
}
