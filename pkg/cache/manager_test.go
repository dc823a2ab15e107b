package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []message.Message
	err      error
}

func (n *fakeNotifier) PostMessage(_ context.Context, msg message.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func newTestManager(t *testing.T, clock *fakeClock, notifier WorkerNotifier) *Manager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Notifier = notifier
	return NewManager(cfg, zerolog.Nop())
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())

	if m.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", m.TTL(), DefaultTTL)
	}
	if m.config.Now == nil {
		t.Error("Now should default to time.Now")
	}
}

func TestManager_SetAndGetVersion(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	if _, ok := m.GetVersion("json/home"); ok {
		t.Fatal("GetVersion() on empty cache should report absent")
	}

	token := m.SetVersion("json/home", map[string]any{"title": "X"})
	got, ok := m.GetVersion("json/home")
	if !ok || got != token {
		t.Errorf("GetVersion() = %q, %v; want %q, true", got, ok, token)
	}
}

func TestManager_VersionDiffersAfterMutation(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	a := m.SetVersion("json/home", map[string]any{"title": "A"})
	b := m.SetVersion("json/home", map[string]any{"title": "B"})
	if a == b {
		t.Errorf("SetVersion returned the same token %q for different data", a)
	}
}

func TestManager_TimestampMonotonic(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil)

	m.SetCachedData("json/home", 1)
	first, _ := m.GetStale("json/home")

	// Same wall-clock millisecond and a clock that went backwards.
	m.SetCachedData("json/home", 2)
	second, _ := m.GetStale("json/home")
	clock.Advance(-time.Second)
	m.SetCachedData("json/home", 3)
	third, _ := m.GetStale("json/home")

	if !(first.Timestamp < second.Timestamp && second.Timestamp < third.Timestamp) {
		t.Errorf("timestamps not strictly increasing: %d, %d, %d",
			first.Timestamp, second.Timestamp, third.Timestamp)
	}
	if third.Data != 3 {
		t.Errorf("Data = %v, want 3 (entry replaced wholesale)", third.Data)
	}
}

func TestManager_TTLScenario(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil)
	data := map[string]any{"title": "X"}

	m.SetCachedData("home", data)

	clock.Advance(4*time.Minute + 59*time.Second)
	got, ok := m.GetCachedData("home")
	if !ok || !reflect.DeepEqual(got, data) {
		t.Fatalf("GetCachedData() at 4m59s = %v, %v; want %v, true", got, ok, data)
	}

	clock.Advance(2 * time.Second)
	if _, ok := m.GetCachedData("home"); ok {
		t.Fatal("GetCachedData() at 5m1s should report absent")
	}

	stats := m.GetCacheStats()
	if stats.ValidEntries != 0 {
		t.Errorf("ValidEntries = %d, want 0", stats.ValidEntries)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, want 1 (expired entry kept as fallback)", stats.TotalEntries)
	}

	stale, ok := m.GetStale("home")
	if !ok || !reflect.DeepEqual(stale.Data, data) {
		t.Errorf("GetStale() = %v, %v; expired entry should remain as fallback", stale.Data, ok)
	}
}

func TestManager_GetEntry(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil)

	token := m.SetCachedData("json/home", "x")
	entry, ok := m.GetEntry("json/home")
	if !ok || entry.Version != token || entry.Path != "json/home" {
		t.Errorf("GetEntry() = %+v, %v", entry, ok)
	}

	clock.Advance(DefaultTTL)
	if _, ok := m.GetEntry("json/home"); ok {
		t.Error("GetEntry() should hide expired entries")
	}
}

func TestManager_InvalidateCache(t *testing.T) {
	clock := newFakeClock()
	notifier := &fakeNotifier{}
	m := newTestManager(t, clock, notifier)

	m.SetCachedData("json/home", "x")
	m.InvalidateCache(context.Background(), "json/home")

	if _, ok := m.GetStale("json/home"); ok {
		t.Error("entry should be removed")
	}
	if _, ok := m.GetVersion("json/home"); ok {
		t.Error("version should be removed")
	}

	if len(notifier.messages) != 1 {
		t.Fatalf("notifier received %d messages, want 1", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if msg.Type != message.TypeInvalidateJSONCache || msg.Path != "json/home" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Timestamp != clock.Now().UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", msg.Timestamp, clock.Now().UnixMilli())
	}
}

func TestManager_InvalidateCache_NotifierFailureSwallowed(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("worker not ready")}
	m := newTestManager(t, newFakeClock(), notifier)

	m.SetCachedData("json/home", "x")
	m.InvalidateCache(context.Background(), "json/home")

	if _, ok := m.GetStale("json/home"); ok {
		t.Error("entry should be removed despite notifier failure")
	}
}

func TestManager_NeedsUpdate(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	if !m.NeedsUpdate("json/home", "abc") {
		t.Error("NeedsUpdate() should be true without a local version")
	}

	token := m.SetCachedData("json/home", "x")
	if m.NeedsUpdate("json/home", token) {
		t.Error("NeedsUpdate() should be false for matching token")
	}
	if !m.NeedsUpdate("json/home", "other") {
		t.Error("NeedsUpdate() should be true for differing token")
	}
}

func TestManager_GetCacheStats(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil)

	if stats := m.GetCacheStats(); stats.TotalEntries != 0 || len(stats.CachePaths) != 0 {
		t.Errorf("empty stats = %+v", stats)
	}

	m.SetCachedData("json/b", 1)
	oldest := clock.Now().UnixMilli()
	clock.Advance(6 * time.Minute)
	m.SetCachedData("json/a", 2)
	newest := clock.Now().UnixMilli()

	stats := m.GetCacheStats()
	if stats.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", stats.TotalEntries)
	}
	if stats.ValidEntries != 1 {
		t.Errorf("ValidEntries = %d, want 1", stats.ValidEntries)
	}
	if stats.OldestEntry != oldest || stats.NewestEntry != newest {
		t.Errorf("Oldest/Newest = %d/%d, want %d/%d", stats.OldestEntry, stats.NewestEntry, oldest, newest)
	}
	if !reflect.DeepEqual(stats.CachePaths, []string{"json/a", "json/b"}) {
		t.Errorf("CachePaths = %v", stats.CachePaths)
	}
}

func TestManager_StoreFetched_DiscardsAfterInvalidate(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)
	ctx := context.Background()

	slow := m.BeginFetch()
	m.InvalidateCache(ctx, "json/home")

	fresh := m.BeginFetch()
	if _, ok := m.StoreFetched("json/home", "fresh", fresh); !ok {
		t.Fatal("fetch started after invalidate should be stored")
	}
	if _, ok := m.StoreFetched("json/home", "stale", slow); ok {
		t.Fatal("fetch started before invalidate should be discarded")
	}

	entry, _ := m.GetStale("json/home")
	if entry.Data != "fresh" {
		t.Errorf("Data = %v, want fresh", entry.Data)
	}
}

func TestManager_StoreFetched_LatestStartedWins(t *testing.T) {
	tests := []struct {
		name        string
		olderFirst  bool
		wantData    string
		wantOlderOK bool
	}{
		{"older completes first", true, "newer", true},
		{"newer completes first", false, "newer", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, newFakeClock(), nil)

			older := m.BeginFetch()
			newer := m.BeginFetch()
			if newer <= older {
				t.Fatalf("tickets not increasing: older=%d newer=%d", older, newer)
			}

			var olderOK, newerOK bool
			if tt.olderFirst {
				_, olderOK = m.StoreFetched("json/home", "older", older)
				_, newerOK = m.StoreFetched("json/home", "newer", newer)
			} else {
				_, newerOK = m.StoreFetched("json/home", "newer", newer)
				_, olderOK = m.StoreFetched("json/home", "older", older)
			}

			if !newerOK {
				t.Error("later-started fetch must be stored")
			}
			if olderOK != tt.wantOlderOK {
				t.Errorf("older fetch stored = %v, want %v", olderOK, tt.wantOlderOK)
			}
			entry, _ := m.GetStale("json/home")
			if entry.Data != tt.wantData {
				t.Errorf("Data = %v, want %s", entry.Data, tt.wantData)
			}
		})
	}
}

func TestManager_StoreFetched_DiscardsAfterDirectWrite(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	ticket := m.BeginFetch()
	m.SetCachedData("json/home", "edited")

	if _, ok := m.StoreFetched("json/home", "fetched", ticket); ok {
		t.Error("fetch started before a direct write should be discarded")
	}
	if _, ok := m.StoreFetched("json/home", "later", m.BeginFetch()); !ok {
		t.Error("fetch started after a direct write should be stored")
	}
}

func TestManager_Now(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil)

	if !m.Now().Equal(clock.Now()) {
		t.Errorf("Now() = %v, want %v", m.Now(), clock.Now())
	}
	clock.Advance(time.Minute)
	if !m.Now().Equal(clock.Now()) {
		t.Errorf("Now() after advance = %v, want %v", m.Now(), clock.Now())
	}
}

func TestManager_StoreFetched_UnrelatedPathsDoNotInterfere(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	ticket := m.BeginFetch()
	m.SetCachedData("json/other", 1)

	if _, ok := m.StoreFetched("json/home", "x", ticket); !ok {
		t.Error("write to another path must not invalidate this fetch")
	}
}

func TestManager_ClearAll(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	ticket := m.BeginFetch()
	m.SetCachedData("json/a", 1)
	m.SetCachedData("json/b", 2)

	m.ClearAll()

	if stats := m.GetCacheStats(); stats.TotalEntries != 0 {
		t.Errorf("TotalEntries = %d after ClearAll, want 0", stats.TotalEntries)
	}
	if _, ok := m.StoreFetched("json/c", 3, ticket); ok {
		t.Error("fetch started before ClearAll should be discarded")
	}
	if _, ok := m.StoreFetched("json/c", 3, m.BeginFetch()); !ok {
		t.Error("fetch started after ClearAll should be stored")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetCachedData("json/home", j)
				m.GetCachedData("json/home")
				m.GetCacheStats()
				if j%10 == 0 {
					m.InvalidateCache(ctx, "json/home")
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestManager_AdoptVersion(t *testing.T) {
	m := newTestManager(t, newFakeClock(), nil)

	if m.AdoptVersion("json/home", "server01") {
		t.Error("AdoptVersion() should report false without an entry")
	}

	m.SetCachedData("json/home", "x")
	before, _ := m.GetStale("json/home")

	if !m.AdoptVersion("json/home", "server01") {
		t.Fatal("AdoptVersion() should report true for an existing entry")
	}
	after, _ := m.GetStale("json/home")

	if after.Version != "server01" {
		t.Errorf("Version = %q, want server01", after.Version)
	}
	if after.Timestamp != before.Timestamp || after.Data != before.Data {
		t.Error("AdoptVersion() must keep data and timestamp")
	}
	if m.NeedsUpdate("json/home", "server01") {
		t.Error("NeedsUpdate() should be false after adopting the server token")
	}
}
