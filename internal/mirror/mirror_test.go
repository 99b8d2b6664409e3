package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
)

type entry struct {
	value string
	ttl   time.Duration
}

type memKV struct {
	mu   sync.Mutex
	data map[string]entry
	sets int
	fail bool
}

func newMemKV() *memKV { return &memKV{data: make(map[string]entry)} }

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.sets++
	m.data[key] = entry{value, ttl}
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e.value, ok, nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestKey(t *testing.T) {
	if got := Key(42); got != "relay:presence:42" {
		t.Errorf("Key(42) = %q", got)
	}
}

func TestMirrorFollowsPresenceEvents(t *testing.T) {
	kv := newMemKV()
	b := bus.New()
	m := New(kv, b, nil, "main", time.Minute, zap.NewNop())
	m.Start(context.Background())
	defer m.Stop()

	b.Emit(bus.KindPresenceOnline, bus.PresenceChanged{UserID: 7, Online: true})
	eventually(t, func() bool {
		_, ok, _ := m.Lookup(context.Background(), 7)
		return ok
	})

	owner, _, _ := m.Lookup(context.Background(), 7)
	if owner != "main" {
		t.Errorf("owner = %q, want main", owner)
	}
	kv.mu.Lock()
	if ttl := kv.data[Key(7)].ttl; ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	kv.mu.Unlock()

	b.Emit(bus.KindPresenceOffline, bus.PresenceChanged{UserID: 7, Online: false})
	eventually(t, func() bool {
		_, ok, _ := m.Lookup(context.Background(), 7)
		return !ok
	})
}

func TestMirrorIgnoresForeignPayloads(t *testing.T) {
	kv := newMemKV()
	b := bus.New()
	m := New(kv, b, nil, "main", time.Minute, zap.NewNop())
	m.Start(context.Background())

	b.Emit(bus.KindPresenceOnline, "not a presence payload")
	b.Emit(bus.KindPresenceOnline, bus.PresenceChanged{UserID: 1, Online: true})
	eventually(t, func() bool {
		_, ok, _ := m.Lookup(context.Background(), 1)
		return ok
	})
	m.Stop()

	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.sets != 1 {
		t.Errorf("sets = %d, want 1", kv.sets)
	}
}

func TestRefreshRenewsOnlineUsers(t *testing.T) {
	kv := newMemKV()
	m := New(kv, bus.New(), func() []int64 { return []int64{1, 2} }, "main", time.Minute, zap.NewNop())

	m.Refresh(context.Background())

	for _, u := range []int64{1, 2} {
		if _, ok, _ := kv.Get(context.Background(), Key(u)); !ok {
			t.Errorf("user %d not refreshed", u)
		}
	}

	kv.fail = true
	m.Refresh(context.Background())
}

func TestStopWithoutStart(t *testing.T) {
	m := New(newMemKV(), bus.New(), nil, "main", 0, zap.NewNop())
	m.Stop()
}
