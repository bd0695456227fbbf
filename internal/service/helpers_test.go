package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/config"
	"github.com/cpu-jia/chatroom/internal/store"
)

// fakeBus is an in-process bus.Bus used in place of Redis: it just records
// every published event, since the service layer only needs Publish to
// succeed or fail, never an actual subscriber round trip.
type fakeBus struct {
	mu        sync.Mutex
	published []bus.Event
	failNext  bool
}

func (f *fakeBus) Publish(_ context.Context, event bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errFakePublish
	}
	f.published = append(f.published, event)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, uuid.UUID) (<-chan bus.Event, func(), error) {
	ch := make(chan bus.Event)
	return ch, func() { close(ch) }, nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) events() []bus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.Event, len(f.published))
	copy(out, f.published)
	return out
}

type fakePublishError struct{}

func (*fakePublishError) Error() string { return "fake publish failure" }

var errFakePublish error = &fakePublishError{}

var testDBCounter int64

// newTestEnv wires a fresh in-memory store, a fake bus, and an
// Authenticator with a fast bcrypt cost, mirroring the teacher's
// setupTestServices helper (a throwaway sqlite db per test).
func newTestEnv(t *testing.T) (store.Store, *fakeBus, *auth.Authenticator) {
	t.Helper()
	id := atomic.AddInt64(&testDBCounter, 1)
	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_busy_timeout=5000", id)

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st, &fakeBus{}, auth.New("test-secret", 4, time.Hour, 7*24*time.Hour)
}
