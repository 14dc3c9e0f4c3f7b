package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testInterval = 10 * time.Millisecond

func newTestGuard(st Store, identity IdentityProvider, onEvict func(Reason)) *Guard {
	return NewGuard(GuardConfig{
		Store:             st,
		Identity:          identity,
		OnEvict:           onEvict,
		HeartbeatInterval: testInterval,
		PollInterval:      testInterval,
		Logger:            zerolog.Nop(),
	})
}

func staticIdentity(id string) IdentityProvider {
	return IdentityFunc(func() (string, error) { return id, nil })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// countingStore tracks store traffic so tests can assert silence after
// teardown.
type countingStore struct {
	inner Store

	mu      sync.Mutex
	gets    int
	upserts int
}

func (c *countingStore) Get(ctx context.Context, userID string) (Record, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.inner.Get(ctx, userID)
}

func (c *countingStore) Upsert(ctx context.Context, rec Record) error {
	c.mu.Lock()
	c.upserts++
	c.mu.Unlock()
	return c.inner.Upsert(ctx, rec)
}

func (c *countingStore) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	return c.inner.Subscribe(ctx, userID, fn)
}

func (c *countingStore) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets + c.upserts
}

// brokenReadStore fails every read but accepts writes, simulating a
// connectivity blip on the query path.
type brokenReadStore struct {
	inner Store
}

func (b *brokenReadStore) Get(ctx context.Context, userID string) (Record, error) {
	return Record{}, errors.New("connection refused")
}

func (b *brokenReadStore) Upsert(ctx context.Context, rec Record) error {
	return b.inner.Upsert(ctx, rec)
}

func (b *brokenReadStore) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	return b.inner.Subscribe(ctx, userID, fn)
}

func TestClaimEvictsAllOtherDevices(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	const devices = 4
	var evictions [devices]atomic.Int32
	var reasons [devices]atomic.Value
	guards := make([]*Guard, devices)
	ids := []string{"dev-0", "dev-1", "dev-2", "dev-3"}

	for i := 0; i < devices; i++ {
		i := i
		guards[i] = newTestGuard(st, staticIdentity(ids[i]), func(r Reason) {
			evictions[i].Add(1)
			reasons[i].Store(r)
		})
	}

	// Each device logs in after the previous ones: claim, then guard.
	for i := 0; i < devices; i++ {
		if err := Claim(ctx, st, "u1", ids[i]); err != nil {
			t.Fatalf("claim: %v", err)
		}
		guards[i].Start(ctx, "u1")
		defer guards[i].Stop()
		time.Sleep(2 * testInterval)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		for i := 0; i < devices-1; i++ {
			if evictions[i].Load() == 0 {
				return false
			}
		}
		return true
	})
	if !ok {
		t.Fatal("expected every losing device to be evicted")
	}
	for i := 0; i < devices-1; i++ {
		if got := reasons[i].Load(); got != ReasonOtherDevice {
			t.Fatalf("device %d evicted with reason %v, want %v", i, got, ReasonOtherDevice)
		}
	}

	// The winner keeps running.
	time.Sleep(5 * testInterval)
	if n := evictions[3].Load(); n != 0 {
		t.Fatalf("winning device evicted %d times", n)
	}
	rec, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.DeviceID != ids[3] {
		t.Fatalf("record device = %q, want %q", rec.DeviceID, ids[3])
	}
}

// noFeedStore fails Subscribe, leaving polling as the only detection
// path.
type noFeedStore struct {
	inner Store
}

func (n *noFeedStore) Get(ctx context.Context, userID string) (Record, error) {
	return n.inner.Get(ctx, userID)
}

func (n *noFeedStore) Upsert(ctx context.Context, rec Record) error {
	return n.inner.Upsert(ctx, rec)
}

func (n *noFeedStore) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	return nil, errors.New("feed unavailable")
}

func TestDeadFeedStillDetectsTakeover(t *testing.T) {
	st := &noFeedStore{inner: NewMemoryStore()}
	ctx := context.Background()
	var evictions atomic.Int32
	var reason atomic.Value

	g := newTestGuard(st, staticIdentity("dev-a"), func(r Reason) {
		evictions.Add(1)
		reason.Store(r)
	})
	if err := Claim(ctx, st, "u1", "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Start(ctx, "u1")
	defer g.Stop()

	// Healthy claim, dead feed: heartbeats keep running and nothing
	// evicts.
	time.Sleep(10 * testInterval)
	if n := evictions.Load(); n != 0 {
		t.Fatalf("guard evicted %d times without a competing claim", n)
	}

	// Another device takes over. With no feed events coming through,
	// the poll and heartbeat ticks must see the foreign id instead of
	// overwriting it.
	if err := Claim(ctx, st, "u1", "dev-b"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return evictions.Load() > 0 }) {
		t.Fatal("takeover not detected by polling alone")
	}
	if got := reason.Load(); got != ReasonOtherDevice {
		t.Fatalf("reason = %v, want %v", got, ReasonOtherDevice)
	}
	rec, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.DeviceID != "dev-b" {
		t.Fatalf("record device = %q after takeover, want %q", rec.DeviceID, "dev-b")
	}
}

func TestReadErrorsNeverEvict(t *testing.T) {
	st := &brokenReadStore{inner: NewMemoryStore()}
	var evictions atomic.Int32

	g := newTestGuard(st, staticIdentity("dev-a"), func(Reason) { evictions.Add(1) })
	g.Start(context.Background(), "u1")
	defer g.Stop()

	time.Sleep(20 * testInterval)
	if n := evictions.Load(); n != 0 {
		t.Fatalf("guard evicted %d times on read errors", n)
	}
}

func TestEmptyStoredDeviceIsNoop(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: ""}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	var evictions atomic.Int32
	g := newTestGuard(st, staticIdentity("dev-a"), func(Reason) { evictions.Add(1) })
	g.Start(ctx, "u1")
	defer g.Stop()

	time.Sleep(10 * testInterval)
	if n := evictions.Load(); n != 0 {
		t.Fatalf("guard evicted %d times on empty stored device id", n)
	}
}

func TestConcurrentDivergenceEvictsOnce(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	var evictions atomic.Int32

	g := newTestGuard(st, staticIdentity("dev-a"), func(Reason) { evictions.Add(1) })
	if err := Claim(ctx, st, "u1", "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Start(ctx, "u1")
	defer g.Stop()

	// Several back-to-back foreign claims: the poll and the change feed
	// both observe the divergence around the same time.
	for i := 0; i < 5; i++ {
		if err := Claim(ctx, st, "u1", "dev-b"); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}

	if !waitFor(t, 2*time.Second, func() bool { return evictions.Load() > 0 }) {
		t.Fatal("expected eviction")
	}
	time.Sleep(10 * testInterval)
	if n := evictions.Load(); n != 1 {
		t.Fatalf("OnEvict fired %d times, want 1", n)
	}
}

func TestSingleDeviceNeverSelfEvicts(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	var evictions atomic.Int32

	g := newTestGuard(st, staticIdentity("dev-a"), func(Reason) { evictions.Add(1) })
	if err := Claim(ctx, st, "u1", "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Start(ctx, "u1")
	defer g.Stop()

	// Many heartbeat/poll/feed cycles with no competing claim: the
	// guard's own writes must never read back as foreign.
	time.Sleep(50 * testInterval)
	if n := evictions.Load(); n != 0 {
		t.Fatalf("single device evicted itself %d times", n)
	}
}

func TestStopSilencesStoreTraffic(t *testing.T) {
	st := &countingStore{inner: NewMemoryStore()}
	ctx := context.Background()

	g := newTestGuard(st, staticIdentity("dev-a"), nil)
	g.Start(ctx, "u1")
	time.Sleep(5 * testInterval)
	g.Stop()

	before := st.calls()
	if before == 0 {
		t.Fatal("expected store traffic while active")
	}
	time.Sleep(10 * testInterval)
	if after := st.calls(); after != before {
		t.Fatalf("store calls after Stop: %d -> %d", before, after)
	}
}

func TestMissingIdentityFailsClosed(t *testing.T) {
	st := &countingStore{inner: NewMemoryStore()}
	var reason atomic.Value
	var evictions atomic.Int32

	broken := IdentityFunc(func() (string, error) {
		return "", errors.New("state dir unavailable")
	})
	g := newTestGuard(st, broken, func(r Reason) {
		reason.Store(r)
		evictions.Add(1)
	})
	g.Start(context.Background(), "u1")
	defer g.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return evictions.Load() > 0 }) {
		t.Fatal("expected immediate eviction")
	}
	if got := reason.Load(); got != ReasonDevice {
		t.Fatalf("reason = %v, want %v", got, ReasonDevice)
	}
	if n := st.calls(); n != 0 {
		t.Fatalf("store reached %d times before identity check", n)
	}
}

func TestRestartDoesNotStackActivations(t *testing.T) {
	st := &countingStore{inner: NewMemoryStore()}
	ctx := context.Background()

	g := newTestGuard(st, staticIdentity("dev-a"), nil)
	for i := 0; i < 3; i++ {
		g.Start(ctx, "u1")
		time.Sleep(2 * testInterval)
	}
	g.Stop()

	before := st.calls()
	time.Sleep(10 * testInterval)
	if after := st.calls(); after != before {
		t.Fatalf("leftover activation still touching store: %d -> %d", before, after)
	}
}

func TestSignOutFailureStillRedirects(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	var evictions atomic.Int32

	g := NewGuard(GuardConfig{
		Store:    st,
		Identity: staticIdentity("dev-a"),
		SignOut: func(context.Context) error {
			return errors.New("auth backend down")
		},
		OnEvict:           func(Reason) { evictions.Add(1) },
		HeartbeatInterval: testInterval,
		PollInterval:      testInterval,
		Logger:            zerolog.Nop(),
	})
	if err := Claim(ctx, st, "u1", "dev-b"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Start(ctx, "u1")
	defer g.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return evictions.Load() == 1 }) {
		t.Fatal("expected redirect despite failed sign-out")
	}
}
