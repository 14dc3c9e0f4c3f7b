package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newRedisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return NewRedisStore(client, zerolog.Nop())
}

// deafChannelClient accepts hash writes but fails every publish.
type deafChannelClient struct {
	*redis.Client
}

func (c *deafChannelClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("channel down"))
	return cmd
}

func TestRedisStoreUpsertSurvivesPublishFailure(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	st := &RedisStore{client: &deafChannelClient{Client: client}, log: zerolog.Nop()}
	ctx := context.Background()

	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: "dev-a"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.DeviceID != "dev-a" {
		t.Fatalf("device = %q, want dev-a", rec.DeviceID)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	st := newRedisStoreForTest(t)

	_, err := st.Get(context.Background(), "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreUpsertAndGet(t *testing.T) {
	st := newRedisStoreForTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: "dev-a", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.UserID != "u1" || rec.DeviceID != "dev-a" {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", rec.UpdatedAt, now)
	}

	// Takeover overwrites in place.
	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: "dev-b"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err = st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.DeviceID != "dev-b" {
		t.Fatalf("device = %q, want dev-b", rec.DeviceID)
	}
}

func TestRedisStoreSubscribeDeliversChanges(t *testing.T) {
	st := newRedisStoreForTest(t)
	ctx := context.Background()

	events := make(chan Event, 4)
	stop, err := st.Subscribe(ctx, "u1", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: "dev-b"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case ev := <-events:
		if ev.DeviceID != "dev-b" {
			t.Fatalf("event device = %q, want dev-b", ev.DeviceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
	}

	// Another user's claim must not leak into this feed.
	if err := st.Upsert(ctx, Record{UserID: "u2", DeviceID: "dev-z"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected cross-user event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisStoreUnsubscribeStopsDelivery(t *testing.T) {
	st := newRedisStoreForTest(t)
	ctx := context.Background()

	events := make(chan Event, 4)
	stop, err := st.Subscribe(ctx, "u1", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()

	if err := st.Upsert(ctx, Record{UserID: "u1", DeviceID: "dev-b"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("event after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGuardAgainstRedisStore(t *testing.T) {
	st := newRedisStoreForTest(t)
	ctx := context.Background()

	evicted := make(chan Reason, 1)
	g := newTestGuard(st, staticIdentity("dev-a"), func(r Reason) { evicted <- r })

	if err := Claim(ctx, st, "u1", "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Start(ctx, "u1")
	defer g.Stop()

	time.Sleep(5 * testInterval)
	if err := Claim(ctx, st, "u1", "dev-b"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	select {
	case r := <-evicted:
		if r != ReasonOtherDevice {
			t.Fatalf("reason = %v, want %v", r, ReasonOtherDevice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not observe the takeover")
	}
}
