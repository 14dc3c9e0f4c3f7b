package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultInterval = 3 * time.Second

// GuardConfig carries the guard's collaborators. Store and Identity are
// required; SignOut and OnEvict may be nil.
type GuardConfig struct {
	Store    Store
	Identity IdentityProvider

	// SignOut is the best-effort remote sign-out call. Its error is
	// swallowed; eviction proceeds regardless.
	SignOut func(ctx context.Context) error
	// OnEvict fires exactly once per activation, after SignOut. It is
	// the redirect-to-login hook.
	OnEvict func(Reason)

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	Logger            zerolog.Logger
}

// Guard enforces single-active-device streaming for one authenticated
// user. While running it re-asserts ownership of the session record via
// heartbeat writes, polls the record on a fixed interval, and listens on
// the store's change feed; any observed divergence between the local
// device identity and the stored one forces a sign-out.
//
// Detection stays correct on polling alone: the change feed only makes a
// takeover near-instantaneous instead of one poll interval away.
type Guard struct {
	store     Store
	identity  IdentityProvider
	signOut   func(ctx context.Context) error
	onEvict   func(Reason)
	heartbeat time.Duration
	poll      time.Duration
	log       zerolog.Logger

	mu  sync.Mutex
	act *activation
}

// activation is the state of one ACTIVE period. A fresh one is created
// per Start so a restart can never inherit timers, subscriptions, or a
// spent eviction latch from the previous user.
type activation struct {
	userID   string
	deviceID string
	cancel   context.CancelFunc
	done     chan struct{}
	evicted  sync.Once
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultInterval
	}
	return &Guard{
		store:     cfg.Store,
		identity:  cfg.Identity,
		signOut:   cfg.SignOut,
		onEvict:   cfg.OnEvict,
		heartbeat: cfg.HeartbeatInterval,
		poll:      cfg.PollInterval,
		log:       cfg.Logger,
	}
}

// Start activates the guard for userID. An already-running activation is
// stopped first, so Start never stacks timers or subscriptions.
func (g *Guard) Start(ctx context.Context, userID string) {
	g.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	a := &activation{
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.mu.Lock()
	g.act = a
	g.mu.Unlock()

	go g.run(runCtx, a)
}

// Stop deactivates the guard and waits until no more store calls can
// happen. Safe to call repeatedly and while inactive.
func (g *Guard) Stop() {
	g.mu.Lock()
	a := g.act
	g.act = nil
	g.mu.Unlock()
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (g *Guard) run(ctx context.Context, a *activation) {
	defer close(a.done)

	// Missing local identity is indistinguishable from "logged out
	// elsewhere": fail closed before touching the store.
	id, err := g.identity.DeviceID()
	if err != nil || id == "" {
		if err != nil {
			g.log.Warn().Err(err).Str("user", a.userID).Msg("device identity unavailable")
		}
		g.evict(a, ReasonDevice)
		return
	}
	a.deviceID = id

	g.checkOnce(ctx, a)
	if ctx.Err() != nil {
		return
	}

	events := make(chan Event, 8)
	unsub, err := g.store.Subscribe(ctx, a.userID, func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		// Degrade to the fallback poll.
		g.log.Warn().Err(err).Str("user", a.userID).Msg("session feed unavailable, relying on poll")
		unsub = func() {}
	}
	defer unsub()

	heartbeat := time.NewTicker(g.heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(g.poll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			g.beat(ctx, a)
		case <-poll.C:
			g.checkOnce(ctx, a)
		case ev := <-events:
			g.reconcile(a, ev.DeviceID)
		}
	}
}

// checkOnce reads the session record and reconciles against it. Read
// errors are logged and ignored: a flaky store must not evict the one
// legitimate device.
func (g *Guard) checkOnce(ctx context.Context, a *activation) {
	rec, err := g.store.Get(ctx, a.userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled) {
			g.log.Warn().Err(err).Str("user", a.userID).Msg("session read failed, keeping session")
		}
		return
	}
	g.reconcile(a, rec.DeviceID)
}

// reconcile is the single decision point shared by the initial check,
// the fallback poll, and the change feed. An empty stored device id
// means no claim to enforce yet; only a differing non-empty value is a
// takeover. Timestamps are never consulted.
func (g *Guard) reconcile(a *activation, stored string) {
	if a.deviceID == "" {
		g.evict(a, ReasonDevice)
		return
	}
	if stored == "" || stored == a.deviceID {
		return
	}
	g.evict(a, ReasonOtherDevice)
}

// beat re-asserts ownership so the record cannot drift away from a
// healthy device even if the change feed silently dies. The write is
// check-then-act: a foreign claim observed here evicts instead of being
// overwritten, so detection never depends on the feed being alive. Read
// and write failures never force a sign-out.
func (g *Guard) beat(ctx context.Context, a *activation) {
	rec, err := g.store.Get(ctx, a.userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if !errors.Is(err, context.Canceled) {
			g.log.Debug().Err(err).Str("user", a.userID).Msg("session heartbeat read failed")
		}
		return
	}
	if err == nil {
		g.reconcile(a, rec.DeviceID)
		if ctx.Err() != nil {
			return
		}
	}
	out := Record{UserID: a.userID, DeviceID: a.deviceID, UpdatedAt: time.Now().UTC()}
	if err := g.store.Upsert(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
		g.log.Debug().Err(err).Str("user", a.userID).Msg("session heartbeat failed")
	}
}

func (g *Guard) evict(a *activation, reason Reason) {
	a.evicted.Do(func() {
		g.log.Info().Str("user", a.userID).Str("reason", string(reason)).Msg("session evicted")
		if g.signOut != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.signOut(ctx); err != nil {
				g.log.Debug().Err(err).Msg("sign-out call failed")
			}
			cancel()
		}
		a.cancel()
		if g.onEvict != nil {
			g.onEvict(reason)
		}
	})
}
