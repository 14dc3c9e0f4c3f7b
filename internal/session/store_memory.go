package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used in tests and single-node
// setups. Change events are delivered asynchronously, mirroring the
// detached delivery of the Redis feed.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	subs    map[string]map[int]func(Event)
	nextSub int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		subs:    make(map[string]map[int]func(Event)),
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.records[rec.UserID] = rec
	var listeners []func(Event)
	for _, fn := range s.subs[rec.UserID] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	ev := Event{DeviceID: rec.DeviceID}
	for _, fn := range listeners {
		go fn(ev)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]func(Event))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[userID][id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs[userID], id)
		s.mu.Unlock()
	}, nil
}
