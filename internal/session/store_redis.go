package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	recordKeyPrefix  = "sv:session:"
	changeChanPrefix = "sv:session:changed:"
)

// redisCmds is the command subset the store uses, satisfied by
// *redis.Client.
type redisCmds interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisStore keeps one hash per user and publishes a change event on every
// upsert, so guards on other devices learn about a takeover without
// waiting for their next poll.
type RedisStore struct {
	client redisCmds
	log    zerolog.Logger
}

func NewRedisStore(client *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, recordKeyPrefix+userID).Result()
	if err != nil {
		return Record{}, fmt.Errorf("session read: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	rec := Record{
		UserID:   userID,
		DeviceID: fields["device_id"],
	}
	if raw := fields["updated_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.UpdatedAt = ts
		}
	}
	return rec, nil
}

func (s *RedisStore) Upsert(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	err := s.client.HSet(ctx, recordKeyPrefix+rec.UserID,
		"device_id", rec.DeviceID,
		"updated_at", rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	// The hash write above is authoritative. A lost notification only
	// delays detection until the next poll, so a failed publish does not
	// fail the upsert.
	payload, _ := json.Marshal(Event{DeviceID: rec.DeviceID})
	if err := s.client.Publish(ctx, changeChanPrefix+rec.UserID, payload).Err(); err != nil {
		s.log.Debug().Err(err).Str("user", rec.UserID).Msg("session notify failed")
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error) {
	sub := s.client.Subscribe(ctx, changeChanPrefix+userID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("session subscribe: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}()
	return func() {
		_ = sub.Close()
		<-done
	}, nil
}
