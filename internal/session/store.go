package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session record not found")

// Event is delivered for every insert or update of a user's session record.
type Event struct {
	DeviceID string `json:"device_id"`
}

// Store arbitrates device ownership through a single record per user.
// Upsert is last-write-wins; the store offers no compare-and-swap, so
// exclusivity is advisory and enforced cooperatively by the guards
// observing the record.
type Store interface {
	// Get returns the record for userID, or ErrNotFound if no device has
	// claimed the session yet.
	Get(ctx context.Context, userID string) (Record, error)
	// Upsert overwrites the record for rec.UserID.
	Upsert(ctx context.Context, rec Record) error
	// Subscribe delivers change events for userID's record until the
	// returned stop function is called. Events may arrive zero or more
	// times, in any order relative to Get calls.
	Subscribe(ctx context.Context, userID string, fn func(Event)) (func(), error)
}

// Claim registers deviceID as the sole authorized device for userID. It is
// performed right after credential verification on login; every other
// device holding a running guard for the same user observes the new value
// and self-evicts within one detection interval.
func Claim(ctx context.Context, st Store, userID, deviceID string) error {
	return st.Upsert(ctx, Record{
		UserID:    userID,
		DeviceID:  deviceID,
		UpdatedAt: time.Now().UTC(),
	})
}

// Release clears the device claim on logout. The record itself is kept;
// an empty device id compares as "nothing to enforce" for running guards.
func Release(ctx context.Context, st Store, userID string) error {
	return st.Upsert(ctx, Record{
		UserID:    userID,
		DeviceID:  "",
		UpdatedAt: time.Now().UTC(),
	})
}
