package session

import "time"

// Record is the single per-user device session row. The device named by
// DeviceID is the one currently authorized to stream; every other device
// observing the record is expected to sign itself out. UpdatedAt is an
// audit field only and never participates in conflict resolution.
type Record struct {
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reason explains a forced sign-out to the login surface.
type Reason string

const (
	// ReasonDevice means the local device identity could not be resolved.
	ReasonDevice Reason = "device"
	// ReasonOtherDevice means another device claimed the session.
	ReasonOtherDevice Reason = "other_device"
)
