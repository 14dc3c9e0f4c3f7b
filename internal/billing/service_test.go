package billing

import (
	"testing"
	"time"
)

func TestEntitled(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active within period", Subscription{Status: StatusActive, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active no period end", Subscription{Status: StatusActive}, true},
		{"active period lapsed", Subscription{Status: StatusActive, CurrentPeriodEnd: now.Add(-time.Hour)}, false},
		{"trial running", Subscription{Status: StatusTrialing, TrialEndsAt: now.Add(24 * time.Hour)}, true},
		{"trial expired", Subscription{Status: StatusTrialing, TrialEndsAt: now.Add(-time.Minute)}, false},
		{"canceled", Subscription{Status: StatusCanceled, CurrentPeriodEnd: now.Add(time.Hour)}, false},
		{"unknown status", Subscription{Status: "paused"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entitled(tt.sub, now); got != tt.want {
				t.Fatalf("entitled(%+v) = %v, want %v", tt.sub, got, tt.want)
			}
		})
	}
}
