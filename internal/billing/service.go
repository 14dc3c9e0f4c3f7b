package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNoSubscription  = errors.New("no subscription")
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrUnknownCheckout = errors.New("unknown checkout session")
)

const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusCanceled = "canceled"
)

type Subscription struct {
	UserID           string    `json:"user_id"`
	Plan             string    `json:"plan"`
	Status           string    `json:"status"`
	TrialEndsAt      time.Time `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd time.Time `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Checkout struct {
	Ref         string    `json:"ref"`
	UserID      string    `json:"user_id"`
	Plan        string    `json:"plan"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service persists subscriptions and checkout sessions in Postgres and
// builds redirect URLs for the configured payment providers. Settlement
// itself happens on the provider side; only the redirect-return leg is
// handled here.
type Service struct {
	pool      *pgxpool.Pool
	providers map[string]string
	trialDays int
}

func NewService(pool *pgxpool.Pool, providers map[string]string, trialDays int) *Service {
	if trialDays <= 0 {
		trialDays = 7
	}
	return &Service{pool: pool, providers: providers, trialDays: trialDays}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id text PRIMARY KEY,
			plan text NOT NULL,
			status text NOT NULL,
			trial_ends_at timestamptz,
			current_period_end timestamptz,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS checkout_sessions (
			ref text PRIMARY KEY,
			user_id text NOT NULL,
			plan text NOT NULL,
			provider text NOT NULL,
			status text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			completed_at timestamptz
		)`,
		`CREATE INDEX IF NOT EXISTS checkout_sessions_user_idx ON checkout_sessions (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// StartTrial gives a freshly registered user a trialing subscription.
// An existing row is left untouched.
func (s *Service) StartTrial(ctx context.Context, userID, plan string) (Subscription, error) {
	trialEnd := time.Now().UTC().Add(time.Duration(s.trialDays) * 24 * time.Hour)
	_, err := s.pool.Exec(ctx, `INSERT INTO subscriptions (user_id, plan, status, trial_ends_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO NOTHING`,
		userID, plan, StatusTrialing, trialEnd)
	if err != nil {
		return Subscription{}, err
	}
	return s.Subscription(ctx, userID)
}

func (s *Service) Subscription(ctx context.Context, userID string) (Subscription, error) {
	var sub Subscription
	var trialEnd, periodEnd *time.Time
	err := s.pool.QueryRow(ctx, `SELECT user_id, plan, status, trial_ends_at, current_period_end, updated_at
		FROM subscriptions WHERE user_id = $1`, userID).
		Scan(&sub.UserID, &sub.Plan, &sub.Status, &trialEnd, &periodEnd, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrNoSubscription
		}
		return Subscription{}, err
	}
	if trialEnd != nil {
		sub.TrialEndsAt = *trialEnd
	}
	if periodEnd != nil {
		sub.CurrentPeriodEnd = *periodEnd
	}
	return sub, nil
}

// Entitled reports whether userID may stream right now. A missing
// subscription is simply "no".
func (s *Service) Entitled(ctx context.Context, userID string) (bool, error) {
	sub, err := s.Subscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			return false, nil
		}
		return false, err
	}
	return entitled(sub, time.Now().UTC()), nil
}

func entitled(sub Subscription, now time.Time) bool {
	switch sub.Status {
	case StatusActive:
		return sub.CurrentPeriodEnd.IsZero() || now.Before(sub.CurrentPeriodEnd)
	case StatusTrialing:
		return now.Before(sub.TrialEndsAt)
	default:
		return false
	}
}

// CreateCheckout opens a pending checkout session and returns the
// provider redirect URL the client should follow.
func (s *Service) CreateCheckout(ctx context.Context, userID, plan, provider string) (Checkout, error) {
	base, ok := s.providers[strings.ToLower(provider)]
	if !ok {
		return Checkout{}, ErrUnknownProvider
	}
	ref := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `INSERT INTO checkout_sessions (ref, user_id, plan, provider, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)`,
		ref, userID, plan, strings.ToLower(provider), now)
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{
		Ref:         ref,
		UserID:      userID,
		Plan:        plan,
		Provider:    strings.ToLower(provider),
		Status:      "pending",
		RedirectURL: fmt.Sprintf("%s?ref=%s", base, url.QueryEscape(ref)),
		CreatedAt:   now,
	}, nil
}

// CompleteCheckout marks a pending checkout as paid and activates the
// subscription for one billing period. It is called from the provider
// return leg, not from a webhook.
func (s *Service) CompleteCheckout(ctx context.Context, ref string) (Subscription, error) {
	var userID, plan string
	err := s.pool.QueryRow(ctx, `UPDATE checkout_sessions SET status = 'completed', completed_at = now()
		WHERE ref = $1 AND status = 'pending'
		RETURNING user_id, plan`, ref).Scan(&userID, &plan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrUnknownCheckout
		}
		return Subscription{}, err
	}
	periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
	_, err = s.pool.Exec(ctx, `INSERT INTO subscriptions (user_id, plan, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET plan = $2, status = $3, current_period_end = $4, updated_at = now()`,
		userID, plan, StatusActive, periodEnd)
	if err != nil {
		return Subscription{}, err
	}
	return s.Subscription(ctx, userID)
}

// Cancel flips the subscription to canceled at the next read; access
// continues until the paid period runs out.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subscriptions SET status = $2, updated_at = now() WHERE user_id = $1`,
		userID, StatusCanceled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSubscription
	}
	return nil
}
