package notification

import (
	"context"
	"fmt"
	"time"

	"notifgate/internal/common"
)

// RateLimiter decides whether one more notification of a type may be sent to a
// client by counting that pair's records inside the trailing policy window.
//
// The window ending at now is (now - window, now]: a record exactly one window
// old no longer counts, a record stamped at now does. The limiter owns no data;
// the LogStore it reads is passed per call so a guard can hand in a
// transaction-bound store.
type RateLimiter struct {
	now func() time.Time
}

// NewRateLimiter creates a rate limiter reading the given clock. A nil clock means time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{now: now}
}

// Window returns the bounds of the window ending at the current clock reading.
func (l *RateLimiter) Window(t *Type) (after, upTo time.Time) {
	upTo = l.now()
	after = upTo.Add(-t.Window())
	return after, upTo
}

// Allow reports whether the client may receive one more notification of type t.
func (l *RateLimiter) Allow(ctx context.Context, log LogStore, t *Type, clientID string) (bool, error) {
	after, upTo := l.Window(t)
	count, err := log.CountInWindow(ctx, clientID, t.Name, after, upTo)
	if err != nil {
		return false, fmt.Errorf("counting notifications in window: %w", err)
	}
	return count < t.MaxOccurrences, nil
}

// Check is Allow for the strict path: a denial is returned as a *common.RateLimitError
// carrying the time until the oldest counted record leaves the window.
func (l *RateLimiter) Check(ctx context.Context, log LogStore, t *Type, clientID string) error {
	after, upTo := l.Window(t)
	count, err := log.CountInWindow(ctx, clientID, t.Name, after, upTo)
	if err != nil {
		return fmt.Errorf("counting notifications in window: %w", err)
	}
	if count < t.MaxOccurrences {
		return nil
	}

	limited := &common.RateLimitError{
		ClientID: clientID,
		Type:     t.Name,
		Max:      t.MaxOccurrences,
		Window:   t.Window(),
	}

	oldest, err := log.OldestInWindow(ctx, clientID, t.Name, after, upTo)
	if err == nil && !oldest.IsZero() {
		if wait := oldest.Add(t.Window()).Sub(upTo); wait > 0 {
			limited.RetryAfter = wait
		}
	}

	return limited
}
