package notification

import (
	"math"
	"time"
)

// Mode decides what a denied send returns.
type Mode string

const (
	// ModeStrict fails a denied send with common.ErrRateLimitExceeded.
	ModeStrict Mode = "strict"
	// ModePermissive reports a denied send as SendResult{Sent: false} without an error.
	ModePermissive Mode = "permissive"
)

// Type is a named notification kind carrying its rate limit policy:
// at most MaxOccurrences records per client within WindowMinutes.
type Type struct {
	Name           string    `json:"name"`
	MaxOccurrences int       `json:"max_occurrences"`
	WindowMinutes  int       `json:"window_minutes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MaxWindowMinutes is the longest window a time.Duration can hold.
const MaxWindowMinutes = math.MaxInt64 / int64(time.Minute)

// Window returns the policy window as a duration, saturating at MaxWindowMinutes.
func (t *Type) Window() time.Duration {
	if int64(t.WindowMinutes) > MaxWindowMinutes {
		return time.Duration(MaxWindowMinutes) * time.Minute
	}
	return time.Duration(t.WindowMinutes) * time.Minute
}

// TypeRequest is the API request payload for creating a notification type.
type TypeRequest struct {
	Name           string `json:"name" binding:"required"`
	MaxOccurrences int    `json:"max_occurrences"`
	WindowMinutes  int    `json:"window_minutes"`
}

// PolicyRequest is the API request payload for editing a type's policy.
type PolicyRequest struct {
	MaxOccurrences int `json:"max_occurrences"`
	WindowMinutes  int `json:"window_minutes"`
}

// SendRequest is the API request payload for sending a notification.
type SendRequest struct {
	Type     string `json:"type" binding:"required"`
	ClientID string `json:"client_id" binding:"required"`
	Message  string `json:"message"`
}

// SendResult reports the outcome of a send. Sent is false only for a
// permissive-mode denial.
type SendResult struct {
	Sent   bool    `json:"sent"`
	Record *Record `json:"notification,omitempty"`
	Reason string  `json:"reason,omitempty"`
}
