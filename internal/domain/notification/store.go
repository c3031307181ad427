package notification

import (
	"context"
	"time"
)

// TypeStore persists notification types keyed by name.
type TypeStore interface {
	// CreateType inserts a type. A duplicate name must surface as common.ErrDuplicateType.
	CreateType(ctx context.Context, t *Type) error

	// GetType retrieves a type by name. Returns nil, nil if no record is found.
	GetType(ctx context.Context, name string) (*Type, error)

	// ListTypes returns all types ordered by name.
	ListTypes(ctx context.Context) ([]*Type, error)

	// UpdateTypePolicy replaces the policy fields of an existing type and returns it.
	// Returns nil, nil if no type has that name.
	UpdateTypePolicy(ctx context.Context, name string, maxOccurrences, windowMinutes int, updatedAt time.Time) (*Type, error)

	// DeleteType removes a type. A referenced type must surface as
	// common.ErrTypeInUse; a missing one as common.ErrTypeNotFound.
	DeleteType(ctx context.Context, name string) error
}

// LogStore is the append-only notification log.
type LogStore interface {
	// Append inserts a record.
	Append(ctx context.Context, r *Record) error

	// CountInWindow counts records of the client and type with after < SentAt <= upTo.
	CountInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (int, error)

	// OldestInWindow returns the earliest SentAt counted by CountInWindow,
	// or the zero time when there is none.
	OldestInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (time.Time, error)

	// GetRecord retrieves a record by ID. Returns nil, nil if no record is found.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// ListRecords retrieves records newest first with pagination and filtering.
	ListRecords(ctx context.Context, filter ListFilter) ([]*Record, int, error)
}

// DeliveryStore persists delivery state, one row per record.
type DeliveryStore interface {
	// CreateDelivery inserts the delivery row of a record.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery retrieves the delivery of a record. Returns nil, nil if none exists.
	GetDelivery(ctx context.Context, recordID string) (*Delivery, error)

	// UpdateDeliveryStatus sets the status; non-empty providerID and errMsg are stored too.
	UpdateDeliveryStatus(ctx context.Context, recordID string, status DeliveryStatus, providerID, errMsg string) error

	// UpdateDeliveryByProviderID sets the status of the delivery the provider knows by providerID.
	UpdateDeliveryByProviderID(ctx context.Context, providerID string, status DeliveryStatus) error

	// ListStaleDeliveries returns deliveries stuck in queued/processing whose last
	// update is older than olderThan, oldest first. Used by the reaper.
	ListStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]*Delivery, error)
}

// Store is everything the notification service persists.
type Store interface {
	TypeStore
	LogStore
	DeliveryStore
}
