package notification

import "time"

// Record is one sent notification. Records are append-only: nothing in the
// service updates or deletes them.
type Record struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	TypeName string    `json:"type"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// DeliveryStatus represents the email delivery status of a record.
type DeliveryStatus string

const (
	StatusQueued     DeliveryStatus = "queued"
	StatusProcessing DeliveryStatus = "processing"
	StatusSent       DeliveryStatus = "sent"
	StatusFailed     DeliveryStatus = "failed"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusBounced    DeliveryStatus = "bounced"
	StatusOpened     DeliveryStatus = "opened"
)

// Done reports whether the worker has nothing left to do for this status.
func (s DeliveryStatus) Done() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusBounced, StatusOpened:
		return true
	}
	return false
}

// Delivery tracks the async email delivery of a single record. It is kept
// apart from Record so the log itself never changes.
type Delivery struct {
	RecordID     string         `json:"record_id"`
	Status       DeliveryStatus `json:"status"`
	ProviderID   string         `json:"provider_id,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ListFilter defines pagination and filtering options for listing records.
type ListFilter struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	ClientID string `form:"client_id"`
	Type     string `form:"type"`
}

// Normalize applies the default page and page size.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

// Offset is the zero-based index of the first record on the page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// ListResponse wraps a paginated list of records.
type ListResponse struct {
	Notifications []*Record `json:"notifications"`
	Total         int       `json:"total"`
	Page          int       `json:"page"`
	PageSize      int       `json:"page_size"`
}
