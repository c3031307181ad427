package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
)

var (
	_ client.Store       = (*MemoryStore)(nil)
	_ notification.Store = (*MemoryStore)(nil)
)

// MemoryStore keeps clients, types, records and deliveries in process memory.
// It enforces the same uniqueness and referential rules as the SQL backends.
type MemoryStore struct {
	mu sync.RWMutex

	clients        map[string]*client.Client
	clientByEmail  map[string]string
	types          map[string]*notification.Type
	records        []*notification.Record
	recordByID     map[string]*notification.Record
	deliveries     map[string]*notification.Delivery
	deliveryByProv map[string]string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:        make(map[string]*client.Client),
		clientByEmail:  make(map[string]string),
		types:          make(map[string]*notification.Type),
		recordByID:     make(map[string]*notification.Record),
		deliveries:     make(map[string]*notification.Delivery),
		deliveryByProv: make(map[string]string),
		now:            time.Now,
	}
}

// SetClock replaces the clock used to stamp delivery updates.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateClient inserts a client.
func (s *MemoryStore) CreateClient(_ context.Context, c *client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clientByEmail[c.Email]; ok {
		return common.NewConflictError("client", c.Email, common.ErrDuplicateClient)
	}
	if _, ok := s.clients[c.ID]; ok {
		return common.NewConflictError("client", c.ID, common.ErrDuplicateClient)
	}

	cp := *c
	s.clients[c.ID] = &cp
	s.clientByEmail[c.Email] = c.ID
	return nil
}

// GetClient retrieves a client by ID. Returns nil, nil if no record is found.
func (s *MemoryStore) GetClient(_ context.Context, id string) (*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListClients returns all clients ordered by creation time.
func (s *MemoryStore) ListClients(_ context.Context) ([]*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteClient removes a client without notification history.
func (s *MemoryStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return common.NewNotFoundError("client", id, common.ErrClientNotFound)
	}
	for _, r := range s.records {
		if r.ClientID == id {
			return common.NewConflictError("client", id, common.ErrClientInUse)
		}
	}

	delete(s.clientByEmail, c.Email)
	delete(s.clients, id)
	return nil
}

// CreateType inserts a notification type.
func (s *MemoryStore) CreateType(_ context.Context, t *notification.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.types[t.Name]; ok {
		return common.NewConflictError("notification type", t.Name, common.ErrDuplicateType)
	}
	cp := *t
	s.types[t.Name] = &cp
	return nil
}

// GetType retrieves a type by name. Returns nil, nil if no record is found.
func (s *MemoryStore) GetType(_ context.Context, name string) (*notification.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.types[name]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// ListTypes returns all types ordered by name.
func (s *MemoryStore) ListTypes(_ context.Context) ([]*notification.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*notification.Type, 0, len(s.types))
	for _, t := range s.types {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTypePolicy replaces the policy of an existing type.
func (s *MemoryStore) UpdateTypePolicy(_ context.Context, name string, maxOccurrences, windowMinutes int, updatedAt time.Time) (*notification.Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.types[name]
	if !ok {
		return nil, nil
	}
	t.MaxOccurrences = maxOccurrences
	t.WindowMinutes = windowMinutes
	t.UpdatedAt = updatedAt

	cp := *t
	return &cp, nil
}

// DeleteType removes a type without notification history.
func (s *MemoryStore) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.types[name]; !ok {
		return common.NewNotFoundError("notification type", name, common.ErrTypeNotFound)
	}
	for _, r := range s.records {
		if r.TypeName == name {
			return common.NewConflictError("notification type", name, common.ErrTypeInUse)
		}
	}

	delete(s.types, name)
	return nil
}

// Append inserts a record. The client and type must exist.
func (s *MemoryStore) Append(_ context.Context, r *notification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[r.ClientID]; !ok {
		return common.NewNotFoundError("client", r.ClientID, common.ErrClientNotFound)
	}
	if _, ok := s.types[r.TypeName]; !ok {
		return common.NewNotFoundError("notification type", r.TypeName, common.ErrUnknownNotificationType)
	}

	cp := *r
	s.records = append(s.records, &cp)
	s.recordByID[r.ID] = &cp
	return nil
}

// CountInWindow counts records of the pair with after < SentAt <= upTo.
func (s *MemoryStore) CountInWindow(_ context.Context, clientID, typeName string, after, upTo time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if inWindow(r, clientID, typeName, after, upTo) {
			n++
		}
	}
	return n, nil
}

// OldestInWindow returns the earliest SentAt counted by CountInWindow.
func (s *MemoryStore) OldestInWindow(_ context.Context, clientID, typeName string, after, upTo time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest time.Time
	for _, r := range s.records {
		if inWindow(r, clientID, typeName, after, upTo) && (oldest.IsZero() || r.SentAt.Before(oldest)) {
			oldest = r.SentAt
		}
	}
	return oldest, nil
}

func inWindow(r *notification.Record, clientID, typeName string, after, upTo time.Time) bool {
	return r.ClientID == clientID &&
		r.TypeName == typeName &&
		r.SentAt.After(after) &&
		!r.SentAt.After(upTo)
}

// GetRecord retrieves a record by ID. Returns nil, nil if no record is found.
func (s *MemoryStore) GetRecord(_ context.Context, id string) (*notification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recordByID[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// ListRecords retrieves records newest first with pagination and filtering.
func (s *MemoryStore) ListRecords(_ context.Context, filter notification.ListFilter) ([]*notification.Record, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*notification.Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if filter.ClientID != "" && r.ClientID != filter.ClientID {
			continue
		}
		if filter.Type != "" && r.TypeName != filter.Type {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].SentAt.After(matched[j].SentAt) })

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*notification.Record{}, total, nil
	}
	end := min(start+filter.PageSize, total)
	return matched[start:end], total, nil
}

// CreateDelivery inserts the delivery row of a record.
func (s *MemoryStore) CreateDelivery(_ context.Context, d *notification.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recordByID[d.RecordID]; !ok {
		return common.NewNotFoundError("notification", d.RecordID, common.ErrRecordNotFound)
	}
	cp := *d
	s.deliveries[d.RecordID] = &cp
	return nil
}

// GetDelivery retrieves the delivery of a record. Returns nil, nil if none exists.
func (s *MemoryStore) GetDelivery(_ context.Context, recordID string) (*notification.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[recordID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// UpdateDeliveryStatus sets the status of a record's delivery.
func (s *MemoryStore) UpdateDeliveryStatus(_ context.Context, recordID string, status notification.DeliveryStatus, providerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[recordID]
	if !ok {
		return common.NewNotFoundError("delivery", recordID, common.ErrRecordNotFound)
	}
	d.Status = status
	d.UpdatedAt = s.now().UTC()
	if providerID != "" {
		d.ProviderID = providerID
		s.deliveryByProv[providerID] = recordID
	}
	if errMsg != "" {
		d.ErrorMessage = errMsg
	}
	return nil
}

// UpdateDeliveryByProviderID sets the status of the delivery known by providerID.
// Unknown provider IDs are ignored.
func (s *MemoryStore) UpdateDeliveryByProviderID(_ context.Context, providerID string, status notification.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordID, ok := s.deliveryByProv[providerID]
	if !ok {
		return nil
	}
	d := s.deliveries[recordID]
	d.Status = status
	d.UpdatedAt = s.now().UTC()
	return nil
}

// ListStaleDeliveries returns queued/processing deliveries last updated before olderThan.
func (s *MemoryStore) ListStaleDeliveries(_ context.Context, olderThan time.Time, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*notification.Delivery, 0)
	for _, d := range s.deliveries {
		if d.Status != notification.StatusQueued && d.Status != notification.StatusProcessing {
			continue
		}
		if !d.UpdatedAt.Before(olderThan) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
