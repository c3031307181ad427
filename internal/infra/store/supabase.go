package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	clientsTable    = "clients"
	typesTable      = "notification_types"
	recordsTable    = "notification_records"
	deliveriesTable = "notification_deliveries"
)

// PostgREST surfaces Postgres errors as "(SQLSTATE) message".
const (
	pgUniqueViolation     = "(23505)"
	pgForeignKeyViolation = "(23503)"
)

var (
	_ client.Store       = (*SupabaseStore)(nil)
	_ notification.Store = (*SupabaseStore)(nil)
)

// SupabaseStore implements the client and notification stores using the Supabase Go SDK.
// It expects the schema PostgresStore.Migrate creates.
type SupabaseStore struct {
	client *supa.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(supabaseURL, serviceKey string, logger *slog.Logger) (*SupabaseStore, error) {
	c, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{
		client: c,
		logger: common.LoggerOrDiscard(logger).With("component", "supabase_store"),
		now:    time.Now,
	}, nil
}

type supabaseClientRow struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

type supabaseTypeRow struct {
	Name           string `json:"name"`
	MaxOccurrences int    `json:"max_occurrences"`
	WindowMinutes  int    `json:"window_minutes"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type supabaseRecordRow struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	TypeName string `json:"type_name"`
	Message  string `json:"message"`
	SentAt   string `json:"sent_at"`
}

type supabaseDeliveryRow struct {
	RecordID     string  `json:"record_id"`
	Status       string  `json:"status"`
	ProviderID   *string `json:"provider_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Ping issues a cheap query against the clients table.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	_, _, err := s.client.From(clientsTable).Select("id", "", true).Limit(1, "").Execute()
	if err != nil {
		return fmt.Errorf("pinging supabase: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK holds no pooled connections.
func (s *SupabaseStore) Close() error { return nil }

// CreateClient inserts a client.
func (s *SupabaseStore) CreateClient(ctx context.Context, c *client.Client) error {
	row := supabaseClientRow{ID: c.ID, Email: c.Email, CreatedAt: formatTime(c.CreatedAt)}
	if _, _, err := s.client.From(clientsTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		if isPgError(err, pgUniqueViolation) {
			return common.NewConflictError("client", c.Email, common.ErrDuplicateClient)
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID. Returns nil, nil if no record is found.
func (s *SupabaseStore) GetClient(ctx context.Context, id string) (*client.Client, error) {
	var rows []supabaseClientRow
	if _, err := s.client.From(clientsTable).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("fetching client: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return clientFromSupabase(&rows[0]), nil
}

// ListClients returns all clients ordered by creation time.
func (s *SupabaseStore) ListClients(ctx context.Context) ([]*client.Client, error) {
	var rows []supabaseClientRow
	_, err := s.client.From(clientsTable).Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	out := make([]*client.Client, len(rows))
	for i := range rows {
		out[i] = clientFromSupabase(&rows[i])
	}
	return out, nil
}

// DeleteClient removes a client without notification history.
func (s *SupabaseStore) DeleteClient(ctx context.Context, id string) error {
	var deleted []supabaseClientRow
	_, err := s.client.From(clientsTable).Delete("representation", "").Eq("id", id).ExecuteTo(&deleted)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return common.NewConflictError("client", id, common.ErrClientInUse)
		}
		return fmt.Errorf("deleting client: %w", err)
	}
	if len(deleted) == 0 {
		return common.NewNotFoundError("client", id, common.ErrClientNotFound)
	}
	return nil
}

// CreateType inserts a notification type.
func (s *SupabaseStore) CreateType(ctx context.Context, t *notification.Type) error {
	row := supabaseTypeRow{
		Name:           t.Name,
		MaxOccurrences: t.MaxOccurrences,
		WindowMinutes:  t.WindowMinutes,
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
	}
	if _, _, err := s.client.From(typesTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		if isPgError(err, pgUniqueViolation) {
			return common.NewConflictError("notification type", t.Name, common.ErrDuplicateType)
		}
		return fmt.Errorf("inserting notification type: %w", err)
	}
	return nil
}

// GetType retrieves a type by name. Returns nil, nil if no record is found.
func (s *SupabaseStore) GetType(ctx context.Context, name string) (*notification.Type, error) {
	var rows []supabaseTypeRow
	if _, err := s.client.From(typesTable).Select("*", "", false).Eq("name", name).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("fetching notification type: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return typeFromSupabase(&rows[0]), nil
}

// ListTypes returns all types ordered by name.
func (s *SupabaseStore) ListTypes(ctx context.Context) ([]*notification.Type, error) {
	var rows []supabaseTypeRow
	_, err := s.client.From(typesTable).Select("*", "", false).
		Order("name", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("listing notification types: %w", err)
	}

	out := make([]*notification.Type, len(rows))
	for i := range rows {
		out[i] = typeFromSupabase(&rows[i])
	}
	return out, nil
}

// UpdateTypePolicy replaces the policy of an existing type.
func (s *SupabaseStore) UpdateTypePolicy(ctx context.Context, name string, maxOccurrences, windowMinutes int, updatedAt time.Time) (*notification.Type, error) {
	update := map[string]any{
		"max_occurrences": maxOccurrences,
		"window_minutes":  windowMinutes,
		"updated_at":      formatTime(updatedAt),
	}

	var rows []supabaseTypeRow
	if _, err := s.client.From(typesTable).Update(update, "representation", "").Eq("name", name).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("updating notification type: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return typeFromSupabase(&rows[0]), nil
}

// DeleteType removes a type without notification history.
func (s *SupabaseStore) DeleteType(ctx context.Context, name string) error {
	var deleted []supabaseTypeRow
	_, err := s.client.From(typesTable).Delete("representation", "").Eq("name", name).ExecuteTo(&deleted)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return common.NewConflictError("notification type", name, common.ErrTypeInUse)
		}
		return fmt.Errorf("deleting notification type: %w", err)
	}
	if len(deleted) == 0 {
		return common.NewNotFoundError("notification type", name, common.ErrTypeNotFound)
	}
	return nil
}

// Append inserts a record.
func (s *SupabaseStore) Append(ctx context.Context, r *notification.Record) error {
	row := supabaseRecordRow{
		ID:       r.ID,
		ClientID: r.ClientID,
		TypeName: r.TypeName,
		Message:  r.Message,
		SentAt:   formatTime(r.SentAt),
	}
	if _, _, err := s.client.From(recordsTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return missingReference(ctx, s, r)
		}
		return fmt.Errorf("inserting notification record: %w", err)
	}
	return nil
}

// windowFilter selects the pair's records with after < sent_at <= upTo. Both bounds
// go in one and=() filter since per-column filters overwrite each other.
func (s *SupabaseStore) windowFilter(columns, count string, head bool, clientID, typeName string, after, upTo time.Time) *postgrest.FilterBuilder {
	return s.client.From(recordsTable).Select(columns, count, head).
		Eq("client_id", clientID).
		Eq("type_name", typeName).
		And(fmt.Sprintf(`sent_at.gt."%s",sent_at.lte."%s"`, formatTime(after), formatTime(upTo)), "")
}

// CountInWindow counts records of the pair with after < sent_at <= upTo.
func (s *SupabaseStore) CountInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (int, error) {
	_, count, err := s.windowFilter("id", "exact", true, clientID, typeName, after, upTo).Execute()
	if err != nil {
		return 0, fmt.Errorf("counting notification records: %w", err)
	}
	return int(count), nil
}

// OldestInWindow returns the earliest sent_at counted by CountInWindow.
func (s *SupabaseStore) OldestInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (time.Time, error) {
	var rows []supabaseRecordRow
	_, err := s.windowFilter("sent_at", "", false, clientID, typeName, after, upTo).
		Order("sent_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding oldest notification record: %w", err)
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return parseTime(rows[0].SentAt), nil
}

// GetRecord retrieves a record by ID. Returns nil, nil if no record is found.
func (s *SupabaseStore) GetRecord(ctx context.Context, id string) (*notification.Record, error) {
	var rows []supabaseRecordRow
	if _, err := s.client.From(recordsTable).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("fetching notification record: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return recordFromSupabase(&rows[0]), nil
}

// ListRecords retrieves records newest first with pagination and filtering.
func (s *SupabaseStore) ListRecords(ctx context.Context, filter notification.ListFilter) ([]*notification.Record, int, error) {
	filter = filter.Normalize()
	offset := filter.Offset()

	query := s.client.From(recordsTable).Select("*", "exact", false)
	if filter.ClientID != "" {
		query = query.Eq("client_id", filter.ClientID)
	}
	if filter.Type != "" {
		query = query.Eq("type_name", filter.Type)
	}

	query = query.Order("sent_at", &postgrest.OrderOpts{Ascending: false})
	query = query.Range(offset, offset+filter.PageSize-1, "")

	data, count, err := query.Execute()
	if err != nil {
		return nil, 0, fmt.Errorf("listing notification records: %w", err)
	}

	var rows []supabaseRecordRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("parsing notification list: %w", err)
	}

	out := make([]*notification.Record, len(rows))
	for i := range rows {
		out[i] = recordFromSupabase(&rows[i])
	}
	return out, int(count), nil
}

// CreateDelivery inserts the delivery row of a record.
func (s *SupabaseStore) CreateDelivery(ctx context.Context, d *notification.Delivery) error {
	row := supabaseDeliveryRow{
		RecordID:  d.RecordID,
		Status:    string(d.Status),
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
	}
	if _, _, err := s.client.From(deliveriesTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves the delivery of a record. Returns nil, nil if none exists.
func (s *SupabaseStore) GetDelivery(ctx context.Context, recordID string) (*notification.Delivery, error) {
	var rows []supabaseDeliveryRow
	if _, err := s.client.From(deliveriesTable).Select("*", "", false).Eq("record_id", recordID).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("fetching delivery: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return deliveryFromSupabase(&rows[0]), nil
}

// UpdateDeliveryStatus sets the status of a record's delivery.
func (s *SupabaseStore) UpdateDeliveryStatus(ctx context.Context, recordID string, status notification.DeliveryStatus, providerID, errMsg string) error {
	update := map[string]any{
		"status":     string(status),
		"updated_at": formatTime(s.now()),
	}
	if providerID != "" {
		update["provider_id"] = providerID
	}
	if errMsg != "" {
		update["error_message"] = errMsg
	}

	if _, _, err := s.client.From(deliveriesTable).Update(update, "", "").Eq("record_id", recordID).Execute(); err != nil {
		return fmt.Errorf("updating delivery status: %w", err)
	}
	return nil
}

// UpdateDeliveryByProviderID sets the status of the delivery known by providerID.
func (s *SupabaseStore) UpdateDeliveryByProviderID(ctx context.Context, providerID string, status notification.DeliveryStatus) error {
	update := map[string]any{
		"status":     string(status),
		"updated_at": formatTime(s.now()),
	}

	if _, _, err := s.client.From(deliveriesTable).Update(update, "", "").Eq("provider_id", providerID).Execute(); err != nil {
		return fmt.Errorf("updating webhook status: %w", err)
	}
	return nil
}

// ListStaleDeliveries returns queued/processing deliveries last updated before olderThan.
func (s *SupabaseStore) ListStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []supabaseDeliveryRow
	_, err := s.client.From(deliveriesTable).
		Select("*", "", false).
		In("status", []string{string(notification.StatusQueued), string(notification.StatusProcessing)}).
		Lt("updated_at", formatTime(olderThan)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("listing stale deliveries: %w", err)
	}

	out := make([]*notification.Delivery, len(rows))
	for i := range rows {
		out[i] = deliveryFromSupabase(&rows[i])
	}
	return out, nil
}

func isPgError(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 as well as the space-separated form Postgres
// renders timestamptz in. Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func clientFromSupabase(row *supabaseClientRow) *client.Client {
	return &client.Client{ID: row.ID, Email: row.Email, CreatedAt: parseTime(row.CreatedAt)}
}

func typeFromSupabase(row *supabaseTypeRow) *notification.Type {
	return &notification.Type{
		Name:           row.Name,
		MaxOccurrences: row.MaxOccurrences,
		WindowMinutes:  row.WindowMinutes,
		CreatedAt:      parseTime(row.CreatedAt),
		UpdatedAt:      parseTime(row.UpdatedAt),
	}
}

func recordFromSupabase(row *supabaseRecordRow) *notification.Record {
	return &notification.Record{
		ID:       row.ID,
		ClientID: row.ClientID,
		TypeName: row.TypeName,
		Message:  row.Message,
		SentAt:   parseTime(row.SentAt),
	}
}

func deliveryFromSupabase(row *supabaseDeliveryRow) *notification.Delivery {
	d := &notification.Delivery{
		RecordID:  row.RecordID,
		Status:    notification.DeliveryStatus(row.Status),
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
	if row.ProviderID != nil {
		d.ProviderID = *row.ProviderID
	}
	if row.ErrorMessage != nil {
		d.ErrorMessage = *row.ErrorMessage
	}
	return d
}
