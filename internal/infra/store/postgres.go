package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	_ client.Store       = (*PostgresStore)(nil)
	_ notification.Store = (*PostgresStore)(nil)
	_ notification.Guard = (*TxGuard)(nil)
)

type clientRow struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Email     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (clientRow) TableName() string { return "clients" }

type typeRow struct {
	Name           string    `gorm:"primaryKey;type:text"`
	MaxOccurrences int       `gorm:"not null"`
	WindowMinutes  int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (typeRow) TableName() string { return "notification_types" }

type recordRow struct {
	ID       string    `gorm:"primaryKey;type:text"`
	ClientID string    `gorm:"not null;index:idx_records_window,priority:1"`
	TypeName string    `gorm:"not null;index:idx_records_window,priority:2"`
	Message  string    `gorm:"not null;default:''"`
	SentAt   time.Time `gorm:"not null;index:idx_records_window,priority:3"`

	Client clientRow `gorm:"foreignKey:ClientID;references:ID;constraint:OnDelete:RESTRICT"`
	Type   typeRow   `gorm:"foreignKey:TypeName;references:Name;constraint:OnDelete:RESTRICT,OnUpdate:CASCADE"`
}

func (recordRow) TableName() string { return "notification_records" }

type deliveryRow struct {
	RecordID     string    `gorm:"primaryKey;type:text"`
	Status       string    `gorm:"not null;index:idx_deliveries_stale,priority:1"`
	ProviderID   *string   `gorm:"index"`
	ErrorMessage *string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;index:idx_deliveries_stale,priority:2"`

	Record recordRow `gorm:"foreignKey:RecordID;references:ID;constraint:OnDelete:CASCADE"`
}

func (deliveryRow) TableName() string { return "notification_deliveries" }

// PostgresStore implements the client and notification stores on PostgreSQL through gorm.
// Unique and foreign-key violations are translated to the domain conflict errors.
type PostgresStore struct {
	db     *gorm.DB
	pool   *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore opens a connection pool and, when autoMigrate is set,
// creates or updates the schema.
func NewPostgresStore(ctx context.Context, dsn string, autoMigrate bool, logger *slog.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		pool:   db,
		logger: common.LoggerOrDiscard(logger).With("component", "postgres_store"),
		now:    time.Now,
	}

	if autoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Migrate creates or updates the tables, indexes and foreign keys.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&clientRow{}, &typeRow{}, &recordRow{}, &deliveryRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	s.logger.Info("schema migrated")
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) withTx(tx *gorm.DB) *PostgresStore {
	return &PostgresStore{db: tx, pool: s.pool, logger: s.logger, now: s.now}
}

// outsideTx reads through the pool, so it still works after the bound
// transaction has been aborted by a failed statement.
func (s *PostgresStore) outsideTx() *PostgresStore {
	return &PostgresStore{db: s.pool, pool: s.pool, logger: s.logger, now: s.now}
}

// CreateClient inserts a client.
func (s *PostgresStore) CreateClient(ctx context.Context, c *client.Client) error {
	row := clientRow{ID: c.ID, Email: c.Email, CreatedAt: c.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return common.NewConflictError("client", c.Email, common.ErrDuplicateClient)
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID. Returns nil, nil if no record is found.
func (s *PostgresStore) GetClient(ctx context.Context, id string) (*client.Client, error) {
	var row clientRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching client: %w", err)
	}
	return &client.Client{ID: row.ID, Email: row.Email, CreatedAt: row.CreatedAt}, nil
}

// ListClients returns all clients ordered by creation time.
func (s *PostgresStore) ListClients(ctx context.Context) ([]*client.Client, error) {
	var rows []clientRow
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	out := make([]*client.Client, len(rows))
	for i, row := range rows {
		out[i] = &client.Client{ID: row.ID, Email: row.Email, CreatedAt: row.CreatedAt}
	}
	return out, nil
}

// DeleteClient removes a client without notification history.
func (s *PostgresStore) DeleteClient(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&clientRow{})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrForeignKeyViolated) {
			return common.NewConflictError("client", id, common.ErrClientInUse)
		}
		return fmt.Errorf("deleting client: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError("client", id, common.ErrClientNotFound)
	}
	return nil
}

// CreateType inserts a notification type.
func (s *PostgresStore) CreateType(ctx context.Context, t *notification.Type) error {
	row := typeRow{
		Name:           t.Name,
		MaxOccurrences: t.MaxOccurrences,
		WindowMinutes:  t.WindowMinutes,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return common.NewConflictError("notification type", t.Name, common.ErrDuplicateType)
		}
		return fmt.Errorf("inserting notification type: %w", err)
	}
	return nil
}

// GetType retrieves a type by name. Returns nil, nil if no record is found.
func (s *PostgresStore) GetType(ctx context.Context, name string) (*notification.Type, error) {
	var row typeRow
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching notification type: %w", err)
	}
	return typeFromRow(&row), nil
}

// ListTypes returns all types ordered by name.
func (s *PostgresStore) ListTypes(ctx context.Context) ([]*notification.Type, error) {
	var rows []typeRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing notification types: %w", err)
	}

	out := make([]*notification.Type, len(rows))
	for i := range rows {
		out[i] = typeFromRow(&rows[i])
	}
	return out, nil
}

// UpdateTypePolicy replaces the policy of an existing type.
func (s *PostgresStore) UpdateTypePolicy(ctx context.Context, name string, maxOccurrences, windowMinutes int, updatedAt time.Time) (*notification.Type, error) {
	res := s.db.WithContext(ctx).Model(&typeRow{}).Where("name = ?", name).Updates(map[string]any{
		"max_occurrences": maxOccurrences,
		"window_minutes":  windowMinutes,
		"updated_at":      updatedAt,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("updating notification type: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetType(ctx, name)
}

// DeleteType removes a type without notification history.
func (s *PostgresStore) DeleteType(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&typeRow{})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrForeignKeyViolated) {
			return common.NewConflictError("notification type", name, common.ErrTypeInUse)
		}
		return fmt.Errorf("deleting notification type: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError("notification type", name, common.ErrTypeNotFound)
	}
	return nil
}

// Append inserts a record.
func (s *PostgresStore) Append(ctx context.Context, r *notification.Record) error {
	row := recordRow{
		ID:       r.ID,
		ClientID: r.ClientID,
		TypeName: r.TypeName,
		Message:  r.Message,
		SentAt:   r.SentAt,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return missingReference(ctx, s.outsideTx(), r)
		}
		return fmt.Errorf("inserting notification record: %w", err)
	}
	return nil
}

func (s *PostgresStore) windowQuery(ctx context.Context, clientID, typeName string, after, upTo time.Time) *gorm.DB {
	return s.db.WithContext(ctx).Model(&recordRow{}).
		Where("client_id = ? AND type_name = ? AND sent_at > ? AND sent_at <= ?", clientID, typeName, after, upTo)
}

// CountInWindow counts records of the pair with after < sent_at <= upTo.
func (s *PostgresStore) CountInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (int, error) {
	var n int64
	if err := s.windowQuery(ctx, clientID, typeName, after, upTo).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting notification records: %w", err)
	}
	return int(n), nil
}

// OldestInWindow returns the earliest sent_at counted by CountInWindow.
func (s *PostgresStore) OldestInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (time.Time, error) {
	var oldest sql.NullTime
	if err := s.windowQuery(ctx, clientID, typeName, after, upTo).Select("MIN(sent_at)").Scan(&oldest).Error; err != nil {
		return time.Time{}, fmt.Errorf("finding oldest notification record: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return oldest.Time, nil
}

// GetRecord retrieves a record by ID. Returns nil, nil if no record is found.
func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*notification.Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching notification record: %w", err)
	}
	return recordFromRow(&row), nil
}

// ListRecords retrieves records newest first with pagination and filtering.
func (s *PostgresStore) ListRecords(ctx context.Context, filter notification.ListFilter) ([]*notification.Record, int, error) {
	filter = filter.Normalize()

	query := s.db.WithContext(ctx).Model(&recordRow{})
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.Type != "" {
		query = query.Where("type_name = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting notification records: %w", err)
	}

	var rows []recordRow
	err := query.Order("sent_at DESC, id DESC").Offset(filter.Offset()).Limit(filter.PageSize).Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing notification records: %w", err)
	}

	out := make([]*notification.Record, len(rows))
	for i := range rows {
		out[i] = recordFromRow(&rows[i])
	}
	return out, int(total), nil
}

// CreateDelivery inserts the delivery row of a record.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d *notification.Delivery) error {
	row := deliveryRow{
		RecordID:  d.RecordID,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves the delivery of a record. Returns nil, nil if none exists.
func (s *PostgresStore) GetDelivery(ctx context.Context, recordID string) (*notification.Delivery, error) {
	var row deliveryRow
	err := s.db.WithContext(ctx).Where("record_id = ?", recordID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching delivery: %w", err)
	}
	return deliveryFromRow(&row), nil
}

// UpdateDeliveryStatus sets the status of a record's delivery.
func (s *PostgresStore) UpdateDeliveryStatus(ctx context.Context, recordID string, status notification.DeliveryStatus, providerID, errMsg string) error {
	update := map[string]any{
		"status":     string(status),
		"updated_at": s.now().UTC(),
	}
	if providerID != "" {
		update["provider_id"] = providerID
	}
	if errMsg != "" {
		update["error_message"] = errMsg
	}

	res := s.db.WithContext(ctx).Model(&deliveryRow{}).Where("record_id = ?", recordID).Updates(update)
	if res.Error != nil {
		return fmt.Errorf("updating delivery status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError("delivery", recordID, common.ErrRecordNotFound)
	}
	return nil
}

// UpdateDeliveryByProviderID sets the status of the delivery known by providerID.
func (s *PostgresStore) UpdateDeliveryByProviderID(ctx context.Context, providerID string, status notification.DeliveryStatus) error {
	err := s.db.WithContext(ctx).Model(&deliveryRow{}).Where("provider_id = ?", providerID).Updates(map[string]any{
		"status":     string(status),
		"updated_at": s.now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("updating webhook status: %w", err)
	}
	return nil
}

// ListStaleDeliveries returns queued/processing deliveries last updated before olderThan.
func (s *PostgresStore) ListStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []deliveryRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(notification.StatusQueued), string(notification.StatusProcessing)}).
		Where("updated_at < ?", olderThan.UTC()).
		Order("updated_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale deliveries: %w", err)
	}

	out := make([]*notification.Delivery, len(rows))
	for i := range rows {
		out[i] = deliveryFromRow(&rows[i])
	}
	return out, nil
}

func typeFromRow(row *typeRow) *notification.Type {
	return &notification.Type{
		Name:           row.Name,
		MaxOccurrences: row.MaxOccurrences,
		WindowMinutes:  row.WindowMinutes,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func recordFromRow(row *recordRow) *notification.Record {
	return &notification.Record{
		ID:       row.ID,
		ClientID: row.ClientID,
		TypeName: row.TypeName,
		Message:  row.Message,
		SentAt:   row.SentAt,
	}
}

func deliveryFromRow(row *deliveryRow) *notification.Delivery {
	d := &notification.Delivery{
		RecordID:  row.RecordID,
		Status:    notification.DeliveryStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ProviderID != nil {
		d.ProviderID = *row.ProviderID
	}
	if row.ErrorMessage != nil {
		d.ErrorMessage = *row.ErrorMessage
	}
	return d
}

// TxGuard runs each send in a SERIALIZABLE transaction while holding an
// advisory lock on the key. The lock is taken on the pinned connection before
// the transaction begins, so the transaction's snapshot already includes the
// previous holder's commit. Serialization failures are retried up to retries times.
type TxGuard struct {
	store   *PostgresStore
	retries int
	logger  *slog.Logger
}

// NewTxGuard creates a transactional guard over store.
func NewTxGuard(store *PostgresStore, retries int, logger *slog.Logger) *TxGuard {
	if retries < 0 {
		retries = 0
	}
	return &TxGuard{
		store:   store,
		retries: retries,
		logger:  common.LoggerOrDiscard(logger).With("component", "tx_guard"),
	}
}

// Run executes fn inside the transaction with a LogStore bound to it.
func (g *TxGuard) Run(ctx context.Context, key notification.Key, fn func(ctx context.Context, log notification.LogStore) error) error {
	return g.store.pool.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(hashtext(?))", key.String()).Error; err != nil {
			return fmt.Errorf("locking %s: %w", key, err)
		}
		// The lock is session scoped, so it must be released even when ctx is done.
		defer func() {
			unlock := conn.WithContext(context.WithoutCancel(ctx))
			if err := unlock.Exec("SELECT pg_advisory_unlock(hashtext(?))", key.String()).Error; err != nil {
				g.logger.Error("releasing advisory lock failed", "key", key.String(), "error", err)
			}
		}()

		for attempt := 0; ; attempt++ {
			err := conn.Transaction(func(tx *gorm.DB) error {
				return fn(ctx, g.store.withTx(tx))
			}, &sql.TxOptions{Isolation: sql.LevelSerializable})

			if err == nil || !isRetryable(err) || attempt >= g.retries {
				return err
			}

			g.logger.Warn("transaction conflict, retrying", "key", key.String(), "attempt", attempt+1, "error", err)
		}
	})
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
