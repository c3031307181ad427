package store

import (
	"context"
	"fmt"
	"log/slog"

	"notifgate/internal/common"
	"notifgate/internal/config"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
)

// Backend is a storage driver serving both domains.
type Backend interface {
	client.Store
	notification.Store
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*MemoryStore)(nil)
	_ Backend = (*PostgresStore)(nil)
	_ Backend = (*SupabaseStore)(nil)
)

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.AutoMigrate, logger)
	case config.DriverSupabase:
		return NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// missingReference names the absent side of a record rejected by a foreign key,
// the same way MemoryStore.Append reports it.
func missingReference(ctx context.Context, clients client.Store, r *notification.Record) error {
	c, err := clients.GetClient(ctx, r.ClientID)
	if err == nil && c == nil {
		return common.NewNotFoundError("client", r.ClientID, common.ErrClientNotFound)
	}
	return common.NewNotFoundError("notification type", r.TypeName, common.ErrUnknownNotificationType)
}
