package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"notifgate/internal/common"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service manages the client directory.
type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new client service. A nil clock means time.Now.
func NewService(store Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		validate: validator.New(),
		now:      now,
		logger:   common.LoggerOrDiscard(logger).With("component", "clients"),
	}
}

// Create registers a new client with the given email.
func (s *Service) Create(ctx context.Context, email string) (*Client, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, common.NewValidationError(fmt.Sprintf("invalid email address: %q", email))
	}

	c := &Client{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.CreateClient(ctx, c); err != nil {
		if errors.Is(err, common.ErrDuplicateClient) {
			s.logger.Error("client already exists", "email", email)
			return nil, err
		}
		return nil, fmt.Errorf("creating client: %w", err)
	}

	s.logger.Info("client created", "client_id", c.ID, "email", c.Email)
	return c, nil
}

// Get resolves a client by ID. Fails with common.ErrClientNotFound if absent.
func (s *Service) Get(ctx context.Context, id string) (*Client, error) {
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching client: %w", err)
	}
	if c == nil {
		s.logger.Warn("client does not exist", "client_id", id)
		return nil, common.NewNotFoundError("client", id, common.ErrClientNotFound)
	}
	return c, nil
}

// List returns every registered client.
func (s *Service) List(ctx context.Context) ([]*Client, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return clients, nil
}

// Delete removes a client that has no notification history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteClient(ctx, id); err != nil {
		switch {
		case errors.Is(err, common.ErrClientInUse), errors.Is(err, common.ErrClientNotFound):
			s.logger.Warn("client delete rejected", "client_id", id, "error", err)
			return err
		default:
			return fmt.Errorf("deleting client: %w", err)
		}
	}

	s.logger.Info("client deleted", "client_id", id)
	return nil
}
