package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxTypeNameLength = 254

// Enqueuer defines the contract for enqueuing delivery tasks.
// This allows the service to be decoupled from the specific queue implementation.
type Enqueuer interface {
	EnqueueDelivery(recordID string) error
}

// ClientDirectory resolves client IDs. *client.Service satisfies it.
type ClientDirectory interface {
	Get(ctx context.Context, id string) (*client.Client, error)
}

// Options carries the optional collaborators and settings of a Service.
type Options struct {
	// Mode decides what a denied send returns. Defaults to ModeStrict.
	Mode Mode

	// Guard wraps the rate check and the append. Defaults to the unguarded baseline.
	Guard Guard

	// Enqueuer schedules email delivery of appended records. Nil disables delivery.
	Enqueuer Enqueuer

	// Publisher receives sent/denied events. Nil disables publishing.
	Publisher EventPublisher

	Metrics Metrics
	Now     func() time.Time
	Logger  *slog.Logger
}

// Service orchestrates notification type administration and rate-limited sends.
// Send flow: resolve client → resolve type → (guard: check rate → append) → deliver.
type Service struct {
	store     Store
	clients   ClientDirectory
	limiter   *RateLimiter
	guard     Guard
	mode      Mode
	enqueuer  Enqueuer
	publisher EventPublisher
	metrics   Metrics
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService creates a new notification service.
func NewService(store Store, clients ClientDirectory, opts Options) *Service {
	if opts.Mode == "" {
		opts.Mode = ModeStrict
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Guard == nil {
		opts.Guard = NewNoGuard(store)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	return &Service{
		store:     store,
		clients:   clients,
		limiter:   NewRateLimiter(opts.Now),
		guard:     opts.Guard,
		mode:      opts.Mode,
		enqueuer:  opts.Enqueuer,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		now:       opts.Now,
		logger:    common.LoggerOrDiscard(opts.Logger).With("component", "notifications"),
		tracer:    otel.Tracer("notifgate/notification"),
	}
}

// Limiter exposes the rate limiter the service checks with.
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

// CreateType registers a new notification type with its rate limit policy.
func (s *Service) CreateType(ctx context.Context, req *TypeRequest) (*Type, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateTypeName(name); err != nil {
		return nil, err
	}
	if err := validatePolicy(req.MaxOccurrences, req.WindowMinutes); err != nil {
		s.logger.Error("notification type rejected", "name", name, "error", err)
		return nil, err
	}

	now := s.now().UTC()
	t := &Type{
		Name:           name,
		MaxOccurrences: req.MaxOccurrences,
		WindowMinutes:  req.WindowMinutes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateType(ctx, t); err != nil {
		if errors.Is(err, common.ErrDuplicateType) {
			s.logger.Error("notification type already exists", "name", name)
			return nil, err
		}
		return nil, fmt.Errorf("creating notification type: %w", err)
	}

	s.logger.Info("notification type created",
		"name", t.Name,
		"max_occurrences", t.MaxOccurrences,
		"window_minutes", t.WindowMinutes,
	)
	return t, nil
}

// EditType replaces the policy of an existing type. A missing type fails with
// common.ErrTypeNotFound rather than being ignored.
func (s *Service) EditType(ctx context.Context, name string, req *PolicyRequest) (*Type, error) {
	if err := validatePolicy(req.MaxOccurrences, req.WindowMinutes); err != nil {
		s.logger.Error("notification type update rejected", "name", name, "error", err)
		return nil, err
	}

	t, err := s.store.UpdateTypePolicy(ctx, name, req.MaxOccurrences, req.WindowMinutes, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("updating notification type: %w", err)
	}
	if t == nil {
		s.logger.Warn("notification type does not exist", "name", name)
		return nil, common.NewNotFoundError("notification type", name, common.ErrTypeNotFound)
	}

	s.logger.Info("notification type updated",
		"name", t.Name,
		"max_occurrences", t.MaxOccurrences,
		"window_minutes", t.WindowMinutes,
	)
	return t, nil
}

// GetType retrieves a notification type by name.
func (s *Service) GetType(ctx context.Context, name string) (*Type, error) {
	t, err := s.store.GetType(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching notification type: %w", err)
	}
	if t == nil {
		return nil, common.NewNotFoundError("notification type", name, common.ErrTypeNotFound)
	}
	return t, nil
}

// ListTypes returns every notification type.
func (s *Service) ListTypes(ctx context.Context) ([]*Type, error) {
	types, err := s.store.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing notification types: %w", err)
	}
	return types, nil
}

// DeleteType removes a type that no record references.
func (s *Service) DeleteType(ctx context.Context, name string) error {
	if err := s.store.DeleteType(ctx, name); err != nil {
		switch {
		case errors.Is(err, common.ErrTypeInUse), errors.Is(err, common.ErrTypeNotFound):
			s.logger.Warn("notification type delete rejected", "name", name, "error", err)
			return err
		default:
			return fmt.Errorf("deleting notification type: %w", err)
		}
	}

	s.logger.Info("notification type deleted", "name", name)
	return nil
}

// Send records a notification for a client if the type's policy allows it.
//
// The client is resolved before the type, so a request with both wrong reports
// the client. Exactly one record is appended on success and none on any failure.
// A denial fails with common.ErrRateLimitExceeded in strict mode and returns
// SendResult{Sent: false} in permissive mode.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "notification.Send", trace.WithAttributes(
		attribute.String("notification.type", req.Type),
		attribute.String("notification.client_id", req.ClientID),
	))
	defer span.End()

	result, err := s.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("notification.sent", result.Sent))
	return result, nil
}

func (s *Service) send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	c, err := s.clients.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, common.ErrClientNotFound) {
			s.metrics.ObserveSend(OutcomeClientNotFound)
		} else {
			s.metrics.ObserveSend(OutcomeError)
		}
		return nil, err
	}

	typeName := strings.TrimSpace(req.Type)
	t, err := s.store.GetType(ctx, typeName)
	if err != nil {
		s.metrics.ObserveSend(OutcomeError)
		return nil, fmt.Errorf("fetching notification type: %w", err)
	}
	if t == nil {
		s.logger.Error("notification type does not exist", "type", typeName)
		s.metrics.ObserveSend(OutcomeUnknownType)
		return nil, common.NewNotFoundError("notification type", typeName, common.ErrUnknownNotificationType)
	}

	var record *Record
	key := Key{ClientID: c.ID, TypeName: t.Name}
	err = s.guard.Run(ctx, key, func(ctx context.Context, log LogStore) error {
		start := time.Now()
		err := s.limiter.Check(ctx, log, t, c.ID)
		s.metrics.ObserveRateCheck(time.Since(start))
		if err != nil {
			return err
		}

		r := &Record{
			ID:       uuid.NewString(),
			ClientID: c.ID,
			TypeName: t.Name,
			Message:  req.Message,
			SentAt:   s.now().UTC(),
		}
		if err := log.Append(ctx, r); err != nil {
			return fmt.Errorf("appending notification record: %w", err)
		}
		record = r
		return nil
	})

	var limited *common.RateLimitError
	switch {
	case errors.As(err, &limited):
		s.logger.Warn("notification cannot be sent due to rate limits",
			"type", t.Name,
			"client_id", c.ID,
			"max_occurrences", t.MaxOccurrences,
			"window_minutes", t.WindowMinutes,
		)
		s.metrics.ObserveSend(OutcomeDenied)
		s.publish(ctx, Event{Type: EventDenied, ClientID: c.ID, NotificationType: t.Name, OccurredAt: s.now().UTC()})

		if s.mode == ModePermissive {
			return &SendResult{Sent: false, Reason: limited.Error()}, nil
		}
		return nil, err
	case err != nil:
		s.metrics.ObserveSend(OutcomeError)
		return nil, err
	}

	s.logger.Info("notification sent",
		"id", record.ID,
		"type", t.Name,
		"client_id", c.ID,
	)
	s.metrics.ObserveSend(OutcomeSent)
	s.publish(ctx, Event{
		Type:             EventSent,
		RecordID:         record.ID,
		ClientID:         c.ID,
		NotificationType: t.Name,
		OccurredAt:       record.SentAt,
	})
	s.deliver(ctx, record)

	return &SendResult{Sent: true, Record: record}, nil
}

// deliver creates the delivery row and enqueues the email task. Failures here
// never undo the send: a row left queued is picked up by the reaper.
func (s *Service) deliver(ctx context.Context, r *Record) {
	if s.enqueuer == nil {
		return
	}

	now := s.now().UTC()
	d := &Delivery{
		RecordID:  r.ID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDelivery(ctx, d); err != nil {
		s.logger.Error("creating delivery failed", "record_id", r.ID, "error", err)
		return
	}

	if err := s.enqueuer.EnqueueDelivery(r.ID); err != nil {
		s.logger.Error("enqueuing delivery failed, left for the reaper", "record_id", r.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("publishing event failed", "event", evt.Type, "client_id", evt.ClientID, "error", err)
	}
}

// GetRecord retrieves a notification record by ID.
func (s *Service) GetRecord(ctx context.Context, id string) (*Record, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	if r == nil {
		return nil, common.NewNotFoundError("notification", id, common.ErrRecordNotFound)
	}
	return r, nil
}

// ListRecords retrieves notification records with pagination and filtering.
func (s *Service) ListRecords(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	filter = filter.Normalize()

	records, total, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	return &ListResponse{
		Notifications: records,
		Total:         total,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
	}, nil
}

// GetDelivery retrieves the delivery state of a record.
func (s *Service) GetDelivery(ctx context.Context, recordID string) (*Delivery, error) {
	d, err := s.store.GetDelivery(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("fetching delivery: %w", err)
	}
	if d == nil {
		return nil, common.NewNotFoundError("delivery", recordID, common.ErrRecordNotFound)
	}
	return d, nil
}

// HandleWebhookEvent processes a delivery status update from a provider webhook.
func (s *Service) HandleWebhookEvent(ctx context.Context, providerID string, status DeliveryStatus) error {
	if providerID == "" {
		return common.NewValidationError("provider_id is required")
	}

	if err := s.store.UpdateDeliveryByProviderID(ctx, providerID, status); err != nil {
		return fmt.Errorf("updating webhook status: %w", err)
	}

	s.logger.Info("webhook status updated",
		"provider_id", providerID,
		"status", status,
	)

	return nil
}

func validateTypeName(name string) error {
	if name == "" {
		return common.NewValidationError("notification type name is required")
	}
	if len(name) > maxTypeNameLength {
		return common.NewValidationError(fmt.Sprintf("notification type name exceeds %d characters", maxTypeNameLength))
	}
	return nil
}

func validatePolicy(maxOccurrences, windowMinutes int) error {
	if maxOccurrences <= 0 {
		return common.NewPolicyError(fmt.Sprintf("max_occurrences must be positive, got %d", maxOccurrences))
	}
	if windowMinutes <= 0 {
		return common.NewPolicyError(fmt.Sprintf("window_minutes must be positive, got %d", windowMinutes))
	}
	if int64(windowMinutes) > MaxWindowMinutes {
		return common.NewPolicyError(fmt.Sprintf("window_minutes must be at most %d, got %d", MaxWindowMinutes, windowMinutes))
	}
	return nil
}
