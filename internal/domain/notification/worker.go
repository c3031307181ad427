package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notifgate/internal/common"

	"github.com/hibiken/asynq"
)

// Worker emails sent notifications picked up from the queue.
// It fetches the record and its client, renders the type's template,
// sends through the provider and tracks the outcome on the delivery row.
type Worker struct {
	store    Store
	clients  ClientDirectory
	renderer TemplateRenderer
	provider Provider
	logger   *slog.Logger
}

// NewWorker creates a new delivery worker.
func NewWorker(store Store, clients ClientDirectory, renderer TemplateRenderer, provider Provider, logger *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		clients:  clients,
		renderer: renderer,
		provider: provider,
		logger:   common.LoggerOrDiscard(logger).With("component", "worker"),
	}
}

// HandleTask is the asynq handler for TaskTypeDeliverNotification.
func (w *Worker) HandleTask(ctx context.Context, t *asynq.Task) error {
	p, err := ParseDeliverNotificationPayload(t.Payload())
	if err != nil {
		w.logger.Error("dropping malformed task", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return w.ProcessTask(ctx, p.RecordID)
}

// ProcessTask delivers one record. Failures that a retry cannot fix are
// wrapped with asynq.SkipRetry.
func (w *Worker) ProcessTask(ctx context.Context, recordID string) error {
	start := time.Now()

	d, err := w.store.GetDelivery(ctx, recordID)
	if err != nil {
		return fmt.Errorf("fetching delivery %s: %w", recordID, err)
	}
	if d != nil && d.Status.Done() {
		w.logger.Info("delivery already complete, skipping", "record_id", recordID, "status", d.Status)
		return nil
	}

	record, err := w.store.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("fetching notification %s: %w", recordID, err)
	}
	if record == nil {
		w.logger.Error("notification not found", "record_id", recordID)
		return fmt.Errorf("notification not found: %s: %w", recordID, asynq.SkipRetry)
	}

	if err := w.store.UpdateDeliveryStatus(ctx, recordID, StatusProcessing, "", ""); err != nil {
		w.logger.Error("failed to update status to processing", "record_id", recordID, "error", err)
	}

	c, err := w.clients.Get(ctx, record.ClientID)
	if err != nil {
		if errors.Is(err, common.ErrClientNotFound) {
			w.fail(ctx, recordID, "client no longer exists")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("fetching client %s: %w", record.ClientID, err)
	}

	subject, html, text, err := w.renderer.Render(record.TypeName, map[string]any{
		"Type":     record.TypeName,
		"Message":  record.Message,
		"ClientID": record.ClientID,
		"SentAt":   record.SentAt,
	})
	if err != nil {
		w.fail(ctx, recordID, fmt.Sprintf("rendering template: %s", err.Error()))
		return fmt.Errorf("rendering template %s: %w: %w", record.TypeName, err, asynq.SkipRetry)
	}

	providerID, err := w.provider.Send(ctx, &Message{
		To:      c.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		w.fail(ctx, recordID, fmt.Sprintf("provider error: %s", err.Error()))
		w.logger.Error("notification delivery failed",
			"record_id", recordID,
			"type", record.TypeName,
			"to", c.Email,
			"error", err,
			"duration", time.Since(start),
		)
		return common.NewProviderError(w.provider.Name(), err.Error())
	}

	if err := w.store.UpdateDeliveryStatus(ctx, recordID, StatusSent, providerID, ""); err != nil {
		w.logger.Error("failed to update status to sent", "record_id", recordID, "error", err)
	}

	w.logger.Info("notification delivered",
		"record_id", recordID,
		"type", record.TypeName,
		"to", c.Email,
		"provider_id", providerID,
		"duration", time.Since(start),
	)

	return nil
}

func (w *Worker) fail(ctx context.Context, recordID, msg string) {
	if err := w.store.UpdateDeliveryStatus(ctx, recordID, StatusFailed, "", msg); err != nil {
		w.logger.Error("failed to update status to failed", "record_id", recordID, "error", err)
	}
}
