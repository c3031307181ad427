package queue

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"notifgate/internal/domain/notification"

	"github.com/hibiken/asynq"
)

// QueueName is the asynq queue delivery tasks are placed on.
const QueueName = "notifications"

var _ notification.Enqueuer = (*Enqueuer)(nil)

// RedisOpt builds the asynq connection options.
func RedisOpt(redisAddr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	}
}

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(RedisOpt(redisAddr, password, db))
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(redisAddr, password string, db int, concurrency int, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(
		RedisOpt(redisAddr, password, db),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueName: 10, // priority weight
				"default": 1,
			},
			RetryDelayFunc: RetryDelay,
			Logger:         &slogAdapter{logger: logger},
		},
	)
}

// RetryDelay is exponential backoff: 30s, 60s, 120s, 240s, 480s...
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(30*(1<<uint(n-1))) * time.Second
}

// NewMux routes delivery tasks to the worker.
func NewMux(w *notification.Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(notification.TaskTypeDeliverNotification, w.HandleTask)
	return mux
}

// Enqueuer puts delivery tasks on the notifications queue.
type Enqueuer struct {
	client   *asynq.Client
	maxRetry int
}

// NewEnqueuer wraps an asynq client as a notification.Enqueuer.
func NewEnqueuer(client *asynq.Client, maxRetry int) *Enqueuer {
	return &Enqueuer{client: client, maxRetry: maxRetry}
}

// EnqueueDelivery enqueues a delivery task for the record.
func (e *Enqueuer) EnqueueDelivery(recordID string) error {
	task, err := notification.NewDeliverNotificationTask(recordID)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	_, err = e.client.Enqueue(task,
		asynq.MaxRetry(e.maxRetry),
		asynq.Queue(QueueName),
	)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}

	return nil
}

// Close closes the underlying asynq client.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

func (a *slogAdapter) Debug(args ...any) { a.log().Debug(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Info(args ...any)  { a.log().Info(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Warn(args ...any)  { a.log().Warn(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Error(args ...any) { a.log().Error(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Fatal(args ...any) {
	a.log().Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
