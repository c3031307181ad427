package notification

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeDeliverNotification is the asynq task type for emailing a sent notification.
const TaskTypeDeliverNotification = "notification:deliver"

// DeliverNotificationPayload is the serialized payload for a delivery task.
type DeliverNotificationPayload struct {
	RecordID string `json:"record_id"`
}

// NewDeliverNotificationTask creates a new asynq task for delivering a record.
func NewDeliverNotificationTask(recordID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DeliverNotificationPayload{RecordID: recordID})
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeDeliverNotification, payload), nil
}

// ParseDeliverNotificationPayload deserializes the task payload.
func ParseDeliverNotificationPayload(data []byte) (*DeliverNotificationPayload, error) {
	var p DeliverNotificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	if p.RecordID == "" {
		return nil, fmt.Errorf("task payload has no record_id")
	}
	return &p, nil
}
