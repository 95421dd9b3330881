package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueMail carries user facing mail and is drained first.
	QueueMail = "mail"
	// QueueMaintenance carries housekeeping sweeps.
	QueueMaintenance = "maintenance"

	// TaskSendConfirmation delivers the verification link of a new account.
	TaskSendConfirmation = "auth:send_confirmation"
	// TaskPruneUnconfirmed removes accounts that never verified their email.
	TaskPruneUnconfirmed = "auth:prune_unconfirmed"
)

// ConfirmationPayload describes a confirmation mail.
type ConfirmationPayload struct {
	To       string `json:"to"`
	Username string `json:"username"`
	Link     string `json:"link"`
}

// NewConfirmationTask constructs an Asynq task.
func NewConfirmationTask(payload ConfirmationPayload) (*asynq.Task, error) {
	if payload.To == "" || payload.Link == "" {
		return nil, fmt.Errorf("jobs: confirmation task needs recipient and link")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendConfirmation, data,
		asynq.Queue(QueueMail),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

// PrunePayload configures the unconfirmed-account sweep.
type PrunePayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewPruneUnconfirmedTask constructs the periodic sweep task.
func NewPruneUnconfirmedTask(olderThanHours int) (*asynq.Task, error) {
	if olderThanHours <= 0 {
		olderThanHours = 7 * 24
	}
	data, err := json.Marshal(PrunePayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPruneUnconfirmed, data,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Unique(time.Hour),
	), nil
}

// Queues lists every queue with its processing weight.
func Queues() map[string]int {
	return map[string]int{QueueMail: 3, QueueMaintenance: 1}
}

// QueueNames returns the queue names in a stable order.
func QueueNames() []string {
	return []string{QueueMail, QueueMaintenance}
}
