package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client enqueues jobs for the worker. It implements the auth service mail
// hook so sign-up never blocks on SMTP.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq backed client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, fmt.Errorf("jobs: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueConfirmation queues a confirmation mail.
func (c *Client) EnqueueConfirmation(ctx context.Context, payload ConfirmationPayload) (*asynq.TaskInfo, error) {
	task, err := NewConfirmationTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue confirmation: %w", err)
	}
	return info, nil
}

// SendConfirmation queues the mail for the worker.
func (c *Client) SendConfirmation(ctx context.Context, to, username, link string) error {
	_, err := c.EnqueueConfirmation(ctx, ConfirmationPayload{To: to, Username: username, Link: link})
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
