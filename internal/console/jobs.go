package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/northwind-digital/agency/jobs"
)

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Failed    int
}

// JobsOps is the operator surface over the background queue.
type JobsOps interface {
	TriggerPrune(ctx context.Context, olderThanHours int) (string, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
	Close() error
}

// AsynqOps implements JobsOps with an Asynq client and inspector.
type AsynqOps struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqOps connects to the queue at redisAddr.
func NewAsynqOps(redisAddr string) *AsynqOps {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &AsynqOps{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (o *AsynqOps) Close() error {
	var err error
	if o.inspector != nil {
		if closeErr := o.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if o.client != nil {
		if closeErr := o.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerPrune enqueues an unconfirmed-account sweep and returns the task id.
func (o *AsynqOps) TriggerPrune(ctx context.Context, olderThanHours int) (string, error) {
	if o == nil || o.client == nil {
		return "", errors.New("jobs: client not configured")
	}
	task, err := jobs.NewPruneUnconfirmedTask(olderThanHours)
	if err != nil {
		return "", err
	}
	info, err := o.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", errors.New("jobs: a prune task is already queued")
	}
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue prune: %w", err)
	}
	return info.ID, nil
}

// InspectQueues reports counters for every application queue. Queues
// that never received a task report zeros.
func (o *AsynqOps) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if o == nil || o.inspector == nil {
		return nil, errors.New("jobs: inspector not configured")
	}
	names, err := o.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("jobs: list queues: %w", err)
	}
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}

	out := make([]QueueStats, 0, len(jobs.QueueNames()))
	for _, name := range jobs.QueueNames() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := QueueStats{Queue: name}
		if known[name] {
			info, err := o.inspector.GetQueueInfo(name)
			if err != nil {
				return nil, fmt.Errorf("jobs: inspect %s: %w", name, err)
			}
			stats.Pending = int(info.Pending)
			stats.Active = int(info.Active)
			stats.Scheduled = int(info.Scheduled)
			stats.Retry = int(info.Retry)
			stats.Failed = int(info.Failed)
		}
		out = append(out, stats)
	}
	return out, nil
}

var _ JobsOps = (*AsynqOps)(nil)
