// Package taskqueue is the entry point callers use to submit analysis tasks
// and read their progress. It owns the worker pool and the recovery of tasks
// left behind by a previous process.
package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
	"quantflow/internal/queue"
	"quantflow/internal/store"
	"quantflow/internal/worker"
)

const interruptedMessage = "interrupted: process stopped while the task was running"

type Config struct {
	Workers     int
	PollWait    time.Duration
	TaskTimeout time.Duration
	// RecoverInterrupted fails tasks found PROCESSING at Start. Only a
	// process that is the sole consumer of its queue may set it: with a
	// shared queue those tasks can belong to another live process.
	RecoverInterrupted bool
}

type Stats struct {
	worker.Stats
	QueueDepth int `json:"queue_depth"`
}

type TaskQueue struct {
	store              store.Store
	queue              queue.Queue
	registry           *worker.Registry
	reporter           *worker.Reporter
	pool               *worker.Pool
	recoverInterrupted bool
	now                func() time.Time
}

func New(s store.Store, q queue.Queue, registry *worker.Registry, cfg Config) *TaskQueue {
	return &TaskQueue{
		store:    s,
		queue:    q,
		registry: registry,
		reporter: worker.NewReporter(s),
		pool: worker.NewPool(q, s, registry, worker.Config{
			Workers:     cfg.Workers,
			PollWait:    cfg.PollWait,
			TaskTimeout: cfg.TaskTimeout,
		}),
		recoverInterrupted: cfg.RecoverInterrupted,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Start requeues pending tasks, fails interrupted ones when configured to,
// and then starts the workers.
func (tq *TaskQueue) Start(ctx context.Context) error {
	if err := tq.recoverTasks(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	tq.pool.Start()
	return nil
}

// Stop waits for running tasks to finish. It does not cancel them.
func (tq *TaskQueue) Stop() {
	tq.pool.Stop()
}

func (tq *TaskQueue) recoverTasks(ctx context.Context) error {
	var stale []domain.Task
	if tq.recoverInterrupted {
		var err error
		if stale, err = tq.store.ListByStatus(ctx, domain.StatusProcessing); err != nil {
			return err
		}
	}
	for _, t := range stale {
		err := tq.reporter.For(t).Update(ctx, worker.Update{
			Status:       domain.StatusFailed,
			Step:         "interrupted",
			ErrorMessage: interruptedMessage,
		})
		if err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark interrupted task")
			continue
		}
		log.Warn().Str("task_id", t.ID).Str("task_type", string(t.Type)).Msg("marked interrupted task as failed")
	}

	pending, err := tq.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := tq.queue.Enqueue(ctx, queue.Ref{TaskID: t.ID, Priority: t.Priority}); err != nil {
			return err
		}
	}
	if len(stale) > 0 || len(pending) > 0 {
		log.Info().Int("interrupted", len(stale)).Int("requeued", len(pending)).Msg("recovered tasks")
	}
	return nil
}

// CreateTask persists a pending task and queues it. A task type with no
// registered handler is stored as failed straight away; its id is returned
// along with an error wrapping domain.ErrInvalidTaskType.
func (tq *TaskQueue) CreateTask(ctx context.Context, userID string, taskType domain.TaskType, params json.RawMessage, priority int) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", domain.ErrInvalidParams)
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return "", fmt.Errorf("%w: priority %d outside %d..%d", domain.ErrInvalidParams, priority, domain.MinPriority, domain.MaxPriority)
	}
	params, err := normalizeParams(params)
	if err != nil {
		return "", err
	}

	task := domain.Task{
		ID:          domain.NewTaskID(),
		UserID:      userID,
		Type:        taskType,
		Status:      domain.StatusPending,
		Priority:    priority,
		InputParams: params,
		CurrentStep: "queued",
		CreatedAt:   tq.now(),
	}
	logger := log.With().Str("task_id", task.ID).Str("task_type", string(taskType)).Str("user_id", userID).Logger()

	if !tq.registry.Has(taskType) {
		lookupErr := domain.UnknownTaskType(taskType)
		msg := lookupErr.Error()
		completed := task.CreatedAt
		task.Status = domain.StatusFailed
		task.CurrentStep = "rejected"
		task.ErrorMessage = &msg
		task.CompletedAt = &completed
		if err := tq.store.Insert(ctx, task); err != nil {
			return "", fmt.Errorf("insert task: %w", err)
		}
		logger.Warn().Msg("rejected task with unknown type")
		return task.ID, lookupErr
	}

	if err := tq.store.Insert(ctx, task); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	if err := tq.queue.Enqueue(ctx, queue.Ref{TaskID: task.ID, Priority: priority}); err != nil {
		// The record stays pending and is picked up again on the next start.
		logger.Error().Err(err).Msg("failed to enqueue task")
		return task.ID, fmt.Errorf("enqueue task: %w", err)
	}
	logger.Info().Int("priority", priority).Msg("task created")
	return task.ID, nil
}

func (tq *TaskQueue) GetTaskStatus(ctx context.Context, id string) (domain.Task, error) {
	return tq.store.Get(ctx, id)
}

// GetUserTasks lists a user's tasks newest first. A limit of zero or less
// means the store default.
func (tq *TaskQueue) GetUserTasks(ctx context.Context, userID string, limit int, status *domain.Status) ([]domain.Task, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidParams, string(*status))
	}
	return tq.store.List(ctx, userID, limit, status)
}

func (tq *TaskQueue) Stats(ctx context.Context) (Stats, error) {
	depth, err := tq.queue.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: tq.pool.Stats(), QueueDepth: depth}, nil
}

func (tq *TaskQueue) TaskTypes() []domain.TaskType {
	return tq.registry.Types()
}

func normalizeParams(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: input_params must be a JSON object", domain.ErrInvalidParams)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errors.Join(domain.ErrInvalidParams, err)
	}
	return buf.Bytes(), nil
}
