package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
	"quantflow/internal/queue"
	"quantflow/internal/store"
)

type Config struct {
	Workers  int
	PollWait time.Duration
	// TaskTimeout bounds a single handler call; zero means no deadline.
	TaskTimeout time.Duration
}

type Stats struct {
	Workers   int   `json:"workers"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pool runs a fixed number of workers over one queue. Stop is cooperative:
// workers finish the task they hold and handlers are never cancelled by it.
type Pool struct {
	queue    queue.Queue
	store    store.Store
	registry *Registry
	reporter *Reporter
	inflight *InFlight
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	completed atomic.Int64
	failed    atomic.Int64
}

func NewPool(q queue.Queue, s store.Store, registry *Registry, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		log.Warn().Int("specified", cfg.Workers).Msg("invalid worker count, using 1")
		cfg.Workers = 1
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:    q,
		store:    s,
		registry: registry,
		reporter: NewReporter(s),
		inflight: NewInFlight(),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		log.Info().Int("workers", p.cfg.Workers).Dur("poll_wait", p.cfg.PollWait).Msg("worker pool started")
	})
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		log.Info().Msg("worker pool stopped")
	})
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		InFlight:  p.inflight.Len(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := log.With().Int("worker_id", id).Logger()
	logger.Debug().Msg("starting worker")

	for {
		if p.ctx.Err() != nil {
			logger.Debug().Msg("stopping worker")
			return
		}
		ref, err := p.queue.Dequeue(p.ctx, p.cfg.PollWait)
		switch {
		case err == nil:
			p.process(logger, ref)
		case errors.Is(err, queue.ErrEmpty):
		case errors.Is(err, queue.ErrClosed), errors.Is(err, context.Canceled):
			logger.Debug().Msg("stopping worker")
			return
		default:
			logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-p.ctx.Done():
			case <-time.After(p.cfg.PollWait):
			}
		}
	}
}

func (p *Pool) process(wlog zerolog.Logger, ref queue.Ref) {
	if !p.inflight.TryAdd(ref.TaskID) {
		wlog.Warn().Str("task_id", ref.TaskID).Msg("task already in flight, dropping duplicate delivery")
		return
	}
	defer p.inflight.Remove(ref.TaskID)

	ctx := context.Background()
	task, err := p.store.Get(ctx, ref.TaskID)
	if err != nil {
		wlog.Error().Err(err).Str("task_id", ref.TaskID).Msg("load task")
		return
	}
	logger := wlog.With().Str("task_id", task.ID).Str("task_type", string(task.Type)).Str("user_id", task.UserID).Logger()
	if task.Status != domain.StatusPending {
		logger.Debug().Str("status", string(task.Status)).Msg("task no longer pending, skipping")
		return
	}

	tr := p.reporter.For(task)
	h, err := p.registry.Lookup(task.Type)
	if err != nil {
		p.failed.Add(1)
		logger.Warn().Err(err).Msg("no handler registered")
		if uerr := tr.Update(ctx, Update{Status: domain.StatusFailed, Step: "rejected", ErrorMessage: err.Error()}); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record invalid task type")
		}
		return
	}

	if err := tr.Update(ctx, Update{Status: domain.StatusProcessing, Step: "started"}); err != nil {
		logger.Error().Err(err).Msg("failed to mark task processing")
	}
	logger.Info().Msg("processing task")

	hctx := ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}
	progress := func(pct int, step string) {
		if err := tr.Progress(ctx, pct, step); err != nil {
			logger.Warn().Err(err).Int("progress", pct).Str("step", step).Msg("progress update rejected")
		}
	}

	start := time.Now()
	res, err := invoke(hctx, h, task, progress)
	if err == nil {
		var u Update
		u, err = completion(res)
		if err == nil {
			p.completed.Add(1)
			logger.Info().Dur("took", time.Since(start)).Msg("task completed")
			if uerr := tr.Update(ctx, u); errors.Is(uerr, domain.ErrTerminalState) {
				logger.Warn().Err(uerr).Msg("task was finished elsewhere, completion dropped")
			} else if uerr != nil {
				logger.Error().Err(uerr).Msg("failed to record task completion")
			}
			return
		}
		err = &domain.HandlerError{TaskType: task.Type, Err: err}
	}

	p.failed.Add(1)
	logger.Error().Err(err).Dur("took", time.Since(start)).Msg("task failed")
	if uerr := tr.Update(ctx, Update{Status: domain.StatusFailed, Step: "failed", ErrorMessage: err.Error()}); uerr != nil {
		logger.Error().Err(uerr).Msg("failed to record task failure")
	}
}

func invoke(ctx context.Context, h Handler, task domain.Task, progress ProgressFunc) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &domain.HandlerError{TaskType: task.Type, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err = h.Handle(ctx, task.InputParams, progress)
	if err != nil {
		return nil, &domain.HandlerError{TaskType: task.Type, Err: err}
	}
	return res, nil
}

// completion turns a handler's return value into the terminal update.
func completion(res any) (Update, error) {
	u := Update{Status: domain.StatusCompleted, Step: "completed"}
	data := res
	switch r := res.(type) {
	case domain.Result:
		data, u.HistoryID, u.HistoryType = r.Data, r.HistoryID, r.HistoryType
	case *domain.Result:
		if r != nil {
			data, u.HistoryID, u.HistoryType = r.Data, r.HistoryID, r.HistoryType
		} else {
			data = nil
		}
	}
	if raw, ok := data.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return Update{}, fmt.Errorf("handler returned invalid JSON")
		}
		u.Result = raw
		return u, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Update{}, fmt.Errorf("encode result: %w", err)
	}
	u.Result = b
	return u, nil
}
