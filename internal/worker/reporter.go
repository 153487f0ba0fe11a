package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"quantflow/internal/domain"
	"quantflow/internal/store"
)

// Update is one status write. An empty Status keeps the current one.
type Update struct {
	Status       domain.Status
	Progress     int
	Step         string
	ErrorMessage string
	Result       json.RawMessage
	HistoryID    string
	HistoryType  string
}

type Reporter struct {
	store store.Store
	now   func() time.Time
}

func NewReporter(s store.Store) *Reporter {
	return &Reporter{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// For binds a reporter to the task a worker has just taken ownership of.
func (r *Reporter) For(t domain.Task) *TaskReporter {
	tr := &TaskReporter{
		store:    r.store,
		now:      r.now,
		id:       t.ID,
		status:   t.Status,
		progress: t.ProgressPercent,
	}
	if t.StartedAt != nil {
		tr.startedAt, tr.startSaved = *t.StartedAt, true
	}
	return tr
}

// TaskReporter is the single write path for one task. It keeps the last
// written status and progress so that it can refuse backwards or post-terminal
// writes without reading the store back.
type TaskReporter struct {
	mu       sync.Mutex
	store    store.Store
	now      func() time.Time
	id       string
	status   domain.Status
	progress int
	// startedAt is set on entering processing; startSaved once a write
	// carrying it succeeded. Later writes repeat it until then.
	startedAt  time.Time
	startSaved bool
}

func (tr *TaskReporter) Update(ctx context.Context, u Update) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.status.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTerminalState, tr.id, tr.status)
	}
	next := u.Status
	if next == "" {
		next = tr.status
	}
	if next != tr.status && !domain.CanTransition(tr.status, next) {
		return fmt.Errorf("%w: %s -> %s for task %s", domain.ErrInvalidTransition, tr.status, next, tr.id)
	}

	pct := clampPercent(u.Progress)
	if pct < tr.progress {
		pct = tr.progress
	}
	if next == domain.StatusCompleted {
		pct = 100
	}

	var p store.Patch
	if next != tr.status {
		st := next
		p.Status = &st
	}
	if pct != tr.progress {
		p.ProgressPercent = &pct
	}
	if u.Step != "" {
		step := u.Step
		p.CurrentStep = &step
	}
	now := tr.now()
	startedAt := tr.startedAt
	if next == domain.StatusProcessing && startedAt.IsZero() {
		startedAt = now
	}
	if !tr.startSaved && !startedAt.IsZero() {
		p.StartedAt = &startedAt
	}
	switch next {
	case domain.StatusCompleted:
		p.CompletedAt = &now
		p.ResultData = u.Result
		if p.ResultData == nil {
			p.ResultData = json.RawMessage("null")
		}
		if u.HistoryID != "" {
			id, typ := u.HistoryID, u.HistoryType
			p.RelatedHistoryID, p.RelatedHistoryType = &id, &typ
		}
	case domain.StatusFailed:
		p.CompletedAt = &now
		msg := u.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		p.ErrorMessage = &msg
	}

	tr.status = next
	tr.progress = pct
	tr.startedAt = startedAt
	if p.Empty() {
		return nil
	}
	if err := tr.store.Update(ctx, tr.id, p); err != nil {
		return &domain.StoreWriteError{TaskID: tr.id, Op: "update " + string(next), Err: err}
	}
	if p.StartedAt != nil {
		tr.startSaved = true
	}
	return nil
}

// Progress records an intermediate phase without changing the status.
func (tr *TaskReporter) Progress(ctx context.Context, percent int, step string) error {
	return tr.Update(ctx, Update{Progress: percent, Step: step})
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
