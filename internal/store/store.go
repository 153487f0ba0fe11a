package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quantflow/internal/domain"
)

// Store is the task record persistence the queue core relies on.
// Implementations must be safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, t domain.Task) error
	Get(ctx context.Context, id string) (domain.Task, error)
	// Update writes only the fields set in p, atomically. A task already in a
	// terminal status is never modified; Update returns domain.ErrTerminalState.
	Update(ctx context.Context, id string, p Patch) error
	List(ctx context.Context, userID string, limit int, status *domain.Status) ([]domain.Task, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Task, error)
}

// Patch is a partial task update. Nil fields are left untouched.
type Patch struct {
	Status             *domain.Status
	ProgressPercent    *int
	CurrentStep        *string
	ErrorMessage       *string
	ResultData         json.RawMessage
	RelatedHistoryID   *string
	RelatedHistoryType *string
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

func (p Patch) Empty() bool {
	cols, _ := p.columns()
	return len(cols) == 0
}

func (p Patch) columns() ([]string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ProgressPercent != nil {
		add("progress_percent", *p.ProgressPercent)
	}
	if p.CurrentStep != nil {
		add("current_step", *p.CurrentStep)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.ResultData != nil {
		add("result_data", string(p.ResultData))
	}
	if p.RelatedHistoryID != nil {
		add("related_history_id", *p.RelatedHistoryID)
	}
	if p.RelatedHistoryType != nil {
		add("related_history_type", *p.RelatedHistoryType)
	}
	if p.StartedAt != nil {
		add("started_at", *p.StartedAt)
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}
	return cols, args
}

// setClause renders "a = ?, b = ?" using placeholder(i) for the i-th (1-based) argument.
func setClause(cols []string, placeholder func(int) string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = %s", c, placeholder(i+1))
	}
	return strings.Join(parts, ", ")
}

// notTerminal guards every update so a finished task keeps its outcome even
// when a stale owner writes late.
const notTerminal = `status NOT IN ('completed','failed')`

// missedUpdate explains an update that matched no row.
func missedUpdate(id, status string, err, noRows error) error {
	switch {
	case errors.Is(err, noRows):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("update task %s: %w", id, err)
	default:
		return fmt.Errorf("%w: task %s is %s", domain.ErrTerminalState, id, status)
	}
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
