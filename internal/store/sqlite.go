package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quantflow/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so that ORDER BY on the
// column matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','processing','completed','failed')) DEFAULT 'pending',
  priority INTEGER NOT NULL DEFAULT 100,
  input_params TEXT NOT NULL DEFAULT '{}',
  progress_percent INTEGER NOT NULL DEFAULT 0,
  current_step TEXT NOT NULL DEFAULT '',
  error_message TEXT,
  result_data TEXT,
  related_history_id TEXT,
  related_history_type TEXT,
  created_at TEXT NOT NULL,
  started_at TEXT,
  completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority, created_at);
CREATE TABLE IF NOT EXISTS analysis_history (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

type SQLite struct{ db *sql.DB }

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

const taskColumns = `id,user_id,task_type,status,priority,input_params,progress_percent,current_step,error_message,result_data,related_history_id,related_history_type,created_at,started_at,completed_at`

func (s *SQLite) Insert(ctx context.Context, t domain.Task) error {
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	params := t.InputParams
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var result sql.NullString
	if t.ResultData != nil {
		result = sql.NullString{String: string(t.ResultData), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.UserID, string(t.Type), string(t.Status), t.Priority, string(params), t.ProgressPercent, t.CurrentStep,
		t.ErrorMessage, result, t.RelatedHistoryID, t.RelatedHistoryType,
		formatTime(t.CreatedAt), formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return t, err
}

func (s *SQLite) Update(ctx context.Context, id string, p Patch) error {
	cols, args := p.columns()
	if len(cols) == 0 {
		return nil
	}
	for i, a := range args {
		if ts, ok := a.(time.Time); ok {
			args[i] = formatTime(ts)
		}
	}
	q := `UPDATE tasks SET ` + setClause(cols, func(int) string { return "?" }) + ` WHERE id=? AND ` + notTerminal
	res, err := s.db.ExecContext(ctx, q, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, id).Scan(&status)
		return missedUpdate(id, status, err, sql.ErrNoRows)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, userID string, limit int, status *domain.Status) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id=?`
	args := []any{userID}
	if status != nil {
		q += ` AND status=?`
		args = append(args, string(*status))
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, clampLimit(limit))
	return s.query(ctx, q, args...)
}

func (s *SQLite) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status=? ORDER BY priority ASC, created_at ASC, rowid ASC`, string(status))
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var typ, status, params, createdAt string
	var errMsg, result, histID, histType, startedAt, completedAt sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &typ, &status, &t.Priority, &params, &t.ProgressPercent, &t.CurrentStep,
		&errMsg, &result, &histID, &histType, &createdAt, &startedAt, &completedAt); err != nil {
		return domain.Task{}, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.Status(status)
	t.InputParams = json.RawMessage(params)
	t.ErrorMessage = nullString(errMsg)
	if result.Valid {
		t.ResultData = json.RawMessage(result.String)
	}
	t.RelatedHistoryID = nullString(histID)
	t.RelatedHistoryType = nullString(histType)

	var err error
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.Task{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return domain.Task{}, fmt.Errorf("parse started_at: %w", err)
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return domain.Task{}, fmt.Errorf("parse completed_at: %w", err)
	}
	return t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
