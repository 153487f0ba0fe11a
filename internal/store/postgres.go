package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quantflow/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
  seq BIGSERIAL UNIQUE,
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','processing','completed','failed')),
  priority INTEGER NOT NULL DEFAULT 100,
  input_params JSONB NOT NULL DEFAULT '{}'::jsonb,
  progress_percent INTEGER NOT NULL DEFAULT 0,
  current_step TEXT NOT NULL DEFAULT '',
  error_message TEXT,
  result_data JSONB,
  related_history_id TEXT,
  related_history_type TEXT,
  created_at TIMESTAMPTZ NOT NULL,
  started_at TIMESTAMPTZ,
  completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority, created_at);
CREATE TABLE IF NOT EXISTS analysis_history (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresPool opens and pings a pgx pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

type Postgres struct{ pool *pgxpool.Pool }

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *Postgres) Insert(ctx context.Context, t domain.Task) error {
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	params := string(t.InputParams)
	if params == "" {
		params = "{}"
	}
	var result *string
	if t.ResultData != nil {
		r := string(t.ResultData)
		result = &r
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.UserID, string(t.Type), string(t.Status), t.Priority, params, t.ProgressPercent, t.CurrentStep,
		t.ErrorMessage, result, t.RelatedHistoryID, t.RelatedHistoryType, t.CreatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return t, err
}

func (s *Postgres) Update(ctx context.Context, id string, p Patch) error {
	cols, args := p.columns()
	if len(cols) == 0 {
		return nil
	}
	q := `UPDATE tasks SET ` + setClause(cols, func(i int) string { return "$" + strconv.Itoa(i) }) +
		` WHERE id=$` + strconv.Itoa(len(cols)+1) + ` AND ` + notTerminal
	tag, err := s.pool.Exec(ctx, q, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id=$1`, id).Scan(&status)
		return missedUpdate(id, status, err, pgx.ErrNoRows)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, userID string, limit int, status *domain.Status) ([]domain.Task, error) {
	if status != nil {
		return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=$1 AND status=$2 ORDER BY created_at DESC, seq DESC LIMIT $3`,
			userID, string(*status), clampLimit(limit))
	}
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=$1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		userID, clampLimit(limit))
}

func (s *Postgres) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status=$1 ORDER BY priority ASC, created_at ASC, seq ASC`, string(status))
}

func (s *Postgres) query(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanPgTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var typ, status, params string
	var result *string
	if err := row.Scan(&t.ID, &t.UserID, &typ, &status, &t.Priority, &params, &t.ProgressPercent, &t.CurrentStep,
		&t.ErrorMessage, &result, &t.RelatedHistoryID, &t.RelatedHistoryType, &t.CreatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
		return domain.Task{}, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.Status(status)
	t.InputParams = json.RawMessage(params)
	if result != nil {
		t.ResultData = json.RawMessage(*result)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// PostgresHistory is History backed by the analysis_history table that
// Postgres.EnsureSchema creates.
type PostgresHistory struct{ pool *pgxpool.Pool }

func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory { return &PostgresHistory{pool: pool} }

func (h *PostgresHistory) Record(ctx context.Context, kind string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal history payload: %w", err)
	}
	id := newHistoryID()
	_, err = h.pool.Exec(ctx, `INSERT INTO analysis_history (id,kind,payload,created_at) VALUES ($1,$2,$3,$4)`,
		id, kind, string(b), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

func (h *PostgresHistory) Get(ctx context.Context, id string) (string, json.RawMessage, error) {
	var kind, payload string
	err := h.pool.QueryRow(ctx, `SELECT kind,payload::text FROM analysis_history WHERE id=$1`, id).Scan(&kind, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, fmt.Errorf("%w: history %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", nil, err
	}
	return kind, json.RawMessage(payload), nil
}
