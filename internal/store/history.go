package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantflow/internal/domain"
)

// History persists finished analysis results so tasks can link to them
// through related_history_id.
type History struct{ db *sql.DB }

func NewHistory(db *sql.DB) *History { return &History{db: db} }

func newHistoryID() string { return "hst_" + uuid.NewString() }

func (h *History) Record(ctx context.Context, kind string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal history payload: %w", err)
	}
	id := newHistoryID()
	_, err = h.db.ExecContext(ctx, `INSERT INTO analysis_history (id,kind,payload,created_at) VALUES (?,?,?,?)`,
		id, kind, string(b), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

func (h *History) Get(ctx context.Context, id string) (string, json.RawMessage, error) {
	var kind, payload string
	err := h.db.QueryRowContext(ctx, `SELECT kind,payload FROM analysis_history WHERE id=?`, id).Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("%w: history %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", nil, err
	}
	return kind, json.RawMessage(payload), nil
}
