package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeStockAnalysis          TaskType = "stock_analysis"
	TaskTypeOptionAnalysis         TaskType = "option_analysis"
	TaskTypeEnhancedOptionAnalysis TaskType = "enhanced_option_analysis"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Priority bounds. Lower values run first.
const (
	MinPriority = 0
	MaxPriority = 9000
)

type Transition struct {
	From Status
	To   Status
}

// ValidTransitions is the whole state machine. Nothing returns to pending and
// nothing leaves a terminal status.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusPending, To: StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Task is both the stored record and the snapshot handed to callers.
type Task struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	Type               TaskType        `json:"task_type"`
	Status             Status          `json:"status"`
	Priority           int             `json:"priority"`
	InputParams        json.RawMessage `json:"input_params"`
	ProgressPercent    int             `json:"progress_percent"`
	CurrentStep        string          `json:"current_step"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	ResultData         json.RawMessage `json:"result_data,omitempty"`
	RelatedHistoryID   *string         `json:"related_history_id,omitempty"`
	RelatedHistoryType *string         `json:"related_history_type,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

func NewTaskID() string { return uuid.NewString() }

// Result lets a handler link its output to a persisted history record.
// Handlers that have nothing to link return the bare value instead.
type Result struct {
	Data        any
	HistoryID   string
	HistoryType string
}
