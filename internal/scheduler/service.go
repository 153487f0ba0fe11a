package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
)

// Submitter is the part of the task queue the scheduler needs.
type Submitter interface {
	CreateTask(ctx context.Context, userID string, taskType domain.TaskType, params json.RawMessage, priority int) (string, error)
}

// Job is one recurring submission.
type Job struct {
	Name     string
	CronExpr string
	UserID   string
	TaskType domain.TaskType
	Params   json.RawMessage
	Priority int
}

type Entry struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	NextRun time.Time  `json:"next_run"`
	LastRun *time.Time `json:"last_run,omitempty"`
	LastID  string     `json:"last_task_id,omitempty"`
}

type Service struct {
	submit Submitter
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]Job
	ids     map[string]cron.EntryID
	lastRun map[string]time.Time
	lastID  map[string]string
}

func NewService(submit Submitter) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		submit:  submit,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    map[string]Job{},
		ids:     map[string]cron.EntryID{},
		lastRun: map[string]time.Time{},
		lastID:  map[string]string{},
	}
}

// Add registers job. Names must be unique and the expression must be a
// standard five-field cron expression.
func (s *Service) Add(job Job) error {
	if err := ValidateCronExpression(job.CronExpr); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression %q: %w", job.Name, job.CronExpr, err)
	}
	if len(job.Params) == 0 {
		job.Params = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("schedule %s: duplicate name", job.Name)
	}
	id, err := s.cron.AddFunc(job.CronExpr, func() { s.run(s.ctx, job, time.Now()) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	s.ids[job.Name] = id
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
	log.Info().Int("schedules", len(s.ids)).Msg("schedule service started")
}

// Stop halts the cron loop and waits for submissions already firing.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for name, job := range s.jobs {
		e := Entry{
			Name:    name,
			Cron:    job.CronExpr,
			NextRun: s.cron.Entry(s.ids[name]).Next,
			LastID:  s.lastID[name],
		}
		if last, ok := s.lastRun[name]; ok {
			e.LastRun = &last
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) run(ctx context.Context, job Job, now time.Time) {
	taskID, err := s.submit.CreateTask(ctx, job.UserID, job.TaskType, job.Params, job.Priority)
	if err != nil {
		log.Error().Err(err).Str("schedule_name", job.Name).Str("task_id", taskID).Msg("failed to submit scheduled task")
		return
	}

	s.mu.Lock()
	s.lastRun[job.Name] = now
	s.lastID[job.Name] = taskID
	s.mu.Unlock()

	next, _ := NextRunTime(job.CronExpr, now)
	log.Info().
		Str("schedule_name", job.Name).
		Str("task_id", taskID).
		Time("next_run", next).
		Msg("scheduled task submitted")
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
