package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantflow/internal/domain"
)

type submission struct {
	userID   string
	taskType domain.TaskType
	params   string
	priority int
}

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (f *fakeSubmitter) CreateTask(_ context.Context, userID string, taskType domain.TaskType, params json.RawMessage, priority int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.subs = append(f.subs, submission{userID, taskType, string(params), priority})
	return "task-1", nil
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/5 * * * *"))
	assert.NoError(t, ValidateCronExpression("@hourly"))
	assert.Error(t, ValidateCronExpression("* * *"))
	assert.Error(t, ValidateCronExpression("61 * * * *"))
}

func TestNextRunTime(t *testing.T) {
	from := time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 22 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), next)

	_, err = NextRunTime("bogus", from)
	assert.Error(t, err)
}

func TestService_Add(t *testing.T) {
	s := NewService(&fakeSubmitter{})

	require.NoError(t, s.Add(Job{Name: "nightly", CronExpr: "0 22 * * 1-5", UserID: "u1", TaskType: domain.TaskTypeStockAnalysis}))
	assert.ErrorContains(t, s.Add(Job{Name: "nightly", CronExpr: "0 23 * * *"}), "duplicate")
	assert.ErrorContains(t, s.Add(Job{Name: "broken", CronExpr: "every day"}), "invalid cron expression")

	s.Start()
	defer s.Stop()
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "nightly", entries[0].Name)
	assert.False(t, entries[0].NextRun.IsZero())
	assert.Nil(t, entries[0].LastRun)

	b, err := json.Marshal(entries[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), "last_run")
}

func TestService_Run(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewService(sub)
	job := Job{Name: "aapl", CronExpr: "@hourly", UserID: "scheduler", TaskType: domain.TaskTypeStockAnalysis, Priority: 10}
	require.NoError(t, s.Add(job))

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.run(context.Background(), s.jobs["aapl"], now)

	require.Len(t, sub.subs, 1)
	assert.Equal(t, submission{"scheduler", domain.TaskTypeStockAnalysis, `{}`, 10}, sub.subs[0])
	entries := s.Entries()
	require.NotNil(t, entries[0].LastRun)
	assert.Equal(t, now, *entries[0].LastRun)
	assert.Equal(t, "task-1", entries[0].LastID)

	sub.err = errors.New("store unavailable")
	s.run(context.Background(), s.jobs["aapl"], now.Add(time.Hour))
	assert.Equal(t, now, *s.Entries()[0].LastRun)
}

func TestService_FiresOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron clock")
	}
	sub := &fakeSubmitter{}
	s := NewService(sub)
	require.NoError(t, s.Add(Job{Name: "tick", CronExpr: "@every 1s", UserID: "u1", TaskType: domain.TaskTypeStockAnalysis}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.subs) > 0
	}, 3*time.Second, 50*time.Millisecond)
}
