package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to Status
		expected bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"processing to pending", StatusProcessing, StatusPending, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to processing", StatusFailed, StatusProcessing, false},
		{"completed to completed", StatusCompleted, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, Status("archived").Valid())
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(TaskTypeStockAnalysis, json.RawMessage(`{"ticker":" aapl ","style":"growth"}`))
	require.NoError(t, err)
	assert.Equal(t, StockAnalysisParams{Ticker: "AAPL", Style: "growth"}, p)

	p, err = DecodeParams(TaskTypeEnhancedOptionAnalysis, json.RawMessage(`{"ticker":"msft","strategy":"covered_call","max_days":45,"include_report":true}`))
	require.NoError(t, err)
	ep, ok := p.(EnhancedOptionAnalysisParams)
	require.True(t, ok)
	assert.Equal(t, "MSFT", ep.Ticker)
	assert.Equal(t, 45, ep.MaxDays)
	assert.True(t, ep.IncludeReport)

	_, err = DecodeParams(TaskTypeOptionAnalysis, json.RawMessage(`{"ticker":1}`))
	assert.True(t, errors.Is(err, ErrInvalidParams))

	_, err = DecodeParams("bogus_type", nil)
	assert.True(t, errors.Is(err, ErrInvalidTaskType))
	assert.Contains(t, err.Error(), "bogus_type")
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("market data unavailable")
	var err error = &HandlerError{TaskType: TaskTypeStockAnalysis, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "market data unavailable")

	err = &StoreWriteError{TaskID: "t1", Op: "update", Err: cause}
	var swe *StoreWriteError
	require.True(t, errors.As(err, &swe))
	assert.Equal(t, "t1", swe.TaskID)
}
