// Package analysis holds the handlers for the analysis task types. The
// scoring models, market-data gateway and report generation live behind the
// collaborator interfaces below; handlers only orchestrate them and report
// progress.
package analysis

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
	"quantflow/internal/marketdata"
	"quantflow/internal/worker"
)

type MarketData interface {
	Quote(ctx context.Context, ticker string) (marketdata.Quote, error)
	OptionChain(ctx context.Context, ticker string, maxDays int) (marketdata.Chain, error)
}

// Inputs is the market data gathered for one evaluation.
type Inputs struct {
	Quote marketdata.Quote
	Chain *marketdata.Chain
}

// Engine runs the external scoring models. A nil Engine yields summary-only results.
type Engine interface {
	Evaluate(ctx context.Context, params domain.Params, in Inputs) (map[string]any, error)
}

type ReportWriter interface {
	Write(ctx context.Context, ticker, strategy string, analysis any) (string, error)
}

type HistoryRecorder interface {
	Record(ctx context.Context, kind string, payload any) (string, error)
}

type Deps struct {
	Market  MarketData
	Engine  Engine
	Reports ReportWriter
	History HistoryRecorder
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Register adds all analysis handlers to r.
func Register(r *worker.Registry, d Deps) {
	r.Register(domain.TaskTypeStockAnalysis, NewStockAnalysis(d))
	r.Register(domain.TaskTypeOptionAnalysis, NewOptionAnalysis(d))
	r.Register(domain.TaskTypeEnhancedOptionAnalysis, NewEnhancedOptionAnalysis(d))
}

func evaluate(ctx context.Context, d Deps, p domain.Params, in Inputs) (map[string]any, error) {
	if d.Engine == nil {
		return nil, nil
	}
	return d.Engine.Evaluate(ctx, p, in)
}

// link stores result as a history record when a recorder is configured.
// A failed history write does not fail the task.
func link(ctx context.Context, d Deps, t domain.TaskType, result map[string]any) any {
	if d.History == nil {
		return result
	}
	id, err := d.History.Record(ctx, string(t), result)
	if err != nil {
		log.Warn().Err(err).Str("task_type", string(t)).Msg("failed to record analysis history")
		return result
	}
	return domain.Result{Data: result, HistoryID: id, HistoryType: string(t)}
}

func quoteSummary(q marketdata.Quote) map[string]any {
	s := map[string]any{
		"price":          q.Price,
		"previous_close": q.PreviousClose,
		"volume":         q.Volume,
	}
	if q.PreviousClose > 0 {
		s["change_pct"] = round((q.Price-q.PreviousClose)/q.PreviousClose*100, 2)
	}
	if !q.AsOf.IsZero() {
		s["as_of"] = q.AsOf
	}
	return s
}

// contractKind maps a strategy to the side of the chain it trades.
func contractKind(strategy string) string {
	switch strategy {
	case "covered_call", "long_call":
		return "call"
	default:
		return "put"
	}
}

func chainSummary(ch marketdata.Chain, kind string, minDays, maxDays int, hv float64) map[string]any {
	var n int
	var ivSum float64
	var oi int64
	for _, c := range ch.Contracts {
		if c.Kind != kind || c.DaysToExpiry < minDays || (maxDays > 0 && c.DaysToExpiry > maxDays) {
			continue
		}
		n++
		ivSum += c.ImpliedVolatility
		oi += c.OpenInterest
	}
	s := map[string]any{
		"kind":          kind,
		"contracts":     n,
		"open_interest": oi,
		"underlying":    ch.Underlying,
	}
	if n > 0 {
		iv := ivSum / float64(n)
		s["iv_mean"] = round(iv, 4)
		if hv > 0 {
			s["iv_hv_spread"] = round(iv-hv, 4)
		}
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
