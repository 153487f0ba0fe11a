package analysis

import (
	"context"
	"encoding/json"

	"quantflow/internal/domain"
	"quantflow/internal/worker"
)

type StockAnalysis struct{ deps Deps }

func NewStockAnalysis(d Deps) *StockAnalysis { return &StockAnalysis{deps: d} }

func (h *StockAnalysis) Handle(ctx context.Context, raw json.RawMessage, progress worker.ProgressFunc) (any, error) {
	progress(5, "validating input")
	p, err := decode(domain.TaskTypeStockAnalysis, raw)
	if err != nil {
		return nil, err
	}
	params := p.(domain.StockAnalysisParams)
	if params.Style == "" {
		params.Style = "balanced"
	}

	progress(20, "fetching market data")
	quote, err := h.deps.Market.Quote(ctx, params.Ticker)
	if err != nil {
		return nil, err
	}

	progress(60, "analysing "+params.Ticker)
	scores, err := evaluate(ctx, h.deps, params, Inputs{Quote: quote})
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"ticker":       params.Ticker,
		"style":        params.Style,
		"quote":        quoteSummary(quote),
		"analysis":     scores,
		"generated_at": h.deps.now(),
	}
	progress(90, "saving results")
	return link(ctx, h.deps, domain.TaskTypeStockAnalysis, result), nil
}
