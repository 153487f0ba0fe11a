package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
	"quantflow/internal/worker"
)

const defaultMaxDays = 45

type OptionAnalysis struct{ deps Deps }

func NewOptionAnalysis(d Deps) *OptionAnalysis { return &OptionAnalysis{deps: d} }

func (h *OptionAnalysis) Handle(ctx context.Context, raw json.RawMessage, progress worker.ProgressFunc) (any, error) {
	progress(5, "validating input")
	p, err := decode(domain.TaskTypeOptionAnalysis, raw)
	if err != nil {
		return nil, err
	}
	params := p.(domain.OptionAnalysisParams)
	if params.MaxDays == 0 {
		params.MaxDays = defaultMaxDays
	}

	progress(15, "fetching quote")
	quote, err := h.deps.Market.Quote(ctx, params.Ticker)
	if err != nil {
		return nil, err
	}
	progress(35, "fetching option chain")
	chain, err := h.deps.Market.OptionChain(ctx, params.Ticker, params.MaxDays)
	if err != nil {
		return nil, err
	}

	progress(65, "analysing "+params.Strategy)
	scores, err := evaluate(ctx, h.deps, params, Inputs{Quote: quote, Chain: &chain})
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"ticker":       params.Ticker,
		"strategy":     params.Strategy,
		"max_days":     params.MaxDays,
		"quote":        quoteSummary(quote),
		"chain":        chainSummary(chain, contractKind(params.Strategy), 0, params.MaxDays, quote.HistoricalVolatility),
		"analysis":     scores,
		"generated_at": h.deps.now(),
	}
	progress(90, "saving results")
	return link(ctx, h.deps, domain.TaskTypeOptionAnalysis, result), nil
}

// EnhancedOptionAnalysis narrows the expiry window and can attach a written report.
type EnhancedOptionAnalysis struct{ deps Deps }

func NewEnhancedOptionAnalysis(d Deps) *EnhancedOptionAnalysis {
	return &EnhancedOptionAnalysis{deps: d}
}

func (h *EnhancedOptionAnalysis) Handle(ctx context.Context, raw json.RawMessage, progress worker.ProgressFunc) (any, error) {
	progress(5, "validating input")
	p, err := decode(domain.TaskTypeEnhancedOptionAnalysis, raw)
	if err != nil {
		return nil, err
	}
	params := p.(domain.EnhancedOptionAnalysisParams)
	if params.MaxDays == 0 {
		params.MaxDays = defaultMaxDays
	}
	if params.MinDays > params.MaxDays {
		return nil, fmt.Errorf("%w: min_days %d exceeds max_days %d", domain.ErrInvalidParams, params.MinDays, params.MaxDays)
	}

	progress(10, "fetching quote")
	quote, err := h.deps.Market.Quote(ctx, params.Ticker)
	if err != nil {
		return nil, err
	}
	progress(25, "fetching option chain")
	chain, err := h.deps.Market.OptionChain(ctx, params.Ticker, params.MaxDays)
	if err != nil {
		return nil, err
	}

	progress(45, "analysing "+params.Strategy)
	scores, err := evaluate(ctx, h.deps, params, Inputs{Quote: quote, Chain: &chain})
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"ticker":       params.Ticker,
		"strategy":     params.Strategy,
		"min_days":     params.MinDays,
		"max_days":     params.MaxDays,
		"quote":        quoteSummary(quote),
		"chain":        chainSummary(chain, contractKind(params.Strategy), params.MinDays, params.MaxDays, quote.HistoricalVolatility),
		"analysis":     scores,
		"generated_at": h.deps.now(),
	}

	if params.IncludeReport {
		progress(70, "writing report")
		switch {
		case h.deps.Reports == nil:
			result["report_error"] = "report writer not configured"
		default:
			text, err := h.deps.Reports.Write(ctx, params.Ticker, params.Strategy, result)
			if err != nil {
				log.Warn().Err(err).Str("ticker", params.Ticker).Msg("report generation failed")
				result["report_error"] = err.Error()
			} else {
				result["report"] = text
			}
		}
	}

	progress(90, "saving results")
	return link(ctx, h.deps, domain.TaskTypeEnhancedOptionAnalysis, result), nil
}
