package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params is the typed form of a task's input_params, one variant per task type.
type Params interface {
	TaskType() TaskType
}

type StockAnalysisParams struct {
	Ticker string `json:"ticker"`
	Style  string `json:"style,omitempty"`
}

func (StockAnalysisParams) TaskType() TaskType { return TaskTypeStockAnalysis }

type OptionAnalysisParams struct {
	Ticker   string `json:"ticker"`
	Strategy string `json:"strategy"`
	MaxDays  int    `json:"max_days,omitempty"`
}

func (OptionAnalysisParams) TaskType() TaskType { return TaskTypeOptionAnalysis }

type EnhancedOptionAnalysisParams struct {
	Ticker        string `json:"ticker"`
	Strategy      string `json:"strategy"`
	MinDays       int    `json:"min_days,omitempty"`
	MaxDays       int    `json:"max_days,omitempty"`
	IncludeReport bool   `json:"include_report,omitempty"`
}

func (EnhancedOptionAnalysisParams) TaskType() TaskType { return TaskTypeEnhancedOptionAnalysis }

// DecodeParams unmarshals raw params into the variant for t and normalises the ticker.
func DecodeParams(t TaskType, raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var p Params
	switch t {
	case TaskTypeStockAnalysis:
		var v StockAnalysisParams
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		v.Ticker = normalizeTicker(v.Ticker)
		p = v
	case TaskTypeOptionAnalysis:
		var v OptionAnalysisParams
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		v.Ticker = normalizeTicker(v.Ticker)
		p = v
	case TaskTypeEnhancedOptionAnalysis:
		var v EnhancedOptionAnalysisParams
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		v.Ticker = normalizeTicker(v.Ticker)
		p = v
	default:
		return nil, UnknownTaskType(t)
	}
	return p, nil
}

func normalizeTicker(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
