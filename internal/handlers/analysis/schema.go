package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"quantflow/internal/domain"
)

const tickerSchema = `{"type": "string", "pattern": "^\\s*[A-Za-z][A-Za-z.\\-]{0,9}\\s*$"}`

var stockSchema = `{
  "type": "object",
  "required": ["ticker"],
  "properties": {
    "ticker": ` + tickerSchema + `,
    "style": {"enum": ["growth", "value", "dividend", "momentum", "balanced"]}
  }
}`

var optionSchema = `{
  "type": "object",
  "required": ["ticker", "strategy"],
  "properties": {
    "ticker": ` + tickerSchema + `,
    "strategy": {"enum": ["covered_call", "cash_secured_put", "long_call", "long_put"]},
    "max_days": {"type": "integer", "minimum": 1, "maximum": 365}
  }
}`

var enhancedOptionSchema = `{
  "type": "object",
  "required": ["ticker", "strategy"],
  "properties": {
    "ticker": ` + tickerSchema + `,
    "strategy": {"enum": ["covered_call", "cash_secured_put", "long_call", "long_put"]},
    "min_days": {"type": "integer", "minimum": 0, "maximum": 365},
    "max_days": {"type": "integer", "minimum": 1, "maximum": 365},
    "include_report": {"type": "boolean"}
  }
}`

var schemas = map[domain.TaskType]*jsonschema.Schema{
	domain.TaskTypeStockAnalysis:          jsonschema.MustCompileString("stock_analysis.json", stockSchema),
	domain.TaskTypeOptionAnalysis:         jsonschema.MustCompileString("option_analysis.json", optionSchema),
	domain.TaskTypeEnhancedOptionAnalysis: jsonschema.MustCompileString("enhanced_option_analysis.json", enhancedOptionSchema),
}

// decode validates raw against the schema for t and returns the typed params.
func decode(t domain.TaskType, raw json.RawMessage) (domain.Params, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	schema, ok := schemas[t]
	if !ok {
		return nil, domain.UnknownTaskType(t)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	}
	return domain.DecodeParams(t, raw)
}
