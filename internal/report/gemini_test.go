package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	prompt string
	model  string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	c := &genai.Content{}
	for _, p := range parts {
		c.Parts = append(c.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: c}}}
}

func TestPrompt(t *testing.T) {
	p, err := Prompt("MSFT", "covered_call", map[string]any{"vrp": 0.05})
	require.NoError(t, err)
	assert.Contains(t, p, "MSFT")
	assert.Contains(t, p, "covered_call")
	assert.Contains(t, p, `"vrp": 0.05`)
}

func TestGemini_Write(t *testing.T) {
	f := &fakeModels{resp: textResponse("Premium is rich. ", "Main risk: earnings.")}
	g := &Gemini{models: f, model: DefaultModel}

	text, err := g.Write(context.Background(), "MSFT", "covered_call", map[string]int{"score": 7})
	require.NoError(t, err)
	assert.Equal(t, "Premium is rich. Main risk: earnings.", text)
	assert.Equal(t, DefaultModel, f.model)
	assert.Contains(t, f.prompt, "MSFT")
}

func TestGemini_WriteErrors(t *testing.T) {
	g := &Gemini{models: &fakeModels{resp: &genai.GenerateContentResponse{}}, model: DefaultModel}
	_, err := g.Write(context.Background(), "MSFT", "x", nil)
	assert.True(t, errors.Is(err, ErrEmptyResponse))

	blocked := textResponse("nope")
	blocked.Candidates[0].FinishReason = genai.FinishReasonSafety
	g.models = &fakeModels{resp: blocked}
	_, err = g.Write(context.Background(), "MSFT", "x", nil)
	assert.True(t, errors.Is(err, ErrContentBlocked))

	g.models = &fakeModels{err: errors.New("quota exceeded")}
	_, err = g.Write(context.Background(), "MSFT", "x", nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "")
	assert.Error(t, err)
}
