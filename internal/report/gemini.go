// Package report writes narrative analysis reports with Gemini.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

var (
	ErrEmptyResponse  = errors.New("empty response from model")
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

var promptTemplate = template.Must(template.New("report").Parse(
	`You are an options analyst. Write a concise report (at most 200 words) for {{.Ticker}} using the {{.Strategy}} strategy.
Base every statement only on the analysis data below and end with the main risk.

Analysis data (JSON):
{{.Data}}
`))

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini struct {
	models generator
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{models: client.Models, model: model}, nil
}

// Write renders the analysis into a prompt and returns the model's text.
func (g *Gemini) Write(ctx context.Context, ticker, strategy string, analysis any) (string, error) {
	prompt, err := Prompt(ticker, strategy, analysis)
	if err != nil {
		return "", err
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func Prompt(ticker, strategy string, analysis any) (string, error) {
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	var buf bytes.Buffer
	err = promptTemplate.Execute(&buf, struct {
		Ticker, Strategy, Data string
	}{ticker, strategy, string(data)})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
