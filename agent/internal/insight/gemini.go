package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is used when the config names none.
const DefaultModel = "gemini-2.0-flash"

const systemInstruction = `You are a project analysis expert. Analyze the project data and reply with
a single JSON object, no other text:

{
  "health_score": 0-100,
  "risk_level": "LOW" | "MEDIUM" | "HIGH" | "CRITICAL",
  "summary": "two or three sentences",
  "risks": ["risk or blocker", "..."],
  "recommendations": ["recommendation", "..."],
  "timeline_prediction": "one sentence"
}`

// GeminiService asks a Gemini model for the assessment.
type GeminiService struct {
	model    string
	generate func(ctx context.Context, prompt string) (string, error)
	now      func() time.Time
}

// NewGeminiService creates a client for the Gemini API.
func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("insight: gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("insight: create genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.4),
		MaxOutputTokens:   2000,
		ResponseMIMEType:  "application/json",
	}
	return &GeminiService{
		model: model,
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model,
				[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
		now: time.Now,
	}, nil
}

// Analyze sends prompt and decodes the model's JSON reply.
func (s *GeminiService) Analyze(ctx context.Context, projectID int, prompt string) (*Document, error) {
	text, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("insight: gemini generate: %w", err)
	}
	doc, err := parseDocument(text)
	if err != nil {
		return nil, err
	}
	doc.ProjectID = projectID
	doc.Model = s.model
	doc.AnalyzedAt = s.now().UTC()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseDocument decodes a model reply, tolerating a markdown code fence.
func parseDocument(text string) (*Document, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidDocument)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	doc.RiskLevel = strings.ToUpper(strings.TrimSpace(doc.RiskLevel))
	return &doc, nil
}

func extractJSON(s string) string {
	if idx := strings.Index(s, "```"); idx != -1 {
		start := idx + 3
		if nl := strings.Index(s[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
