package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/ai"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/logger"
	"github.com/spigell/apply-pilot/internal/profile"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	defaultTone         = "Friendly"
)

// Writer composes cover letters with Gemini. It implements ai.Generator.
type Writer struct {
	generator contentGenerator
	tone      string
	logger    *zap.Logger
	maxLogLen int
}

// NewWriter builds a cover-letter writer on top of a content generator.
func NewWriter(generator contentGenerator, tone string, maxLogLength int, log *zap.Logger) *Writer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if strings.TrimSpace(tone) == "" {
		tone = defaultTone
	}

	return &Writer{
		generator: generator,
		tone:      tone,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// ComposeLetter generates a cover letter for the posting.
func (w *Writer) ComposeLetter(ctx context.Context, p *profile.Profile, posting *job.Posting) (*ai.Letter, error) {
	if p == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if posting == nil {
		return nil, fmt.Errorf("posting is required")
	}

	profileJSON, err := json.MarshalIndent(profilePayload(p), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}

	postingJSON, err := json.MarshalIndent(postingPayload(posting), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	prompt := buildPrompt(string(profileJSON), string(postingJSON), w.tone)

	w.logger.Debug("gemini compose letter request",
		zap.String("posting", posting.Key.String()),
		zap.String("model", w.generator.Model()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, w.maxLogLen)),
	)

	raw, err := w.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("gemini compose letter response",
		zap.String("posting", posting.Key.String()),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, w.maxLogLen)),
	)

	text, err := parseLetter(raw)
	if err != nil {
		return nil, err
	}

	return &ai.Letter{
		ID:   uuid.New().String(),
		Text: text,
		Raw:  raw,
	}, nil
}

func profilePayload(p *profile.Profile) map[string]any {
	skills := make([]string, 0, len(p.Skills))
	for s := range p.Skills {
		skills = append(skills, s)
	}

	return map[string]any{
		"summary":          p.Summary,
		"skills":           skills,
		"experience_years": p.ExperienceYears,
		"keywords":         p.Keywords,
	}
}

func postingPayload(posting *job.Posting) map[string]any {
	return map[string]any{
		"title":       posting.Title,
		"company":     posting.Company,
		"location":    posting.Location,
		"description": posting.Description,
	}
}

func buildPrompt(profileJSON, postingJSON, tone string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Profile:\n{{PROFILE_JSON}}\n\nPosting:\n{{POSTING_JSON}}\n\nJSON Response:"
	}

	prompt := strings.ReplaceAll(template, "{{PROFILE_JSON}}", profileJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	prompt = strings.ReplaceAll(prompt, "{{TONE}}", tone)
	return prompt
}

func parseLetter(raw string) (string, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return "", fmt.Errorf("parse gemini response: %w", err)
	}

	text := coerceString(data["letter"])
	if text == "" {
		return "", fmt.Errorf("gemini response has no letter text")
	}

	return text, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
