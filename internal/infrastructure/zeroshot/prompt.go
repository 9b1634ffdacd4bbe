// Package zeroshot holds what the zero-shot text classification providers
// share: the scoring prompt for LLM-backed providers, response parsing and
// HTTP error classification.
package zeroshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

// BuildPrompt asks an instruction-following model to score every candidate
// label independently.
func BuildPrompt(text string, labels []string) string {
	return `You are a document classifier.
Score how well the document matches each candidate label, independently, from 0 to 1.
Return strict JSON object: {"scores": {"<label>": <number>, ...}} with every candidate label as a key.
No markdown, no extra keys.

Candidate labels: ` + strings.Join(labels, ", ") + `

Document:
` + text
}

// ParseScores reads a model reply produced for BuildPrompt. Labels come back in
// candidate order; a label the model skipped scores 0.
func ParseScores(raw string, labels []string) (domain.ZeroShotScores, error) {
	body := extractJSONObject(raw)

	var wrapped struct {
		Scores map[string]float64 `json:"scores"`
	}
	scores := map[string]float64{}
	if err := json.Unmarshal([]byte(body), &wrapped); err == nil && len(wrapped.Scores) > 0 {
		scores = wrapped.Scores
	} else if err := json.Unmarshal([]byte(body), &scores); err != nil {
		return domain.ZeroShotScores{}, domain.WrapError(domain.ErrMalformedResponse, "parse zero-shot scores", err)
	}

	normalized := make(map[string]float64, len(scores))
	for label, score := range scores {
		normalized[strings.ToLower(strings.TrimSpace(label))] = clamp(score)
	}

	out := domain.ZeroShotScores{
		Labels: make([]string, 0, len(labels)),
		Scores: make([]float64, 0, len(labels)),
	}
	matched := 0
	for _, label := range labels {
		score, ok := normalized[strings.ToLower(label)]
		if ok {
			matched++
		}
		out.Labels = append(out.Labels, label)
		out.Scores = append(out.Scores, score)
	}
	if matched == 0 {
		return domain.ZeroShotScores{}, domain.WrapError(
			domain.ErrMalformedResponse,
			"parse zero-shot scores",
			errors.New("reply scored none of the candidate labels"),
		)
	}
	return out, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// Describe renders scores for debug logs.
func Describe(scores domain.ZeroShotScores) string {
	parts := make([]string, 0, len(scores.Labels))
	for i, label := range scores.Labels {
		if i < len(scores.Scores) {
			parts = append(parts, fmt.Sprintf("%s=%.2f", label, scores.Scores[i]))
		}
	}
	return strings.Join(parts, " ")
}
