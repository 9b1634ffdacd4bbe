package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
	"github.com/kirillkom/file-annotator/internal/infrastructure/zeroshot"
)

const DefaultBaseURL = "https://api-inference.huggingface.co"

// Client calls a hosted zero-shot-classification pipeline
// (POST {base}/models/{model}).
type Client struct {
	baseURL    string
	model      string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model, token string, timeout time.Duration, executor *resilience.Executor) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Available() bool {
	return c != nil && c.model != ""
}

func (c *Client) ClassifyZeroShot(ctx context.Context, text string, candidateLabels []string) (domain.ZeroShotScores, error) {
	scores, err := resilience.Call(ctx, c.executor, "huggingface.zero_shot", func(callCtx context.Context) (domain.ZeroShotScores, error) {
		return c.classify(callCtx, text, candidateLabels)
	}, zeroshot.ClassifyHTTPError)
	if err != nil {
		return domain.ZeroShotScores{}, err
	}
	slog.Debug("zero_shot_scores", "provider", "huggingface", "scores", zeroshot.Describe(scores))
	return scores, nil
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

func (c *Client) classify(ctx context.Context, text string, labels []string) (domain.ZeroShotScores, error) {
	body, err := json.Marshal(request{
		Inputs:     text,
		Parameters: parameters{CandidateLabels: labels, MultiLabel: true},
	})
	if err != nil {
		return domain.ZeroShotScores{}, fmt.Errorf("marshal zero-shot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return domain.ZeroShotScores{}, fmt.Errorf("create zero-shot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ZeroShotScores{}, fmt.Errorf("huggingface zero-shot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.ZeroShotScores{}, zeroshot.NewHTTPStatusError("huggingface", "zero-shot", resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.ZeroShotScores{}, domain.WrapError(domain.ErrMalformedResponse, "decode zero-shot response", err)
	}
	return decodeScores(raw)
}

// decodeScores accepts both the classic {"labels": [...], "scores": [...]}
// shape and the list-of-pairs shape served by newer inference routers.
func decodeScores(raw json.RawMessage) (domain.ZeroShotScores, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pairs []struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
		}
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return domain.ZeroShotScores{}, domain.WrapError(domain.ErrMalformedResponse, "decode zero-shot response", err)
		}
		out := domain.ZeroShotScores{}
		for _, p := range pairs {
			out.Labels = append(out.Labels, p.Label)
			out.Scores = append(out.Scores, p.Score)
		}
		return checkShape(out)
	}

	var classic struct {
		Labels []string  `json:"labels"`
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal(trimmed, &classic); err != nil {
		return domain.ZeroShotScores{}, domain.WrapError(domain.ErrMalformedResponse, "decode zero-shot response", err)
	}
	return checkShape(domain.ZeroShotScores{Labels: classic.Labels, Scores: classic.Scores})
}

func checkShape(scores domain.ZeroShotScores) (domain.ZeroShotScores, error) {
	if len(scores.Labels) == 0 {
		return domain.ZeroShotScores{}, domain.WrapError(domain.ErrMalformedResponse, "decode zero-shot response", errors.New("no labels in response"))
	}
	return scores, nil
}
