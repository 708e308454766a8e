// Package scoring qualifies leads: a structured-output LLM call with a
// circuit breaker, backed by a deterministic heuristic so scoring never
// fails to the caller.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/pkg/httpretry"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

// Result is the scoring adapter's output.
type Result struct {
	Score        float64 `json:"score"`
	Persona      string  `json:"persona"`
	Reasoning    string  `json:"reasoning"`
	ModelVersion string  `json:"model_version"`
	Mock         bool    `json:"mock"`
}

const systemPrompt = `You are an expert B2B lead qualification system. Analyze company data and return a JSON object with:
- score: number between 0.0 and 1.0 (lead quality)
- persona: string (enterprise, smb, mid-market, or startup)
- reasoning: brief explanation

Scoring rules:
- HIGH (0.8-1.0): 500+ employees OR $10M+ revenue
- MEDIUM (0.5-0.79): 100-500 employees, $1M-$10M revenue
- LOW (0.0-0.49): <100 employees, <$1M revenue

Return ONLY valid JSON, no other text.`

// Client scores leads through the chat-completions API. When the key is
// missing, the call fails, or the response cannot be parsed, it falls
// back to the local heuristic; Score never returns an error.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    httpretry.HTTPDoer
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a scoring client from configuration. A missing API
// key puts the client permanently on the heuristic path.
func NewClient(cfg config.OpenAIConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openai-scoring",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("scoring breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	if c.apiKey == "" {
		logger.Warn("openai api key missing, scoring falls back to heuristic")
	}
	return c
}

// Mock reports whether the client is running without credentials.
func (c *Client) Mock() bool { return c.apiKey == "" }

// Score qualifies one normalized company record. Any failure on the
// model path degrades to the heuristic.
func (c *Client) Score(ctx context.Context, rec CompanyRecord) Result {
	if c.apiKey == "" {
		return fallbackScore(rec)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callModel(ctx, rec)
	})
	if err != nil {
		logger.Error("model scoring failed, using heuristic",
			"company", rec.CompanyName, "error", err.Error())
		return fallbackScore(rec)
	}

	res := out.(Result)
	logger.Info("lead scored via model",
		"company", rec.CompanyName,
		"score", fmt.Sprintf("%.2f", res.Score),
		"persona", res.Persona)
	return res
}

func (c *Client) callModel(ctx context.Context, rec CompanyRecord) (Result, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: marshal input: %w", err)
	}

	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "Lead payload:\n" + string(payload)},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.3,
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("scoring: api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return Result{}, fmt.Errorf("scoring: parse response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("scoring: empty choices")
	}

	return c.parseStructured(completion.Choices[0].Message.Content)
}

// parseStructured extracts the scoring schema from the model's message,
// tolerating markdown code fences.
func (c *Client) parseStructured(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var parsed struct {
		Score     *float64 `json:"score"`
		Persona   string   `json:"persona"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return Result{}, fmt.Errorf("scoring: structured content invalid: %w", err)
	}
	if parsed.Score == nil || parsed.Persona == "" {
		return Result{}, fmt.Errorf("scoring: structured response missing fields")
	}

	score := *parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return Result{
		Score:        score,
		Persona:      parsed.Persona,
		Reasoning:    parsed.Reasoning,
		ModelVersion: c.model,
		Mock:         false,
	}, nil
}

// HealthCheck scores a canned record to probe the model path.
func (c *Client) HealthCheck(ctx context.Context) map[string]interface{} {
	if c.apiKey == "" {
		return map[string]interface{}{"status": "mock_mode", "accessible": false}
	}
	res := c.Score(ctx, CompanyRecord{
		CompanyName:   "Health Check Inc",
		Industry:      "software",
		EmployeeCount: 150,
		Revenue:       3_000_000,
	})
	if res.Mock {
		return map[string]interface{}{"status": "degraded", "accessible": false, "mock": true}
	}
	return map[string]interface{}{"status": "healthy", "accessible": true, "mock": false}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
