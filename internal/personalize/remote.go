package personalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/pkg/httpretry"
)

// RemoteAgent calls a hosted personalization agent that rewrites
// template output for tone and length.
type RemoteAgent struct {
	apiKey    string
	workspace string
	baseURL   string
	http      httpretry.HTTPDoer
}

// NewRemoteAgent builds the agent client. A missing or placeholder key
// disables it, leaving the renderer on the local path.
func NewRemoteAgent(cfg config.TruefoundryConfig) *RemoteAgent {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteAgent{
		apiKey:    cfg.APIKey,
		workspace: cfg.Workspace,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2),
	}
}

// Enabled reports whether the agent has usable credentials.
func (a *RemoteAgent) Enabled() bool {
	return a != nil && a.apiKey != "" && !strings.HasPrefix(a.apiKey, "your_")
}

// Personalize asks the agent to produce {subject, body} from a template
// and lead data.
func (a *RemoteAgent) Personalize(ctx context.Context, template string, leadData map[string]interface{}, prompt string) (Message, error) {
	if prompt == "" {
		prompt = "Personalize this message professionally"
	}
	payload := map[string]interface{}{
		"workspace":                    a.workspace,
		"template":                     template,
		"lead_data":                    leadData,
		"personalization_instructions": prompt,
		"config":                       map[string]interface{}{},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/agents/personalize", bytes.NewReader(body))
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("personalize: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("personalize: agent status %d", resp.StatusCode)
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return Message{}, fmt.Errorf("personalize: parse response: %w", err)
	}
	if msg.Body == "" {
		return Message{}, fmt.Errorf("personalize: agent returned empty body")
	}
	return msg, nil
}
