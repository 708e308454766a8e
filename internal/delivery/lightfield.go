// Package delivery dispatches rendered outreach through the Lightfield
// messaging platform, with a simulation mode for environments without
// provider credentials.
package delivery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
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

// SendRequest is one outbound email.
type SendRequest struct {
	ToEmail    string
	ToName     string
	Subject    string
	Body       string
	FromName   string
	TrackingID string
}

// SendResult is the provider's answer. Status is "sent" or "failed";
// failures carry Error and never propagate as a Go error to the worker.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	SentAt    time.Time `json:"sent_at"`
	Simulated bool      `json:"simulated,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// MessageStatus is the engagement snapshot for one provider message.
type MessageStatus struct {
	MessageID   string `json:"message_id"`
	Status      string `json:"status"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	OpenedAt    string `json:"opened_at,omitempty"`
	ClickedAt   string `json:"clicked_at,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Client talks to the Lightfield messages API.
type Client struct {
	apiKey   string
	baseURL  string
	fromName string
	simulate bool
	http     httpretry.HTTPDoer
	breaker  *gobreaker.CircuitBreaker
}

// NewClient builds a delivery client. Simulation mode is entered when
// explicitly enabled, when the key is absent, or when the key is a
// placeholder left over from an env template.
func NewClient(cfg config.LightfieldConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	simulate := cfg.Simulate || cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "your_")
	c := &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		fromName: cfg.FromName,
		simulate: simulate,
		http:     httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "lightfield-delivery",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("delivery breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	if simulate {
		logger.Info("delivery running in simulation mode")
	}
	return c
}

// Simulated reports whether sends are being simulated.
func (c *Client) Simulated() bool { return c.simulate }

// SendEmail dispatches one message. It never returns a Go error: any
// provider failure comes back as a SendResult with Status "failed".
func (c *Client) SendEmail(ctx context.Context, req SendRequest) SendResult {
	if c.simulate {
		return c.simulateSend(req)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.sendLive(ctx, req)
	})
	if err != nil {
		logger.Error("delivery failed",
			"to", req.ToEmail,
			"tracking_id", req.TrackingID,
			"error", err.Error())
		return SendResult{Status: "failed", Provider: "lightfield", Error: err.Error()}
	}
	return out.(SendResult)
}

func (c *Client) sendLive(ctx context.Context, req SendRequest) (SendResult, error) {
	fromName := req.FromName
	if fromName == "" {
		fromName = c.fromName
	}
	payload := map[string]interface{}{
		"to":          map[string]string{"email": req.ToEmail, "name": req.ToName},
		"from":        map[string]string{"name": fromName},
		"subject":     req.Subject,
		"body":        req.Body,
		"tracking_id": req.TrackingID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/email/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SendResult{}, fmt.Errorf("delivery: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("delivery: provider status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SendResult{}, fmt.Errorf("delivery: parse response: %w", err)
	}

	return SendResult{
		MessageID: parsed.MessageID,
		Status:    "sent",
		Provider:  "lightfield",
		SentAt:    time.Now().UTC(),
	}, nil
}

func (c *Client) simulateSend(req SendRequest) SendResult {
	buf := make([]byte, 8)
	rand.Read(buf)
	messageID := "lf_msg_" + hex.EncodeToString(buf)

	logger.Info("simulated email send",
		"to", req.ToEmail,
		"subject", req.Subject,
		"message_id", messageID,
		"tracking_id", req.TrackingID)

	return SendResult{
		MessageID: messageID,
		Status:    "sent",
		Provider:  "lightfield-simulator",
		SentAt:    time.Now().UTC(),
		Simulated: true,
	}
}

// GetMessageStatus fetches the delivery/engagement state of a sent
// message. Failures return Status "unknown" with the error attached.
func (c *Client) GetMessageStatus(ctx context.Context, messageID string) MessageStatus {
	if c.simulate {
		return MessageStatus{
			MessageID:   messageID,
			Status:      "delivered",
			DeliveredAt: time.Now().UTC().Format(time.RFC3339),
			Simulated:   true,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages/"+messageID+"/status", nil)
	if err != nil {
		return MessageStatus{MessageID: messageID, Status: "unknown", Error: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return MessageStatus{MessageID: messageID, Status: "unknown", Error: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return MessageStatus{
			MessageID: messageID,
			Status:    "unknown",
			Error:     fmt.Sprintf("provider status %d", resp.StatusCode),
		}
	}

	var status MessageStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return MessageStatus{MessageID: messageID, Status: "unknown", Error: err.Error()}
	}
	if status.MessageID == "" {
		status.MessageID = messageID
	}
	return status
}

// HealthCheck reports the adapter's operating mode for readiness probes.
func (c *Client) HealthCheck(ctx context.Context) map[string]interface{} {
	if c.simulate {
		return map[string]interface{}{
			"status":   "simulate_mode",
			"provider": "lightfield-simulator",
		}
	}
	return map[string]interface{}{
		"status":   "healthy",
		"provider": "lightfield",
		"breaker":  c.breaker.State().String(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
