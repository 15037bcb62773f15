// Package reasoning implements the free-text reasoning collaborator over an
// Anthropic-style messages API. The pipeline treats every failure here as
// recoverable: callers fall back to deterministic rules.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"verity/internal/audit/ports"
	"verity/internal/integrations"
	"verity/internal/platform/config"
)

const collaboratorName = "reasoning"

// Client talks to the reasoning service.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

// New builds a client from collaborator config.
func New(cfg config.Collaborator, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

// Reason implements ports.Reasoner.
func (c *Client) Reason(ctx context.Context, systemPrompt, userMessage string, temperature float64) (ports.ReasonResult, error) {
	payload := messageRequest{
		Model:       c.model,
		MaxTokens:   4096,
		Temperature: temperature,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: userMessage}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorInternal, collaboratorName, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorInternal, collaboratorName, "build request", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		category := integrations.ErrorOutage
		if errors.Is(err, context.DeadlineExceeded) {
			category = integrations.ErrorTimeout
		}
		return ports.ReasonResult{}, integrations.NewError(category, collaboratorName, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorAuthentication, collaboratorName,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorOutage, collaboratorName,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorBadData, collaboratorName, "read response", err)
	}

	var decoded messageResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ports.ReasonResult{}, integrations.NewError(integrations.ErrorBadData, collaboratorName, "decode response", err)
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return ports.ReasonResult{
		Text:         text.String(),
		Model:        decoded.Model,
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
	}, nil
}

// DecodeFencedJSON unmarshals reasoning output that may be wrapped in a
// markdown code fence. Parse failure is a recoverable bad_data error.
func DecodeFencedJSON(text string, v any) error {
	content := strings.TrimSpace(text)
	if strings.HasPrefix(content, "```") {
		if _, rest, ok := strings.Cut(content, "\n"); ok {
			content = rest
		}
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return integrations.NewError(integrations.ErrorBadData, collaboratorName, "parse reasoning JSON", err)
	}
	return nil
}
