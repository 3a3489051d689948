package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	claudeAPIBase   = "https://api.anthropic.com"
	claudeModel     = "claude-v1.3-100k"
	claudeMaxTokens = 10000
)

var claudeStopSequences = []string{"Human:", "Assistant:"}

// ClaudeProvider implements Backend using the text completion API with a
// directly configured key.
type ClaudeProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
}

type ClaudeOption func(*ClaudeProvider)

func WithClaudeModel(model string) ClaudeOption {
	return func(p *ClaudeProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithClaudeBaseURL(baseURL string) ClaudeOption {
	return func(p *ClaudeProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithClaudeTimeout(d time.Duration) ClaudeOption {
	return func(p *ClaudeProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithClaudeMaxTokens(n int) ClaudeOption {
	return func(p *ClaudeProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func NewClaudeProvider(apiKey string, opts ...ClaudeOption) *ClaudeProvider {
	p := &ClaudeProvider{
		apiKey:    apiKey,
		baseURL:   claudeAPIBase,
		model:     claudeModel,
		maxTokens: claudeMaxTokens,
		timeout:   defaultCallTimeout,
		client:    &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *ClaudeProvider) Name() string { return "claude" }

// FormatPrompt flattens a transcript into Human/Assistant turns. System turns
// are rendered as Human turns.
func FormatPrompt(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case RoleSystem, RoleUser:
			b.WriteString("\n\nHuman: ")
		case RoleAssistant:
			b.WriteString("\n\nAssistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

func (p *ClaudeProvider) Complete(ctx context.Context, history []Message, opts Options) (string, error) {
	msgs := append(trimmed(history), Message{Role: RoleAssistant})
	return p.CompleteRaw(ctx, FormatPrompt(msgs), opts)
}

// CompleteRaw sends prompt verbatim.
func (p *ClaudeProvider) CompleteRaw(ctx context.Context, prompt string, opts Options) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	body := map[string]interface{}{
		"stop_sequences":       claudeStopSequences,
		"temperature":          opts.Temperature,
		"model":                p.model,
		"prompt":               prompt,
		"max_tokens_to_sample": maxTokens,
	}

	completion, err := p.doRequest(reqCtx, body)
	if err != nil {
		return "", wrapErr(p.Name(), "Failed to get response from Claude API", ctx, reqCtx, err)
	}
	return completion, nil
}

type claudeResponse struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *ClaudeProvider) doRequest(ctx context.Context, body interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/complete", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s: %s", out.Error.Type, out.Error.Message)
	}
	return out.Completion, nil
}
