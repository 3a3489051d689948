package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	copilotTokenURL     = "https://api.github.com/copilot_internal/v2/token"
	copilotAPIBase      = "https://copilot-proxy.githubusercontent.com/v1"
	copilotModel        = "copilot-chat"
	copilotUserAgent    = "GithubCopilot/1.86.92"
	tokenRefreshEvery   = 120 * time.Second
	tokenRefreshTries   = 5
	tokenRetryDelay     = time.Second
	defaultCallTimeout  = 40 * time.Second
	maxStreamLineLength = 1024 * 1024
)

// CopilotProvider implements Backend against a streaming chat-completions API
// whose short-lived access token is exchanged from a long-lived credential.
type CopilotProvider struct {
	pat        string
	tokenURL   string
	apiBase    string
	model      string
	userAgent  string
	timeout    time.Duration
	retryDelay time.Duration
	client     *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	refreshed time.Time
}

type CopilotOption func(*CopilotProvider)

func WithCopilotTokenURL(u string) CopilotOption {
	return func(p *CopilotProvider) {
		if u != "" {
			p.tokenURL = u
		}
	}
}

func WithCopilotAPIBase(base string) CopilotOption {
	return func(p *CopilotProvider) {
		if base != "" {
			p.apiBase = strings.TrimRight(base, "/")
		}
	}
}

func WithCopilotModel(model string) CopilotOption {
	return func(p *CopilotProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithCopilotTimeout overrides the per-call deadline.
func WithCopilotTimeout(d time.Duration) CopilotOption {
	return func(p *CopilotProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCopilotRetryDelay overrides the pause between token refresh attempts.
func WithCopilotRetryDelay(d time.Duration) CopilotOption {
	return func(p *CopilotProvider) { p.retryDelay = d }
}

func NewCopilotProvider(pat string, opts ...CopilotOption) *CopilotProvider {
	p := &CopilotProvider{
		pat:        pat,
		tokenURL:   copilotTokenURL,
		apiBase:    copilotAPIBase,
		model:      copilotModel,
		userAgent:  copilotUserAgent,
		timeout:    defaultCallTimeout,
		retryDelay: tokenRetryDelay,
		client:     &http.Client{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *CopilotProvider) Name() string { return "copilot" }

// accessToken returns a cached token, refreshing it when older than
// tokenRefreshEvery. Refreshes are serialized.
func (p *CopilotProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Sub(p.refreshed) < tokenRefreshEvery {
		return p.token, nil
	}

	var lastErr error
	for attempt := 1; attempt <= tokenRefreshTries; attempt++ {
		token, err := p.fetchToken(ctx)
		if err == nil {
			p.token = token
			p.refreshed = p.now()
			return token, nil
		}
		lastErr = err
		slog.Warn("copilot: token refresh failed", "attempt", attempt, "error", err)

		if attempt == tokenRefreshTries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrAuthExhausted, tokenRefreshTries, lastErr)
}

func (p *CopilotProvider) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", "token "+p.pat)
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("token response has no token")
	}
	return out.Token, nil
}

func (p *CopilotProvider) Complete(ctx context.Context, history []Message, opts Options) (string, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return "", &CompletionError{Provider: p.Name(), Reason: "Failed to refresh access token", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body := map[string]interface{}{
		"stream":      true,
		"intent":      false,
		"messages":    trimmed(history),
		"model":       p.model,
		"temperature": opts.Temperature,
		"top_p":       1,
		"n":           1,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	respBody, err := p.doRequest(reqCtx, token, body)
	if err != nil {
		return "", wrapErr(p.Name(), "Failed to get response from copilot", ctx, reqCtx, err)
	}
	defer respBody.Close()

	content, err := decodeStream(respBody)
	if err != nil {
		return "", wrapErr(p.Name(), "Failed to read response stream", ctx, reqCtx, err)
	}
	return content, nil
}

func (p *CopilotProvider) doRequest(ctx context.Context, token string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role    *string `json:"role"`
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// decodeStream accumulates the assistant content of an SSE completion stream.
// A delta carrying a role restarts the content; a finish_reason or [DONE]
// ends the stream. Malformed records are skipped.
func decodeStream(r io.Reader) (string, error) {
	var content strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			break
		}
		if choice.Delta.Role != nil {
			content.Reset()
		}
		if choice.Delta.Content != nil {
			content.WriteString(*choice.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return content.String(), nil
}
