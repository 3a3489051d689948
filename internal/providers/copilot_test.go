package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newCopilotServer serves both the token exchange and the completion endpoint.
func newCopilotServer(t *testing.T, completion http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if got := r.Header.Get("Authorization"); got != "token pat-123" {
			t.Errorf("unexpected token auth header: %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "cat-token"})
	})
	mux.HandleFunc("/chat/completions", completion)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestCopilot(srv *httptest.Server, opts ...CopilotOption) *CopilotProvider {
	base := []CopilotOption{
		WithCopilotTokenURL(srv.URL + "/token"),
		WithCopilotAPIBase(srv.URL),
		WithCopilotRetryDelay(time.Millisecond),
	}
	return NewCopilotProvider("pat-123", append(base, opts...)...)
}

func sseLines(records ...string) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "data: %s\n\n", r)
	}
	return b.String()
}

// --- decodeStream ---

func TestDecodeStream(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "accumulates content",
			body: sseLines(
				`{"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`,
				`{"choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}`,
				`{"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
				`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			),
			want: "Hello",
		},
		{
			name: "role restarts content",
			body: sseLines(
				`{"choices":[{"delta":{"content":"draft"},"finish_reason":null}]}`,
				`{"choices":[{"delta":{"role":"assistant","content":"final"},"finish_reason":null}]}`,
			),
			want: "final",
		},
		{
			name: "finish reason stops before later records",
			body: sseLines(
				`{"choices":[{"delta":{"content":"a"},"finish_reason":null}]}`,
				`{"choices":[{"delta":{"content":"b"},"finish_reason":"length"}]}`,
				`{"choices":[{"delta":{"content":"c"},"finish_reason":null}]}`,
			),
			want: "a",
		},
		{
			name: "malformed records skipped",
			body: sseLines(
				`{"choices":[{"delta":{"content":"x"},"finish_reason":null}]}`,
				`{not json`,
				`{"choices":[]}`,
				`{"choices":[{"delta":{"content":"y"},"finish_reason":null}]}`,
				`[DONE]`,
				`{"choices":[{"delta":{"content":"z"},"finish_reason":null}]}`,
			),
			want: "xy",
		},
		{
			name: "non data lines ignored",
			body: ": keepalive\n\nevent: ping\n\n" + sseLines(`{"choices":[{"delta":{"content":"ok"},"finish_reason":null}]}`),
			want: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeStream(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeStream = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- CopilotProvider ---

func TestCopilot_CompleteSendsTrimmedMessages(t *testing.T) {
	srv, _ := newCopilotServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer cat-token" {
			t.Errorf("unexpected bearer: %q", got)
		}
		var body struct {
			Stream   bool      `json:"stream"`
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if !body.Stream || body.Model != copilotModel {
			t.Errorf("unexpected request: %+v", body)
		}
		if len(body.Messages) != 2 || body.Messages[1].Content != "hi" {
			t.Errorf("messages not trimmed: %+v", body.Messages)
		}
		fmt.Fprint(w, sseLines(`{"choices":[{"delta":{"content":"hello"},"finish_reason":null}]}`, `[DONE]`))
	})

	p := newTestCopilot(srv)
	got, err := p.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: " sys "},
		{Role: RoleUser, Content: "  hi\n"},
	}, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestCopilot_TokenCachedBetweenCalls(t *testing.T) {
	srv, tokenCalls := newCopilotServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseLines(`{"choices":[{"delta":{"content":"ok"},"finish_reason":null}]}`))
	})

	now := time.Unix(1000, 0)
	p := newTestCopilot(srv)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := p.Complete(context.Background(), nil, DefaultOptions()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("expected 1 token exchange, got %d", got)
	}

	now = now.Add(tokenRefreshEvery)
	if _, err := p.Complete(context.Background(), nil, DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if got := tokenCalls.Load(); got != 2 {
		t.Fatalf("expected refresh after %s, got %d exchanges", tokenRefreshEvery, got)
	}
}

func TestCopilot_AuthExhausted(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		t.Error("completion must not be called without a token")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestCopilot(srv)
	_, err := p.Complete(context.Background(), nil, DefaultOptions())
	if !errors.Is(err, ErrAuthExhausted) {
		t.Fatalf("expected ErrAuthExhausted, got %v", err)
	}
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CompletionError, got %T", err)
	}
	if got := attempts.Load(); got != tokenRefreshTries {
		t.Fatalf("expected %d attempts, got %d", tokenRefreshTries, got)
	}
}

func TestCopilot_Timeout(t *testing.T) {
	srv, _ := newCopilotServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	p := newTestCopilot(srv, WithCopilotTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultOptions())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var ce *CompletionError
	if !errors.As(err, &ce) || ce.Reason != "Timeout" {
		t.Fatalf("expected Timeout completion error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestCopilot_HTTPErrorIsCompletionError(t *testing.T) {
	srv, _ := newCopilotServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	p := newTestCopilot(srv)
	_, err := p.Complete(context.Background(), nil, DefaultOptions())
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CompletionError, got %v", err)
	}
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped HTTPError 503, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("HTTP failure misreported as timeout")
	}
}
