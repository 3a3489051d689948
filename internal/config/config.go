package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Duration is a time.Duration written as a Go duration string ("1.2s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n float64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		// bare numbers are milliseconds
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the relay.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Providers ProvidersConfig `json:"providers"`
	Sessions  SessionsConfig  `json:"sessions"`
	Personas  PersonasConfig  `json:"personas"`
	Banlist   BanlistConfig   `json:"banlist"`
	Overflow  OverflowConfig  `json:"overflow"`
	Relay     RelayConfig     `json:"relay"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	Token       string `json:"token"`               // from env TELEGRAM_TOKEN when unset
	APIServer   string `json:"api_server,omitempty"` // custom Bot API server URL
	PollTimeout int    `json:"poll_timeout,omitempty"`
}

// ProvidersConfig holds the completion backends.
type ProvidersConfig struct {
	Copilot CopilotConfig `json:"copilot"`
	Claude  ClaudeConfig  `json:"claude"`
}

// CopilotConfig configures the default, token-refreshing backend.
// The personal access token is exchanged for short-lived access tokens.
type CopilotConfig struct {
	PAT      string   `json:"pat"` // from env GITHUB_PAT_TOKEN when unset
	TokenURL string   `json:"token_url,omitempty"`
	APIBase  string   `json:"api_base,omitempty"`
	Model    string   `json:"model,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
}

// ClaudeConfig configures the direct-key backend.
type ClaudeConfig struct {
	APIKey    string   `json:"api_key"` // from env CLAUDE_API_TOKEN when unset
	APIBase   string   `json:"api_base,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// SessionsConfig selects the checkpoint store.
type SessionsConfig struct {
	Driver        string `json:"driver"`                   // "file" (default), "sqlite" or "postgres"
	Storage       string `json:"storage"`                  // file store directory
	DSN           string `json:"dsn,omitempty"`            // sqlite path or postgres DSN
	LegacyFile    string `json:"legacy_file,omitempty"`    // single-file store migrated on startup
	FlushSchedule string `json:"flush_schedule,omitempty"` // cron expression for periodic checkpoint flush
}

type PersonasConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"`
}

type BanlistConfig struct {
	Path string `json:"path"`
}

// OverflowConfig configures the Telegraph sink for oversized replies.
type OverflowConfig struct {
	Enabled   bool   `json:"enabled"`
	APIBase   string `json:"api_base,omitempty"`
	ShortName string `json:"short_name,omitempty"`
}

// RelayConfig holds the message handling policy.
type RelayConfig struct {
	OwnerIDs       FlexibleStringSlice `json:"owner_ids,omitempty"` // users allowed to !ban / !unban
	DefaultPersona string              `json:"default_persona,omitempty"`
	InboundRPM     int                 `json:"inbound_rpm,omitempty"` // per-user inbound messages per minute, 0 = unlimited
	InboundBurst   int                 `json:"inbound_burst,omitempty"`
}

// DispatchConfig overrides the outbound pacing caps.
type DispatchConfig struct {
	GlobalCap int      `json:"global_cap,omitempty"`
	PerKeyCap int      `json:"per_key_cap,omitempty"`
	Epoch     Duration `json:"epoch,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "chatrelay")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// IsOwner reports whether userID may run owner commands.
func (c *Config) IsOwner(userID int64) bool {
	id := fmt.Sprintf("%d", userID)
	for _, o := range c.Relay.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}
