package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Sessions: SessionsConfig{
			Driver:        "file",
			Storage:       "~/.chatrelay/sessions",
			LegacyFile:    "sessions.json",
			FlushSchedule: "*/5 * * * *",
		},
		Personas: PersonasConfig{
			Path:  "profiles.json",
			Watch: true,
		},
		Banlist: BanlistConfig{
			Path: "ban_list.json",
		},
		Overflow: OverflowConfig{
			Enabled:   true,
			ShortName: "bootlegsiri",
		},
		Relay: RelayConfig{
			OwnerIDs:       FlexibleStringSlice{"51594512"},
			DefaultPersona: "g",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "chatrelay",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}

	// Credentials under their historical names first, prefixed names win.
	envStr("TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("GITHUB_PAT_TOKEN", &c.Providers.Copilot.PAT)
	envStr("CLAUDE_API_TOKEN", &c.Providers.Claude.APIKey)
	envStr("CHATRELAY_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("CHATRELAY_COPILOT_PAT", &c.Providers.Copilot.PAT)
	envStr("CHATRELAY_CLAUDE_API_KEY", &c.Providers.Claude.APIKey)

	envStr("CHATRELAY_TELEGRAM_API_SERVER", &c.Telegram.APIServer)

	// Sessions
	envStr("CHATRELAY_SESSIONS_DRIVER", &c.Sessions.Driver)
	envStr("CHATRELAY_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("CHATRELAY_SESSIONS_DSN", &c.Sessions.DSN)
	envStr("CHATRELAY_SESSIONS_LEGACY_FILE", &c.Sessions.LegacyFile)
	envStr("CHATRELAY_SESSIONS_FLUSH_SCHEDULE", &c.Sessions.FlushSchedule)

	envStr("CHATRELAY_PERSONAS_PATH", &c.Personas.Path)
	envBool("CHATRELAY_PERSONAS_WATCH", &c.Personas.Watch)
	envStr("CHATRELAY_BANLIST_PATH", &c.Banlist.Path)
	envBool("CHATRELAY_OVERFLOW_ENABLED", &c.Overflow.Enabled)

	// Owner IDs from env (comma-separated)
	if v := os.Getenv("CHATRELAY_OWNER_IDS"); v != "" {
		var ids FlexibleStringSlice
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		c.Relay.OwnerIDs = ids
	}
	envInt("CHATRELAY_INBOUND_RPM", &c.Relay.InboundRPM)

	// Telemetry
	envStr("CHATRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHATRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CHATRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("CHATRELAY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("CHATRELAY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Save writes the config as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// MaskedCopy returns a copy with every credential replaced by "***".
func (c *Config) MaskedCopy() *Config {
	cp := *c
	cp.Relay.OwnerIDs = append(FlexibleStringSlice(nil), c.Relay.OwnerIDs...)
	maskNonEmpty(&cp.Telegram.Token)
	maskNonEmpty(&cp.Providers.Copilot.PAT)
	maskNonEmpty(&cp.Providers.Claude.APIKey)
	maskNonEmpty(&cp.Sessions.DSN)
	if len(c.Telemetry.Headers) > 0 {
		cp.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k := range c.Telemetry.Headers {
			cp.Telemetry.Headers[k] = "***"
		}
	}
	return &cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = "***"
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
