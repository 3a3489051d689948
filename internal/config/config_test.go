package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Driver != "file" || cfg.Relay.DefaultPersona != "g" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.IsOwner(51594512) {
		t.Fatal("default owner missing")
	}
}

func TestLoad_JSON5AndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	data := `{
		// comments and trailing commas are fine
		telegram: { token: "from-file" },
		sessions: { driver: "sqlite", dsn: "relay.db", },
		relay: { owner_ids: [1, "2"] },
		dispatch: { epoch: "2s", global_cap: 10 },
		providers: { claude: { timeout: 500 } },
	}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TELEGRAM_TOKEN", "legacy-env")
	t.Setenv("CHATRELAY_CLAUDE_API_KEY", "claude-key")
	t.Setenv("CLAUDE_API_TOKEN", "legacy-claude")
	t.Setenv("CHATRELAY_TELEMETRY_ENABLED", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "legacy-env" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Providers.Claude.APIKey != "claude-key" {
		t.Errorf("prefixed env must win, got %q", cfg.Providers.Claude.APIKey)
	}
	if cfg.Sessions.Driver != "sqlite" || cfg.Sessions.DSN != "relay.db" {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if !cfg.IsOwner(1) || !cfg.IsOwner(2) || cfg.IsOwner(51594512) {
		t.Errorf("owners = %v", cfg.Relay.OwnerIDs)
	}
	if cfg.Dispatch.Epoch.Std() != 2*time.Second || cfg.Dispatch.GlobalCap != 10 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Providers.Claude.Timeout.Std() != 500*time.Millisecond {
		t.Errorf("claude timeout = %v", cfg.Providers.Claude.Timeout.Std())
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry not enabled from env")
	}
	if cfg.Personas.Path != "profiles.json" {
		t.Errorf("unset sections keep defaults, got %q", cfg.Personas.Path)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{nope"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "secret"
	cfg.Telemetry.Headers = map[string]string{"Authorization": "Bearer x"}

	m := cfg.MaskedCopy()
	if m.Telegram.Token != "***" || m.Telemetry.Headers["Authorization"] != "***" {
		t.Fatalf("not masked: %+v", m)
	}
	if cfg.Telegram.Token != "secret" || cfg.Telemetry.Headers["Authorization"] != "Bearer x" {
		t.Fatal("original modified")
	}
	if m.Providers.Claude.APIKey != "" {
		t.Fatal("empty secrets stay empty")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome(/abs) = %q", got)
	}
}
