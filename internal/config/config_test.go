package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultCLI != "claude" || cfg.Workspace != "~/.clawbridge/workspace" {
		t.Errorf("defaults: %+v", cfg)
	}
	if !cfg.Cron.IsEnabled() || !cfg.Memory.IsEnabled() {
		t.Error("cron and memory default on")
	}
	if cfg.MCP.Enabled {
		t.Error("mcp defaults off")
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
	// gateway settings
	default_cli: "droid",
	channels: {
		telegram: {
			enabled: true,
			token: "123:abc",
			allow_from: [42, "alice"],
		},
	},
	scheduler: { subagent_width: 2 },
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultCLI != "droid" {
		t.Errorf("default_cli = %q", cfg.DefaultCLI)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("telegram: %+v", cfg.Channels.Telegram)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 || cfg.Channels.Telegram.AllowFrom[0] != "42" {
		t.Errorf("allow_from coercion: %v", cfg.Channels.Telegram.AllowFrom)
	}
	if cfg.Scheduler.SubagentWidth != 2 {
		t.Errorf("scheduler: %+v", cfg.Scheduler)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLAWBRIDGE_TELEGRAM_TOKEN", "env-token")
	t.Setenv("CLAWBRIDGE_DEFAULT_CLI", "codex")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels.Telegram.Token != "env-token" {
		t.Errorf("token: %q", cfg.Channels.Telegram.Token)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("env token should enable the channel")
	}
	if cfg.DefaultCLI != "codex" {
		t.Errorf("default_cli: %q", cfg.DefaultCLI)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("got %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("got %q", got)
	}
}
