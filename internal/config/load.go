package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace:       "~/.clawbridge/workspace",
		DefaultCLI:      "claude",
		AdapterFallback: "claude",
		AdaptersDir:     "~/.clawbridge/adapters",
		Channels: ChannelsConfig{
			Web: WebConfig{Listen: "127.0.0.1:18791"},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWBRIDGE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CLAWBRIDGE_WORKSPACE", &c.Workspace)
	envStr("CLAWBRIDGE_DEFAULT_CLI", &c.DefaultCLI)
	envStr("CLAWBRIDGE_ADAPTERS_DIR", &c.AdaptersDir)
	envStr("CLAWBRIDGE_WEB_LISTEN", &c.Channels.Web.Listen)

	// a token provided via env implies the channel is wanted
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("CLAWBRIDGE_WEB_ENABLED"); v == "true" || v == "1" {
		c.Channels.Web.Enabled = true
	}
	if v := os.Getenv("CLAWBRIDGE_MCP_ENABLED"); v == "true" || v == "1" {
		c.MCP.Enabled = true
	}
}
