// Package config holds the gateway configuration: a JSON5 file overlaid
// with environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
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

// Config is the root configuration for the gateway.
type Config struct {
	Workspace       string          `json:"workspace"`
	DefaultCLI      string          `json:"default_cli"`
	AdapterFallback string          `json:"adapter_fallback,omitempty"` // reroute target for droid subagent spawns
	AdaptersDir     string          `json:"adapters_dir,omitempty"`     // *.yaml manifest overrides
	Channels        ChannelsConfig  `json:"channels"`
	Scheduler       SchedulerConfig `json:"scheduler,omitempty"`
	Cron            CronConfig      `json:"cron,omitempty"`
	MCP             MCPConfig       `json:"mcp,omitempty"`
	Memory          MemoryConfig    `json:"memory,omitempty"`
}

// ChannelsConfig holds the transport configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Web      WebConfig      `json:"web"`
}

// TelegramConfig configures the Telegram bot transport.
type TelegramConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"token"`
	Proxy         string              `json:"proxy,omitempty"`
	AllowFrom     FlexibleStringSlice `json:"allow_from"`
	MediaMaxBytes int64               `json:"media_max_bytes,omitempty"` // max media download size (default 20MB)
}

// WebConfig configures the WebSocket transport.
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty"` // default "127.0.0.1:18791"
}

// SchedulerConfig sets the lane widths. Zero means the built-in default.
type SchedulerConfig struct {
	MainWidth     int `json:"main_width,omitempty"`
	SubagentWidth int `json:"subagent_width,omitempty"`
	CronWidth     int `json:"cron_width,omitempty"`
}

// CronConfig configures the scheduled-jobs service.
type CronConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Dir     string `json:"dir,omitempty"`     // job store directory (default <workspace>/.state)
}

// IsEnabled applies the default-on rule.
func (c CronConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MCPConfig configures the optional stdio MCP server.
type MCPConfig struct {
	Enabled bool `json:"enabled"`
}

// MemoryConfig configures the recall collaborator.
type MemoryConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Path    string `json:"path,omitempty"`    // sqlite file (default <workspace>/.state/memory.db)
}

// IsEnabled applies the default-on rule.
func (c MemoryConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Workspace)
}

// ExpandHome replaces a leading ~ with the user home directory.
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
