package config

import (
	"sort"
	"strings"
	"time"
)

// Config is the parsed daemon configuration file.
type Config struct {
	Connections   map[string]ConnectionConfig `yaml:"connections"`
	DefaultModels []string                    `yaml:"default_models"`
	Agent         AgentConfig                 `yaml:"agent"`
	Server        ServerConfig                `yaml:"server"`
	Session       SessionConfig               `yaml:"session"`
	Scheduler     SchedulerConfig             `yaml:"scheduler"`
	Channels      ChannelsConfig              `yaml:"channels"`
	Usage         UsageConfig                 `yaml:"usage"`
	Logging       LoggingConfig               `yaml:"logging"`
	Tracing       TracingConfig               `yaml:"tracing"`
}

// ConnectionConfig describes one provider account and the models it serves.
type ConnectionConfig struct {
	Provider     string   `yaml:"provider"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Models       []string `yaml:"models"`
	RateLimitRPM int      `yaml:"rate_limit_rpm"`
}

// AgentConfig tunes the orchestration engine.
type AgentConfig struct {
	SystemPrompt      string        `yaml:"system_prompt"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	HistoryLimit      int           `yaml:"history_limit"`
	SubagentRetention time.Duration `yaml:"subagent_retention"`
	MaxSubagents      int           `yaml:"max_subagents"`
	Workspace         string        `yaml:"workspace"` // root for file tools
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Port              string        `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// SessionConfig selects the session persistence backend.
type SessionConfig struct {
	Store       string `yaml:"store"` // file | postgres | memory
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
	Compress    bool   `yaml:"compress"`
}

// SchedulerConfig configures periodic triggers.
type SchedulerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	JobsDir string               `yaml:"jobs_dir"`
	Jobs    []SchedulerJobConfig `yaml:"jobs"`
}

// SchedulerJobConfig is a statically configured scheduler job.
type SchedulerJobConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or "@every 30m"
	Target   string `yaml:"target"`   // last | channelId:channelUserId | anything else
	Prompt   string `yaml:"prompt"`
	Message  string `yaml:"message"` // delivered verbatim without a model call
	Silent   bool   `yaml:"silent"`  // run the turn but do not voice it on bridges
	Disabled bool   `yaml:"disabled"`
}

// ChannelsConfig enables outbound/inbound bridges.
type ChannelsConfig struct {
	Terminal TerminalChannelConfig  `yaml:"terminal"`
	Webhooks []WebhookChannelConfig `yaml:"webhooks"`
}

// TerminalChannelConfig prints channel traffic on stdout.
type TerminalChannelConfig struct {
	Enabled bool `yaml:"enabled"`
	NoColor bool `yaml:"no_color"`
}

// WebhookChannelConfig forwards rendered replies to an HTTP endpoint.
type WebhookChannelConfig struct {
	ID                 string  `yaml:"id"`
	URL                string  `yaml:"url"`
	Secret             string  `yaml:"secret"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
}

// UsageConfig configures the usage/cost log.
type UsageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables OTLP span export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Connection is the resolved view of one configured connection.
type Connection struct {
	ID           string
	Provider     string
	APIKey       string
	BaseURL      string
	Models       []string
	RateLimitRPM int
}

// Connection resolves a connection identifier to its settings.
func (c *Config) Connection(id string) (Connection, bool) {
	if c == nil {
		return Connection{}, false
	}
	raw, ok := c.Connections[id]
	if !ok {
		return Connection{}, false
	}
	return Connection{
		ID:           id,
		Provider:     strings.ToLower(strings.TrimSpace(raw.Provider)),
		APIKey:       raw.APIKey,
		BaseURL:      raw.BaseURL,
		Models:       append([]string(nil), raw.Models...),
		RateLimitRPM: raw.RateLimitRPM,
	}, true
}

// ConnectionIDs returns the configured connection identifiers in sorted order.
func (c *Config) ConnectionIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Connections))
	for id := range c.Connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfiguredModels lists every "connection/model" pair, connections in sorted
// order and models in configured order.
func (c *Config) ConfiguredModels() []string {
	var refs []string
	for _, id := range c.ConnectionIDs() {
		for _, model := range c.Connections[id].Models {
			model = strings.TrimSpace(model)
			if model == "" {
				continue
			}
			refs = append(refs, id+"/"+model)
		}
	}
	return refs
}

// DefaultModelPriority returns the user's default-model priority list.
func (c *Config) DefaultModelPriority() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.DefaultModels...)
}
