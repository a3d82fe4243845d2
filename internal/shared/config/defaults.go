package config

import "time"

const (
	DefaultPort              = "7878"
	DefaultMaxToolIterations = 8
	DefaultHistoryLimit      = 200
	DefaultSubagentRetention = time.Hour
	DefaultMaxSubagents      = 1024
	DefaultHeartbeat         = 15 * time.Second
	DefaultSessionDir        = "~/.tamias/sessions"
	DefaultJobsDir           = "~/.tamias/jobs"
	DefaultUsagePath         = "~/.tamias/usage.jsonl"
	DefaultWorkspace         = "~/.tamias/workspace"
)

// ApplyDefaults fills zero values with the daemon defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Connections == nil {
		cfg.Connections = map[string]ConnectionConfig{}
	}
	if cfg.Agent.MaxToolIterations <= 0 {
		cfg.Agent.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.Agent.HistoryLimit <= 0 {
		cfg.Agent.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Agent.SubagentRetention <= 0 {
		cfg.Agent.SubagentRetention = DefaultSubagentRetention
	}
	if cfg.Agent.MaxSubagents <= 0 {
		cfg.Agent.MaxSubagents = DefaultMaxSubagents
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultWorkspace
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.HeartbeatInterval <= 0 {
		cfg.Server.HeartbeatInterval = DefaultHeartbeat
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "file"
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = DefaultSessionDir
	}
	if cfg.Scheduler.JobsDir == "" {
		cfg.Scheduler.JobsDir = DefaultJobsDir
	}
	if cfg.Usage.Path == "" {
		cfg.Usage.Path = DefaultUsagePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "tamiasd"
	}
	if cfg.Tracing.SampleRatio <= 0 {
		cfg.Tracing.SampleRatio = 1
	}
}
