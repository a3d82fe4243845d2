package config

import (
	"fmt"
	"strings"
)

// SplitModelRef splits "connection/modelId" into its parts. Model identifiers
// may themselves contain slashes (e.g. "openrouter/meta-llama/llama-3").
func SplitModelRef(ref string) (connectionID, model string, ok bool) {
	ref = strings.TrimSpace(ref)
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

// Validate reports configuration problems that would make the daemon unusable.
// Unknown connections referenced by default_models are warnings, not errors,
// because the fallback resolver drops them at execution time.
func Validate(cfg *Config) (warnings []string, err error) {
	var problems []string
	for id, conn := range cfg.Connections {
		if strings.Contains(id, "/") {
			problems = append(problems, fmt.Sprintf("connection id %q must not contain '/'", id))
		}
		if strings.TrimSpace(conn.Provider) == "" {
			problems = append(problems, fmt.Sprintf("connection %q: provider is required", id))
		}
	}
	for _, ref := range cfg.DefaultModels {
		connID, _, ok := SplitModelRef(ref)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("default model %q is not of the form connection/model", ref))
			continue
		}
		if _, exists := cfg.Connections[connID]; !exists {
			warnings = append(warnings, fmt.Sprintf("default model %q references unknown connection %q", ref, connID))
		}
	}
	for i, job := range cfg.Scheduler.Jobs {
		if strings.TrimSpace(job.Schedule) == "" {
			problems = append(problems, fmt.Sprintf("scheduler job %d (%s): schedule is required", i, job.ID))
		}
	}
	if len(problems) > 0 {
		return warnings, fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return warnings, nil
}
