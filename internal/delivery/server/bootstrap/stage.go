package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

// Stage is one step of daemon assembly.
type Stage struct {
	Name     string
	Required bool // failure aborts startup; otherwise the component is marked degraded
	Init     func(ctx context.Context) error
}

// Degraded tracks optional components that failed to come up.
type Degraded struct {
	mu      sync.RWMutex
	reasons map[string]string
}

// NewDegraded returns an empty tracker.
func NewDegraded() *Degraded {
	return &Degraded{reasons: make(map[string]string)}
}

// Record marks name as degraded.
func (d *Degraded) Record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons[name] = reason
}

// Names lists degraded components in sorted order.
func (d *Degraded) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.reasons))
	for name := range d.reasons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reason returns why name is degraded.
func (d *Degraded) Reason(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reason, ok := d.reasons[name]
	return reason, ok
}

// RunStages executes stages in order and stops at the first required failure.
func RunStages(ctx context.Context, stages []Stage, degraded *Degraded, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("[Bootstrap] stage %s (required=%t)", stage.Name, stage.Required)
		err := stage.Init(ctx)
		if err == nil {
			continue
		}
		if stage.Required {
			return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
		}
		logger.Warn("[Bootstrap] optional stage %q failed: %v (continuing degraded)", stage.Name, err)
		if degraded != nil {
			degraded.Record(stage.Name, err.Error())
		}
	}
	return nil
}
