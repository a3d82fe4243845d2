package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobStatusActive JobStatus = "active"
	JobStatusPaused JobStatus = "paused"
)

// Job is a persistable periodic trigger.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	// Target is "last", "channelId:channelUserId" or anything else for a
	// fresh session.
	Target  string    `json:"target"`
	Prompt  string    `json:"prompt,omitempty"`
	Message string    `json:"message,omitempty"`
	Silent  bool      `json:"silent,omitempty"`
	Status  JobStatus `json:"status"`

	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	RunCount  int       `json:"run_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the minimum required fields and the schedule syntax.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(j.Prompt) == "" && strings.TrimSpace(j.Message) == "" {
		return fmt.Errorf("job %s: prompt or message is required", j.ID)
	}
	if _, err := ParseSchedule(j.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	if j.Status != "" && j.Status != JobStatusActive && j.Status != JobStatusPaused {
		return fmt.Errorf("job %s: invalid status %q", j.ID, j.Status)
	}
	return nil
}

// Trigger converts the job to the core's trigger payload.
func (j Job) Trigger() ports.TriggerJob {
	return ports.TriggerJob{
		ID:      j.ID,
		Name:    j.Name,
		Target:  j.Target,
		Prompt:  j.Prompt,
		Message: j.Message,
		Silent:  j.Silent,
	}
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts 5-field cron expressions, descriptors such as
// "@hourly", "@every 30m", and bare durations ("30m") as shorthand for
// "@every".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule interval must be positive")
		}
		return cron.Every(d), nil
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// FromConfig converts a statically configured job.
func FromConfig(c config.SchedulerJobConfig) Job {
	status := JobStatusActive
	if c.Disabled {
		status = JobStatusPaused
	}
	return Job{
		ID:       c.ID,
		Name:     c.Name,
		Schedule: c.Schedule,
		Target:   c.Target,
		Prompt:   c.Prompt,
		Message:  c.Message,
		Silent:   c.Silent,
		Status:   status,
	}
}
