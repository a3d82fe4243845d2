package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces identifiers for sessions, jobs and events.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewSessionID generates a new session identifier with a stable prefix for display.
func NewSessionID() string {
	return defaultGenerator.newIdentifier("session")
}

// NewSubagentID generates an identifier for a delegated sub-agent session.
func NewSubagentID() string {
	return defaultGenerator.newIdentifier("subagent")
}

// NewJobID generates an identifier for a queued job.
func NewJobID() string {
	return defaultGenerator.newIdentifier("job")
}

// NewCallID generates an identifier for a tool call that arrived without one.
func NewCallID() string {
	return defaultGenerator.newIdentifier("call")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
