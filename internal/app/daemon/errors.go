package daemon

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrChainExhausted matches any *ChainError.
	ErrChainExhausted = errors.New("model candidate chain exhausted")
	// ErrNotSubagent is returned by sub-agent operations on top-level sessions.
	ErrNotSubagent = errors.New("session is not a sub-agent")
	// ErrAlreadyReported is returned when a sub-agent reports twice.
	ErrAlreadyReported = errors.New("sub-agent result already reported")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("daemon is shutting down")
)

// FailureReason classifies why a candidate could not serve a job.
type FailureReason string

const (
	ReasonConfig       FailureReason = "config"
	ReasonConstruction FailureReason = "construction"
	ReasonProvider     FailureReason = "provider"
	ReasonTransport    FailureReason = "transport"
)

// CandidateFailure is one failed attempt retained for diagnostics.
type CandidateFailure struct {
	Candidate Candidate
	Reason    FailureReason
	Err       error
}

func (f CandidateFailure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.Candidate.Ref, f.Reason, f.Err)
}

// ChainError reports that every candidate for a job failed.
type ChainError struct {
	SessionID string
	Failures  []CandidateFailure
}

func (e *ChainError) Error() string {
	if len(e.Failures) == 0 {
		return "no model candidates available: configure a connection with at least one model"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("all %d model candidates failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrChainExhausted) match.
func (e *ChainError) Is(target error) bool {
	return target == ErrChainExhausted
}

// Unwrap exposes the per-candidate errors.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
