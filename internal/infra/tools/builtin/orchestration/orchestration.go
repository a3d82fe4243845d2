// Package orchestration provides the tools a session uses to delegate work
// to sub-agents and the tools a sub-agent uses to report back.
package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/shared"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
)

// SpawnRequest carries the optional spawn overrides.
type SpawnRequest struct {
	Model string
	Name  string
}

// Report is a sub-agent's explicit final result.
type Report struct {
	Status  session.SubagentStatus
	Outcome string
	Reason  string
	Context map[string]any
}

// Child summarizes one sub-agent of a session.
type Child struct {
	ID       string
	Task     string
	Status   session.SubagentStatus
	Progress string
}

// Orchestrator is the slice of the engine these tools drive.
type Orchestrator interface {
	Spawn(parentID, task string, req SpawnRequest) (string, error)
	Progress(sessionID, message string) error
	Report(sessionID string, report Report) error
	Children(parentID string) []Child
}

// Tools returns every orchestration tool bound to orch.
func Tools(orch Orchestrator) []shared.Tool {
	return []shared.Tool{
		NewSpawnSubagent(orch),
		NewSubagentProgress(orch),
		NewReportSubagentResult(orch),
		NewListSubagents(orch),
	}
}

func callerSession(ctx context.Context) (string, error) {
	sessionID := id.SessionIDFromContext(ctx)
	if sessionID == "" {
		return "", fmt.Errorf("no session in context")
	}
	return sessionID, nil
}

type spawnSubagent struct {
	shared.BaseTool
	orch Orchestrator
}

// NewSpawnSubagent creates the spawn_subagent tool.
func NewSpawnSubagent(orch Orchestrator) shared.Tool {
	return &spawnSubagent{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name: "spawn_subagent",
			Description: "Delegate a self-contained task to a background sub-agent. The sub-agent works " +
				"independently and its result is delivered back to this conversation as a report when it finishes.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"task":  {Type: "string", Description: "Complete instructions for the sub-agent."},
				"name":  {Type: "string", Description: "Optional short label."},
				"model": {Type: "string", Description: "Optional model reference as connection/model."},
			}, "task"),
		}),
		orch: orch,
	}
}

func (t *spawnSubagent) Execute(ctx context.Context, call session.ToolCall) (ports.ToolResult, error) {
	parentID, err := callerSession(ctx)
	if err != nil {
		return shared.ToolError("%v", err)
	}
	task := strings.TrimSpace(shared.StringArg(call.Arguments, "task"))
	childID, err := t.orch.Spawn(parentID, task, SpawnRequest{
		Model: strings.TrimSpace(shared.StringArg(call.Arguments, "model")),
		Name:  strings.TrimSpace(shared.StringArg(call.Arguments, "name")),
	})
	if err != nil {
		return shared.ToolError("spawn failed: %v", err)
	}
	return shared.Text("Spawned sub-agent %s. Its report will arrive in this conversation when it finishes; do not wait for it.", childID)
}

type subagentProgress struct {
	shared.BaseTool
	orch Orchestrator
}

// NewSubagentProgress creates the subagent_progress tool.
func NewSubagentProgress(orch Orchestrator) shared.Tool {
	return &subagentProgress{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name:        "subagent_progress",
			Description: "Sub-agents only: publish a short progress note to the parent conversation.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"message": {Type: "string", Description: "What has been done so far."},
			}, "message"),
		}),
		orch: orch,
	}
}

func (t *subagentProgress) Execute(ctx context.Context, call session.ToolCall) (ports.ToolResult, error) {
	sessionID, err := callerSession(ctx)
	if err != nil {
		return shared.ToolError("%v", err)
	}
	if err := t.orch.Progress(sessionID, shared.StringArg(call.Arguments, "message")); err != nil {
		return shared.ToolError("progress not recorded: %v", err)
	}
	return shared.Text("Progress recorded.")
}

type reportSubagentResult struct {
	shared.BaseTool
	orch Orchestrator
}

// NewReportSubagentResult creates the report_subagent_result tool.
func NewReportSubagentResult(orch Orchestrator) shared.Tool {
	return &reportSubagentResult{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name: "report_subagent_result",
			Description: "Sub-agents only: deliver the final result to the parent. Call once when the task is " +
				"done or cannot be completed.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"status":  {Type: "string", Description: "Final status.", Enum: []string{"completed", "failed"}},
				"outcome": {Type: "string", Description: "The result, or partial result on failure."},
				"reason":  {Type: "string", Description: "Why the task failed."},
				"context": {Type: "object", Description: "Optional structured data for the parent."},
			}, "status"),
		}),
		orch: orch,
	}
}

func (t *reportSubagentResult) Execute(ctx context.Context, call session.ToolCall) (ports.ToolResult, error) {
	sessionID, err := callerSession(ctx)
	if err != nil {
		return shared.ToolError("%v", err)
	}
	status := session.SubagentStatus(strings.ToLower(strings.TrimSpace(shared.StringArg(call.Arguments, "status"))))
	if status != session.StatusCompleted && status != session.StatusFailed {
		return shared.ToolError("status must be completed or failed, got %q", status)
	}
	report := Report{
		Status:  status,
		Outcome: shared.StringArg(call.Arguments, "outcome"),
		Reason:  shared.StringArg(call.Arguments, "reason"),
		Context: shared.MapArg(call.Arguments, "context"),
	}
	if err := t.orch.Report(sessionID, report); err != nil {
		return shared.ToolError("report not delivered: %v", err)
	}
	return shared.Text("Report delivered to the parent session. You can stop now.")
}

type listSubagents struct {
	shared.BaseTool
	orch Orchestrator
}

// NewListSubagents creates the list_subagents tool.
func NewListSubagents(orch Orchestrator) shared.Tool {
	return &listSubagents{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name:        "list_subagents",
			Description: "List the sub-agents spawned by this conversation with their status and latest progress.",
			Parameters:  shared.ObjectSchema(map[string]shared.Property{}),
		}),
		orch: orch,
	}
}

func (t *listSubagents) Execute(ctx context.Context, _ session.ToolCall) (ports.ToolResult, error) {
	parentID, err := callerSession(ctx)
	if err != nil {
		return shared.ToolError("%v", err)
	}
	children := t.orch.Children(parentID)
	if len(children) == 0 {
		return shared.Text("No sub-agents.")
	}
	var sb strings.Builder
	for _, child := range children {
		fmt.Fprintf(&sb, "- %s [%s] %s", child.ID, child.Status, session.TaskSummary(child.Task))
		if child.Progress != "" {
			fmt.Fprintf(&sb, " (progress: %s)", child.Progress)
		}
		sb.WriteString("\n")
	}
	return shared.Text("%s", sb.String())
}
