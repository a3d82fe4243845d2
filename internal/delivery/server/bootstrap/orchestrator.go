package bootstrap

import (
	"sort"

	"github.com/desduvauchelle/tamias-sub001/internal/app/daemon"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/orchestration"
)

// subagentEngine is the part of the engine the orchestration tools drive.
type subagentEngine interface {
	SpawnSubagent(parentID, task string, opts daemon.SpawnOptions) (session.Session, error)
	UpdateSubagentProgress(sessionID, message string) error
	SubmitSubagentReport(sessionID string, report daemon.SubagentReport) error
	GetAllSessions() []session.Session
}

// engineOrchestrator exposes the engine to the orchestration tools.
type engineOrchestrator struct {
	engine subagentEngine
}

var _ orchestration.Orchestrator = engineOrchestrator{}

func (o engineOrchestrator) Spawn(parentID, task string, req orchestration.SpawnRequest) (string, error) {
	sub, err := o.engine.SpawnSubagent(parentID, task, daemon.SpawnOptions{Model: req.Model, Name: req.Name})
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (o engineOrchestrator) Progress(sessionID, message string) error {
	return o.engine.UpdateSubagentProgress(sessionID, message)
}

func (o engineOrchestrator) Report(sessionID string, report orchestration.Report) error {
	return o.engine.SubmitSubagentReport(sessionID, daemon.SubagentReport{
		Status:  report.Status,
		Outcome: report.Outcome,
		Reason:  report.Reason,
		Context: report.Context,
	})
}

// Children lists the live sub-agents of parentID, oldest spawn first.
func (o engineOrchestrator) Children(parentID string) []orchestration.Child {
	var subs []session.Session
	for _, s := range o.engine.GetAllSessions() {
		if s.IsSubagent && s.ParentSessionID == parentID {
			subs = append(subs, s)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	out := make([]orchestration.Child, 0, len(subs))
	for _, s := range subs {
		out = append(out, orchestration.Child{
			ID:       s.ID,
			Task:     s.Task,
			Status:   s.SubagentStatus,
			Progress: s.Progress,
		})
	}
	return out
}
