package daemon

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subagentFixture(t *testing.T, opts ...fixtureOption) *fixture {
	fx := newFixture(t, testCatalog(nil, map[string][]string{"a": {"m"}}), opts...)
	fx.factory.respond = func(sessionID string, req ports.ChatRequest) []ports.StreamDelta {
		text := lastUserText(req)
		if strings.Contains(text, "Count to 42") && !strings.Contains(text, "Sub-agent report") {
			return []ports.StreamDelta{{Text: "The answer "}, {Text: "is 42"}}
		}
		return []ports.StreamDelta{{Text: "ack"}}
	}
	return fx
}

func TestSubagentCompletesAndReportsToParentOnce(t *testing.T) {
	fx := subagentFixture(t)
	parent, err := fx.engine.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	require.NoError(t, err)

	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentSessionID)
	assert.Equal(t, "discord", child.ChannelID)

	final := waitIdle(t, fx.engine, child.ID)
	waitIdle(t, fx.engine, parent.ID)

	assert.Equal(t, session.StatusCompleted, final.SubagentStatus)
	require.NotNil(t, final.CompletedAt)
	assert.True(t, final.SubagentCallbackCalled)

	statuses := fx.dispatcher.statuses(child.ID)
	require.Len(t, statuses, 2)
	assert.Equal(t, event.SubagentStarted, statuses[0].Status)
	assert.Equal(t, event.SubagentCompleted, statuses[1].Status)
	assert.Equal(t, "Count to 42", statuses[0].Task)
	assert.Equal(t, "discord", fx.dispatcher.all()[0].ChannelID)

	parentCalls := fx.factory.callsFor(parent.ID)
	require.Len(t, parentCalls, 1, "exactly one report job reached the parent")
	report := lastUserText(parentCalls[0].Request)
	assert.Contains(t, report, "Count to 42")
	assert.Contains(t, report, "✅ completed")
	assert.Contains(t, report, "The answer is 42")

	for _, d := range fx.dispatcher.all() {
		if d.Context.SessionID != child.ID {
			continue
		}
		_, isStatus := d.Event.(event.SubagentStatus)
		assert.True(t, isStatus, "sub-agent leaked %s externally", d.Event.Type())
	}
}

func TestMarkCallbackCalledSuppressesAutomaticReport(t *testing.T) {
	fx := subagentFixture(t)
	parent, err := fx.engine.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	require.NoError(t, err)

	fx.factory.beforeEOF = func(sessionID string) {
		if strings.HasPrefix(sessionID, "subagent-") {
			assert.NoError(t, fx.engine.MarkSubagentCallbackCalled(sessionID))
		}
	}
	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)

	final := waitIdle(t, fx.engine, child.ID)
	assert.Equal(t, session.StatusCompleted, final.SubagentStatus)

	p, _ := fx.engine.GetSession(parent.ID)
	assert.Empty(t, p.Queue)
	assert.False(t, p.Processing)
	assert.Empty(t, fx.factory.callsFor(parent.ID))
}

func TestExplicitFailedReportDecidesTerminalStatus(t *testing.T) {
	fx := subagentFixture(t)
	parent, err := fx.engine.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	require.NoError(t, err)

	fx.factory.beforeEOF = func(sessionID string) {
		if strings.HasPrefix(sessionID, "subagent-") {
			assert.NoError(t, fx.engine.SubmitSubagentReport(sessionID, SubagentReport{
				Status: session.StatusFailed,
				Reason: "source unreachable",
			}))
		}
	}
	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)

	final := waitIdle(t, fx.engine, child.ID)
	assert.Equal(t, session.StatusFailed, final.SubagentStatus)
	assert.Equal(t, session.StatusFailed, final.ReportedStatus)

	statuses := fx.dispatcher.statuses(child.ID)
	require.Len(t, statuses, 2)
	assert.Equal(t, event.SubagentFailed, statuses[1].Status)
	assert.Equal(t, "source unreachable", statuses[1].Message)

	waitIdle(t, fx.engine, parent.ID)
	calls := fx.factory.callsFor(parent.ID)
	require.Len(t, calls, 1, "the explicit report is the only one")
	report := lastUserText(calls[0].Request)
	assert.Contains(t, report, "❌ failed")
	assert.Contains(t, report, "source unreachable")
}

func TestPanickingSubagentFailsAndReports(t *testing.T) {
	fx := subagentFixture(t)
	fx.factory.respond = func(sessionID string, req ports.ChatRequest) []ports.StreamDelta {
		if strings.HasPrefix(sessionID, "subagent-") {
			panic("provider exploded")
		}
		return []ports.StreamDelta{{Text: "ack"}}
	}
	parent, _ := fx.engine.CreateSession(CreateOptions{ChannelID: "slack", ChannelUserID: "u"})

	child, err := fx.engine.SpawnSubagent(parent.ID, "Risky task", SpawnOptions{})
	require.NoError(t, err)
	final := waitIdle(t, fx.engine, child.ID)
	assert.Equal(t, session.StatusFailed, final.SubagentStatus)
	require.NotNil(t, final.CompletedAt)

	waitIdle(t, fx.engine, parent.ID)
	calls := fx.factory.callsFor(parent.ID)
	require.Len(t, calls, 1)
	report := lastUserText(calls[0].Request)
	assert.Contains(t, report, "❌ failed")
	assert.Contains(t, report, "provider exploded")
}

func TestSubmitSubagentReportIsExactlyOnce(t *testing.T) {
	fx := subagentFixture(t)
	parent, _ := fx.engine.CreateSession(CreateOptions{})
	child, err := fx.engine.CreateSession(CreateOptions{IsSubagent: true, ParentSessionID: parent.ID, Task: "Research"})
	require.NoError(t, err)

	require.NoError(t, fx.engine.SubmitSubagentReport(child.ID, SubagentReport{
		Status:  session.StatusCompleted,
		Outcome: "found it",
		Context: map[string]any{"sources": 3},
	}))
	assert.ErrorIs(t, fx.engine.SubmitSubagentReport(child.ID, SubagentReport{Status: session.StatusCompleted}), ErrAlreadyReported)

	waitIdle(t, fx.engine, parent.ID)
	calls := fx.factory.callsFor(parent.ID)
	require.Len(t, calls, 1)
	text := lastUserText(calls[0].Request)
	assert.Contains(t, text, "```json")
	assert.Contains(t, text, `"sources": 3`)
	assert.Equal(t, "subagent", calls[0].Request.Messages[len(calls[0].Request.Messages)-1].Name)

	top, _ := fx.engine.CreateSession(CreateOptions{})
	assert.ErrorIs(t, fx.engine.SubmitSubagentReport(top.ID, SubagentReport{}), ErrNotSubagent)
}

func TestFailedSubagentReportsReason(t *testing.T) {
	fx := subagentFixture(t)
	fx.factory.failSession = func(sessionID string) error {
		if strings.HasPrefix(sessionID, "subagent-") {
			return errors.New("model refused")
		}
		return nil
	}
	parent, _ := fx.engine.CreateSession(CreateOptions{ChannelID: "slack", ChannelUserID: "u"})

	child, err := fx.engine.SpawnSubagent(parent.ID, "Impossible task", SpawnOptions{})
	require.NoError(t, err)
	final := waitIdle(t, fx.engine, child.ID)
	assert.Equal(t, session.StatusFailed, final.SubagentStatus)
	require.NotNil(t, final.CompletedAt)

	statuses := fx.dispatcher.statuses(child.ID)
	require.Len(t, statuses, 1, "no start event, so pending goes straight to failed")
	assert.Equal(t, event.SubagentFailed, statuses[0].Status)
	assert.Contains(t, statuses[0].Message, "model refused")

	waitIdle(t, fx.engine, parent.ID)
	calls := fx.factory.callsFor(parent.ID)
	require.Len(t, calls, 1)
	report := lastUserText(calls[0].Request)
	assert.Contains(t, report, "❌ failed")
	assert.Contains(t, report, "model refused")
}

func TestReportWithoutParentIsNoop(t *testing.T) {
	fx := subagentFixture(t)
	orphan, _ := fx.engine.CreateSession(CreateOptions{IsSubagent: true, Task: "alone"})
	before, _ := fx.engine.GetSession(orphan.ID)

	require.NoError(t, fx.engine.ReportSubagentResult(orphan.ID, SubagentReport{Status: session.StatusCompleted, Outcome: "x"}))

	after, _ := fx.engine.GetSession(orphan.ID)
	assert.Equal(t, before, after)
	for _, s := range fx.engine.GetAllSessions() {
		assert.Empty(t, s.Queue)
	}
}

func TestStartedStatusTruncatesTask(t *testing.T) {
	fx := subagentFixture(t)
	parent, _ := fx.engine.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u"})

	long := strings.Repeat("x", 200)
	child, err := fx.engine.SpawnSubagent(parent.ID, long, SpawnOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, child.ID)

	multi, err := fx.engine.SpawnSubagent(parent.ID, "Summarize the doc\nthen list risks", SpawnOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, multi.ID)

	started := fx.dispatcher.statuses(child.ID)[0]
	assert.Equal(t, event.SubagentStarted, started.Status)
	assert.LessOrEqual(t, len([]rune(started.Task)), 81)
	assert.True(t, strings.HasSuffix(started.Task, "…"))

	assert.Equal(t, "Summarize the doc", fx.dispatcher.statuses(multi.ID)[0].Task)
}

func TestLocalSubagentDispatchesNothing(t *testing.T) {
	fx := subagentFixture(t)
	parent, _ := fx.engine.CreateSession(CreateOptions{ChannelID: "terminal", ChannelUserID: "me"})
	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, child.ID)
	require.NoError(t, fx.engine.UpdateSubagentProgress(child.ID, "still going"))

	assert.Empty(t, fx.dispatcher.statuses(child.ID))

	bus, _ := fx.engine.Broadcaster(child.ID)
	var local []string
	for _, ev := range bus.History() {
		if st, ok := ev.(event.SubagentStatus); ok {
			local = append(local, st.Status)
		}
	}
	assert.Equal(t, []string{"started", "completed", "progress"}, local)
}

func TestUpdateSubagentProgress(t *testing.T) {
	fx := subagentFixture(t)
	top, _ := fx.engine.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u"})
	require.NoError(t, fx.engine.UpdateSubagentProgress(top.ID, "ignored"))
	snap, _ := fx.engine.GetSession(top.ID)
	assert.Empty(t, snap.Progress)
	assert.Empty(t, fx.dispatcher.all())

	child, _ := fx.engine.CreateSession(CreateOptions{
		ChannelID: "discord", ChannelUserID: "u", IsSubagent: true, ParentSessionID: top.ID, Task: "Crawl",
	})
	require.NoError(t, fx.engine.UpdateSubagentProgress(child.ID, "page 3 of 10"))
	snap, _ = fx.engine.GetSession(child.ID)
	assert.Equal(t, "page 3 of 10", snap.Progress)

	statuses := fx.dispatcher.statuses(child.ID)
	require.Len(t, statuses, 1)
	assert.Equal(t, event.SubagentStatus{SubagentID: child.ID, Task: "Crawl", Status: "progress", Message: "page 3 of 10"}, statuses[0])
}

func TestSubagentStatusNeverRegresses(t *testing.T) {
	fx := subagentFixture(t)
	parent, _ := fx.engine.CreateSession(CreateOptions{})
	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, child.ID)

	_, err = fx.engine.EnqueueMessage(child.ID, "one more thing", EnqueueOptions{})
	require.NoError(t, err)
	final := waitIdle(t, fx.engine, child.ID)
	assert.Equal(t, session.StatusCompleted, final.SubagentStatus)

	waitIdle(t, fx.engine, parent.ID)
	assert.Len(t, fx.factory.callsFor(parent.ID), 1, "second job does not report again")
}

func TestTerminalSubagentsAreEvicted(t *testing.T) {
	store := newMemStore()
	fx := subagentFixture(t, withStore(store), withConfig(func(c *Config) { c.SubagentRetention = 50 * time.Millisecond }))
	parent, _ := fx.engine.CreateSession(CreateOptions{})
	child, err := fx.engine.SpawnSubagent(parent.ID, "Count to 42", SpawnOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, child.ID)

	require.Eventually(t, func() bool {
		_, ok := fx.engine.GetSession(child.ID)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !store.has(child.ID) }, time.Second, 10*time.Millisecond)

	_, ok := fx.engine.GetSession(parent.ID)
	assert.True(t, ok, "top-level sessions are never evicted")
}

func TestComposeReport(t *testing.T) {
	failed := ComposeReport("subagent-1", SubagentReport{Task: "Fetch", Status: session.StatusFailed, Reason: "timeout"})
	assert.Contains(t, failed, "## Sub-agent report (subagent-1)")
	assert.Contains(t, failed, "❌ failed")
	assert.Contains(t, failed, "**Reason:** timeout")
	assert.NotContains(t, failed, "```json")
	assert.True(t, strings.HasSuffix(failed, "continue."))
}
