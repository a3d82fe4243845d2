package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	tokenutil "github.com/desduvauchelle/tamias-sub001/internal/shared/token"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// jobOutcome summarizes one executed job.
type jobOutcome struct {
	Success   bool
	Text      string
	Candidate string
	Err       error
}

// turn is the mutable state of one job's execution on one candidate.
type turn struct {
	ls        *liveSession
	job       session.Job
	candidate Candidate
	client    ports.ChatClient
	messages  []session.Message
	appended  []session.Message
	text      strings.Builder

	firstStream ports.ChatStream
	firstBegin  time.Time
}

// runJob walks the candidate chain for job. Construction and immediate call
// failures advance to the next candidate; once a candidate streams, its
// result is final.
func (e *Engine) runJob(ls *liveSession, job session.Job) jobOutcome {
	started := e.now()
	ctx := id.WithSessionID(e.baseCtx, ls.id())
	ctx, span := e.tracer.Start(ctx, "daemon.job", trace.WithAttributes(
		attribute.String("session.id", ls.id()),
		attribute.String("job.id", job.ID),
		attribute.String("job.source", job.Metadata.Source),
	))
	defer span.End()

	ls.mu.Lock()
	requested := ls.rec.Model
	history := append([]session.Message(nil), ls.rec.Messages...)
	ls.mu.Unlock()

	userMsg := session.Message{
		Role:      session.RoleUser,
		Content:   job.Content,
		Name:      job.AuthorName,
		Timestamp: job.EnqueuedAt,
	}
	messages := append(history, userMsg)

	chain := BuildCandidateChain(e.catalog, requested)
	chainErr := &ChainError{SessionID: ls.id()}
	for _, cand := range chain {
		t, err := e.openCandidate(ctx, ls, job, cand, messages)
		if err != nil {
			chainErr.Failures = append(chainErr.Failures, *err)
			e.metrics.CandidateFailed(string(err.Reason))
			e.logger.Warn("Candidate %s failed for session %s (%s): %v", cand.Ref, ls.id(), err.Reason, err.Err)
			continue
		}
		t.appended = append(t.appended, userMsg)
		outcome := e.streamTurn(ctx, t)
		span.SetAttributes(attribute.String("model.candidate", cand.Ref))
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
		}
		e.metrics.JobFinished(outcomeLabel(outcome), e.now().Sub(started))
		return outcome
	}

	span.RecordError(chainErr)
	span.SetStatus(codes.Error, "candidate chain exhausted")
	e.logger.Error("Job %s dropped for session %s: %v", job.ID, ls.id(), chainErr)
	ls.bus.Publish(event.Error{Message: chainErr.Error()})
	e.metrics.JobFinished("exhausted", e.now().Sub(started))
	return jobOutcome{Err: chainErr}
}

func outcomeLabel(o jobOutcome) string {
	if o.Success {
		return "completed"
	}
	return "failed"
}

// openCandidate constructs the client and begins the first streaming call.
// A nil failure means the candidate is committed and start has been
// emitted.
func (e *Engine) openCandidate(ctx context.Context, ls *liveSession, job session.Job, cand Candidate, messages []session.Message) (*turn, *CandidateFailure) {
	client, err := e.providers.NewClient(ctx, cand.Connection, cand.Model)
	if err != nil {
		e.logUsage(ls, cand, messages, "", nil, 0, err)
		return nil, &CandidateFailure{Candidate: cand, Reason: classifyConstruction(err), Err: err}
	}
	if client == nil {
		err := fmt.Errorf("provider factory returned no client")
		return nil, &CandidateFailure{Candidate: cand, Reason: ReasonConstruction, Err: err}
	}

	t := &turn{ls: ls, job: job, candidate: cand, client: client, messages: messages}
	begin := e.now()
	stream, err := client.Stream(ctx, e.chatRequest(t))
	if err != nil {
		e.logUsage(ls, cand, messages, "", nil, e.now().Sub(begin), err)
		return nil, &CandidateFailure{Candidate: cand, Reason: classifyCall(err), Err: err}
	}
	ls.bus.Publish(event.Start{SessionID: ls.id()})
	t.firstStream = stream
	t.firstBegin = begin
	return t, nil
}

func (e *Engine) chatRequest(t *turn) ports.ChatRequest {
	var defs []ports.ToolDefinition
	if tools := e.toolExecutor(); tools != nil {
		defs = tools.Definitions()
	}
	return ports.ChatRequest{
		Model:        t.candidate.Model,
		SystemPrompt: e.cfg.SystemPrompt,
		Messages:     t.messages,
		Tools:        defs,
	}
}

// streamTurn consumes the committed stream and runs the tool loop on the
// same candidate.
func (e *Engine) streamTurn(ctx context.Context, t *turn) jobOutcome {
	stream, begin := t.firstStream, t.firstBegin
	for iteration := 1; ; iteration++ {
		text, calls, usage, err := e.consume(t, stream)
		_ = stream.Close()
		e.logUsage(t.ls, t.candidate, t.messages, text, usage, e.now().Sub(begin), err)
		if err != nil {
			return e.failTurn(t, fmt.Errorf("stream from %s: %w", t.candidate.Ref, err))
		}

		assistant := session.Message{
			Role:      session.RoleAssistant,
			Content:   session.TextContent(text),
			ToolCalls: calls,
			Timestamp: e.now(),
		}
		t.messages = append(t.messages, assistant)
		t.appended = append(t.appended, assistant)

		if len(calls) == 0 {
			break
		}
		e.runTools(ctx, t, calls)
		if iteration >= e.cfg.MaxToolIterations {
			e.logger.Warn("Session %s reached max tool iterations (%d)", t.ls.id(), e.cfg.MaxToolIterations)
			break
		}

		begin = e.now()
		stream, err = t.client.Stream(ctx, e.chatRequest(t))
		if err != nil {
			e.logUsage(t.ls, t.candidate, t.messages, "", nil, e.now().Sub(begin), err)
			return e.failTurn(t, fmt.Errorf("follow-up call to %s: %w", t.candidate.Ref, err))
		}
	}

	e.commitHistory(t)
	t.ls.bus.Publish(event.Done{SessionID: t.ls.id(), Suppressed: t.job.Metadata.Suppressed})
	return jobOutcome{Success: true, Text: t.text.String(), Candidate: t.candidate.Ref}
}

func (e *Engine) failTurn(t *turn, err error) jobOutcome {
	e.logger.Error("Job %s failed mid-stream for session %s: %v", t.job.ID, t.ls.id(), err)
	t.ls.bus.Publish(event.Error{Message: err.Error()})
	return jobOutcome{Text: t.text.String(), Candidate: t.candidate.Ref, Err: err}
}

// consume reads one streamed response, publishing text deltas as chunks.
func (e *Engine) consume(t *turn, stream ports.ChatStream) (string, []session.ToolCall, *ports.Usage, error) {
	var text strings.Builder
	var calls []session.ToolCall
	var usage *ports.Usage
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), calls, usage, nil
		}
		if err != nil {
			return text.String(), calls, usage, err
		}
		if delta.Text != "" {
			text.WriteString(delta.Text)
			t.text.WriteString(delta.Text)
			t.ls.bus.Publish(event.Chunk{Text: delta.Text})
		}
		calls = append(calls, delta.ToolCalls...)
		if delta.Usage != nil {
			usage = delta.Usage
		}
	}
}

// runTools executes each call. Tool errors become tool results the model
// can see.
func (e *Engine) runTools(ctx context.Context, t *turn, calls []session.ToolCall) {
	tools := e.toolExecutor()
	for _, call := range calls {
		if call.ID == "" {
			call.ID = id.NewCallID()
		}
		t.ls.bus.Publish(event.ToolCall{Name: call.Name, Input: call.Arguments})

		var result ports.ToolResult
		var err error
		if tools == nil {
			err = fmt.Errorf("no tools are available")
		} else {
			result, err = tools.Execute(ctx, call)
		}
		if err != nil {
			e.logger.Warn("Tool %s failed in session %s: %v", call.Name, t.ls.id(), err)
			result = ports.ToolResult{Content: "Error: " + err.Error()}
		}
		if result.File != nil {
			t.ls.bus.Publish(event.File{Name: result.File.Name, Bytes: result.File.Bytes, MimeType: result.File.MimeType})
			if result.Content == "" {
				result.Content = fmt.Sprintf("File %s (%s, %d bytes) delivered to the user.", result.File.Name, result.File.MimeType, len(result.File.Bytes))
			}
		}
		t.ls.bus.Publish(event.ToolResult{Name: call.Name, Result: result.Content})

		toolMsg := session.Message{
			Role:       session.RoleTool,
			Content:    session.TextContent(result.Content),
			Name:       call.Name,
			ToolCallID: call.ID,
			Timestamp:  e.now(),
		}
		t.messages = append(t.messages, toolMsg)
		t.appended = append(t.appended, toolMsg)
	}
}

// commitHistory appends the turn's messages and trims to the history limit.
func (e *Engine) commitHistory(t *turn) {
	t.ls.mu.Lock()
	t.ls.rec.Messages = append(t.ls.rec.Messages, t.appended...)
	if over := len(t.ls.rec.Messages) - e.cfg.HistoryLimit; over > 0 {
		t.ls.rec.Messages = append([]session.Message(nil), t.ls.rec.Messages[over:]...)
	}
	t.ls.rec.UpdatedAt = e.now()
	t.ls.mu.Unlock()
	e.persist(t.ls)
}

// logUsage records one attempt. Token counts are estimated when the
// provider reports none.
func (e *Engine) logUsage(ls *liveSession, cand Candidate, messages []session.Message, response string, usage *ports.Usage, duration time.Duration, err error) {
	if e.usage == nil {
		return
	}
	rec := ports.UsageRecord{
		Timestamp:  e.now(),
		SessionID:  ls.id(),
		Model:      cand.Model,
		Provider:   cand.Connection.Provider,
		Connection: cand.ConnectionID,
		Action:     "chat",
		DurationMS: duration.Milliseconds(),
		Success:    err == nil,
		Messages:   messages,
		Response:   response,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if usage != nil {
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
	} else {
		rec.Estimated = true
		rec.PromptTokens = estimatePromptTokens(messages)
		rec.CompletionTokens = tokenutil.CountTokens(response)
	}
	e.usage.Log(rec)
}

func estimatePromptTokens(messages []session.Message) int {
	total := 0
	for _, msg := range messages {
		total += tokenutil.CountTokens(msg.Content.PlainText())
	}
	return total
}
