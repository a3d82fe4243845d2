package daemon

import (
	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
)

// EnqueueOptions carries the optional parts of an inbound message.
type EnqueueOptions struct {
	AuthorName  string
	Attachments []session.Attachment
	Metadata    session.JobMetadata
}

// EnqueueMessage appends a job to the session's queue and starts execution
// if the session is idle. It returns the job id.
func (e *Engine) EnqueueMessage(sessionID, text string, opts EnqueueOptions) (string, error) {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	job := session.Job{
		ID:          id.NewJobID(),
		Content:     session.BuildContent(text, opts.Attachments),
		AuthorName:  opts.AuthorName,
		Attachments: opts.Attachments,
		Metadata:    opts.Metadata,
		EnqueuedAt:  e.now(),
	}
	if err := e.enqueueJob(ls, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (e *Engine) enqueueJob(ls *liveSession, job session.Job) error {
	if e.shutdown.Load() {
		return ErrShuttingDown
	}
	ls.mu.Lock()
	ls.rec.Queue = append(ls.rec.Queue, job)
	ls.rec.UpdatedAt = e.now()
	start := !ls.rec.Processing
	if start {
		ls.rec.Processing = true
	}
	depth := len(ls.rec.Queue)
	ls.mu.Unlock()

	e.logger.Debug("Job %s queued for session %s (depth=%d, source=%s)", job.ID, ls.id(), depth, job.Metadata.Source)
	e.persist(ls)
	if start {
		e.startDrain(ls)
	}
	return nil
}

// startDrain launches the session's single consumer. The caller must have
// flipped Processing to true under ls.mu.
func (e *Engine) startDrain(ls *liveSession) {
	e.drains.Add(1)
	async.Go(e.logger, "daemon.drain."+ls.id(), func() {
		defer e.drains.Done()
		e.drain(ls)
	})
}

// drain executes jobs in FIFO order until the queue is empty. A job that
// panics is settled as failed and the queue keeps draining.
func (e *Engine) drain(ls *liveSession) {
	for {
		ls.mu.Lock()
		if len(ls.rec.Queue) == 0 || e.shutdown.Load() {
			ls.rec.Processing = false
			ls.mu.Unlock()
			e.persist(ls)
			return
		}
		job := ls.rec.Queue[0]
		ls.rec.Queue = ls.rec.Queue[1:]
		ls.mu.Unlock()

		owner := "daemon.job." + ls.id() + "." + job.ID
		var outcome jobOutcome
		if err := async.Run(e.logger, owner, func() { outcome = e.runJob(ls, job) }); err != nil {
			outcome = e.panickedJob(ls, err)
		}
		if err := async.Run(e.logger, owner+".finish", func() { e.afterJob(ls, job, outcome) }); err != nil {
			e.logger.Error("Finishing job %s for session %s failed: %v", job.ID, ls.id(), err)
		}
	}
}

// panickedJob ends a job whose execution panicked with an error event.
func (e *Engine) panickedJob(ls *liveSession, err error) jobOutcome {
	e.metrics.JobFinished("failed", 0)
	ls.bus.Publish(event.Error{Message: "internal error while processing message: " + err.Error()})
	return jobOutcome{Err: err}
}
