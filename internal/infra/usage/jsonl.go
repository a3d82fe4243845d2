// Package usage records every attempted generation to an append-only JSONL
// file without ever blocking the caller.
package usage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const defaultQueueSize = 256

var _ ports.UsageLogger = (*JSONLLogger)(nil)

// Observer sees each record after it is accepted; used for metrics.
type Observer func(ports.UsageRecord)

// JSONLLogger appends records from a single writer goroutine. When the
// queue is full the record is dropped and counted.
type JSONLLogger struct {
	path     string
	queue    chan ports.UsageRecord
	observer Observer
	logger   logging.Logger

	pending atomic.Int64
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option customizes a JSONLLogger.
type Option func(*JSONLLogger)

// WithObserver registers a record observer.
func WithObserver(fn Observer) Option {
	return func(l *JSONLLogger) { l.observer = fn }
}

// WithQueueSize overrides the buffered queue length.
func WithQueueSize(n int) Option {
	return func(l *JSONLLogger) {
		if n > 0 {
			l.queue = make(chan ports.UsageRecord, n)
		}
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(logger logging.Logger) Option {
	return func(l *JSONLLogger) { l.logger = logging.OrNop(logger) }
}

// NewJSONLLogger starts the writer goroutine for path.
func NewJSONLLogger(path string, opts ...Option) (*JSONLLogger, error) {
	if path == "" {
		return nil, fmt.Errorf("usage log path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure usage dir: %w", err)
	}
	l := &JSONLLogger{
		path:   path,
		queue:  make(chan ports.UsageRecord, defaultQueueSize),
		logger: logging.NewComponentLogger("usage"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	async.Go(l.logger, "usage.writer", l.run)
	return l, nil
}

// Log implements ports.UsageLogger.
func (l *JSONLLogger) Log(record ports.UsageRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	record.Messages = stripBinary(record.Messages)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if l.observer != nil {
		l.observer(record)
	}
	l.pending.Add(1)
	select {
	case l.queue <- record:
	default:
		l.pending.Add(-1)
		l.dropped.Add(1)
		l.logger.Warn("usage queue full, dropping record for %s", record.SessionID)
	}
}

// Dropped reports how many records were discarded.
func (l *JSONLLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Flush waits until queued records are written or timeout elapses.
func (l *JSONLLogger) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l.pending.Load() == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return l.pending.Load() == 0
}

// Close stops accepting records and waits for the writer to drain.
func (l *JSONLLogger) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *JSONLLogger) run() {
	defer close(l.done)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error("open usage log %s: %v", l.path, err)
	}
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	for record := range l.queue {
		if file != nil {
			if err := writeRecord(file, record); err != nil {
				l.logger.Warn("write usage record: %v", err)
			}
		}
		l.pending.Add(-1)
	}
}

func writeRecord(file *os.File, record ports.UsageRecord) error {
	line, err := jsonx.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = file.Write(line)
	return err
}

// stripBinary drops image bytes so the log stays text-sized; the part is
// kept with its mime type so the record still shows an image was sent.
func stripBinary(msgs []session.Message) []session.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]session.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		if !msg.Content.IsMultimodal() {
			continue
		}
		parts := make([]session.ContentPart, len(msg.Content.Parts))
		for j, part := range msg.Content.Parts {
			parts[j] = part
			parts[j].Image = nil
		}
		out[i].Content.Parts = parts
	}
	return out
}
