package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.lines = append(r.lines, "D:"+format) }
func (r *recordingLogger) Info(format string, args ...any)  { r.lines = append(r.lines, "I:"+format) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.lines = append(r.lines, "W:"+format) }
func (r *recordingLogger) Error(format string, args ...any) { r.lines = append(r.lines, "E:"+format) }

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	assert.True(t, IsNil(typed))
	assert.NotPanics(t, func() { OrNop(typed).Info("hello") })
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	var typed *recordingLogger

	logger := Multi(a, Multi(b, nil), typed)
	logger.Warn("careful")

	assert.Equal(t, []string{"W:careful"}, a.lines)
	assert.Equal(t, []string{"W:careful"}, b.lines)
	assert.Equal(t, Nop(), Multi(nil, typed))
}

func TestComponentLoggerWritesThroughConfiguredHandler(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	NewComponentLogger("Registry").Debug("created %s with key sk-abcdefghijklmnopqrstuv", "session-1")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"component":"Registry"`)
	assert.Contains(t, out, "created session-1")
	assert.NotContains(t, out, "mnopqrstuv")
}

func TestComponentLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	logger := NewComponentLogger("Queue")
	logger.Info("hidden")
	logger.Error("shown")

	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "***", SanitizeAPIKey("short"))
	assert.Equal(t, "sk-12345...wxyz", SanitizeAPIKey("sk-1234567890abcdwxyz"))
}
