package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*FlowLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = buf
	return NewLogger(cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestFlowLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn", "k", "v")
	l.Error("error")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "v", lines[0]["k"])
	assert.Equal(t, "error", lines[1]["msg"])
}

func TestFlowLogger_WithRunAndComponent(t *testing.T) {
	base, buf := newBufferLogger(LogLevelDebug)
	l := base.WithComponent("executor").WithRun("e_1", "flow-a").WithContext("org", "o1")
	l.Info("node.run.start", "node_id", "n1")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "executor", lines[0]["component"])
	assert.Equal(t, "e_1", lines[0]["execution_id"])
	assert.Equal(t, "flow-a", lines[0]["flow_code"])
	assert.Equal(t, "o1", lines[0]["org"])
	assert.Equal(t, "n1", lines[0]["node_id"])

	// the base logger is untouched by With* clones
	base.Info("plain")
	lines = decodeLines(t, buf)
	_, has := lines[1]["component"]
	assert.False(t, has)
}

func TestFlowLogger_DomainHelpers(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	l.LogNodeExecution("n1", "llm", 2, time.Millisecond, false, errors.New("boom"))
	l.LogToolCall("weather", true, time.Millisecond, true, nil)
	l.LogFlowExecution("flow-a", "finished", 3, time.Millisecond, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "node.run.failed", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, float64(2), lines[0]["execute_num"])
	assert.Equal(t, "tool.execute.completed", lines[1]["msg"])
	assert.Equal(t, true, lines[1]["async"])
	assert.Equal(t, "flow.execute.finished", lines[2]["msg"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"warn", LogLevelWarn},
		{"error", LogLevelError},
		{"info", LogLevelInfo},
		{"nonsense", LogLevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNoOpLogger(_ *testing.T) {
	var l Logger = NoOpLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestSlogAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogAdapter(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Debug("cache.get", "key", "k1")
	l.Error("cache.get.failed", "key", "k2")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "cache.get", lines[0]["msg"])
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "k2", lines[1]["key"])
}
