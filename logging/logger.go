package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is the configured verbosity.
type LogLevel int

// Levels, in increasing severity.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case level name.
func (l LogLevel) String() string {
	if l < LogLevelDebug || l > LogLevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// slogLevel returns the matching slog level.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLevel maps a config value (debug, info, warn, warning, error; any
// case) to a LogLevel. Unknown values give LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	}
	return LogLevelInfo
}

// Logger is what the runtime logs through. Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter lets a plain *slog.Logger serve as Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NoOpLogger drops everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" (default) or "text"
	Output    io.Writer
	AddSource bool
	// Component and CustomAttrs are attached to every record.
	Component   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig logs JSON at info level to stdout.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// FlowLogger is the runtime's structured logger. The With* methods return
// scoped copies; the receiver is never modified. Besides the Logger methods it
// has one helper per runtime event (node, tool call, model call, flow run) so
// those records share field names.
type FlowLogger struct {
	sl    *slog.Logger
	attrs []slog.Attr
}

// NewLogger builds a FlowLogger from cfg; nil means DefaultLoggerConfig.
func NewLogger(cfg *LoggerConfig) *FlowLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: cfg.Level.slogLevel(), AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewJSONHandler(out, ho)
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, ho)
	}

	l := &FlowLogger{sl: slog.New(h)}
	if cfg.Component != "" {
		l.attrs = append(l.attrs, slog.String("component", cfg.Component))
	}
	for k, v := range cfg.CustomAttrs {
		l.attrs = append(l.attrs, slog.Any(k, v))
	}
	return l
}

// NewSlogLogger is NewLogger for the common level/format/source triple.
func NewSlogLogger(level LogLevel, format string, addSource bool) *FlowLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.AddSource = addSource
	if format != "" {
		cfg.Format = format
	}
	return NewLogger(cfg)
}

// with returns a copy carrying add; an attr replaces an earlier one with the same key.
func (l *FlowLogger) with(add ...slog.Attr) *FlowLogger {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(add))
	for _, a := range l.attrs {
		replaced := false
		for _, b := range add {
			if a.Key == b.Key {
				replaced = true
				break
			}
		}
		if !replaced {
			attrs = append(attrs, a)
		}
	}
	return &FlowLogger{sl: l.sl, attrs: append(attrs, add...)}
}

// WithContext attaches key=value to every record.
func (l *FlowLogger) WithContext(key string, value any) *FlowLogger {
	return l.with(slog.Any(key, value))
}

// WithComponent names the emitting component (engine, executor, scheduler, ...).
func (l *FlowLogger) WithComponent(c string) *FlowLogger {
	return l.with(slog.String("component", c))
}

// WithRun scopes records to one execution of one flow.
func (l *FlowLogger) WithRun(executionID, flowCode string) *FlowLogger {
	return l.with(slog.String("execution_id", executionID), slog.String("flow_code", flowCode))
}

func (l *FlowLogger) emit(level slog.Level, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	all := make([]slog.Attr, 0, len(l.attrs)+len(attrs))
	all = append(all, l.attrs...)
	l.sl.LogAttrs(ctx, level, msg, append(all, attrs...)...)
}

func (l *FlowLogger) logKV(level slog.Level, msg string, args []any) {
	rec := slog.Record{}
	rec.Add(args...)
	attrs := make([]slog.Attr, 0, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	l.emit(level, msg, attrs...)
}

// Debug implements Logger.
func (l *FlowLogger) Debug(msg string, args ...any) { l.logKV(slog.LevelDebug, msg, args) }

// Info implements Logger.
func (l *FlowLogger) Info(msg string, args ...any) { l.logKV(slog.LevelInfo, msg, args) }

// Warn implements Logger.
func (l *FlowLogger) Warn(msg string, args ...any) { l.logKV(slog.LevelWarn, msg, args) }

// Error implements Logger.
func (l *FlowLogger) Error(msg string, args ...any) { l.logKV(slog.LevelError, msg, args) }

// outcome logs "<event>.completed" at info or "<event>.failed" at error.
func (l *FlowLogger) outcome(event string, success bool, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if success {
		l.emit(slog.LevelInfo, event+".completed", attrs...)
		return
	}
	l.emit(slog.LevelError, event+".failed", attrs...)
}

// LogNodeExecution records one node run.
func (l *FlowLogger) LogNodeExecution(nodeID, nodeType string, executeNum int, dur time.Duration, success bool, err error) {
	l.outcome("node.run", success, err,
		slog.String("node_id", nodeID),
		slog.String("node_type", nodeType),
		slog.Int("execute_num", executeNum),
		slog.Duration("duration", dur),
		slog.Bool("success", success),
	)
}

// LogToolCall records one flow-as-tool invocation.
func (l *FlowLogger) LogToolCall(tool string, async bool, dur time.Duration, success bool, err error) {
	l.outcome("tool.execute", success, err,
		slog.String("tool_name", tool),
		slog.Bool("async", async),
		slog.Duration("duration", dur),
		slog.Bool("success", success),
	)
}

// LogLLMCall records one LLM node model loop.
func (l *FlowLogger) LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error) {
	l.outcome("llm.call", success, err,
		slog.String("model", model),
		slog.Int("token_count", tokens),
		slog.Duration("duration", dur),
		slog.Bool("success", success),
	)
}

// LogFlowExecution records the end of a run as "flow.execute.<status>".
func (l *FlowLogger) LogFlowExecution(flowCode, status string, nodes int, dur time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("flow", flowCode),
		slog.String("status", status),
		slog.Int("node_count", nodes),
		slog.Duration("duration", dur),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.emit(level, "flow.execute."+status, attrs...)
}
