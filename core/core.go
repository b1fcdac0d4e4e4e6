package core

import "github.com/hupe1980/flowmesh/logging"

// loggerAdapter is embedded by ExecutionContext. Nodes and tools log through
// the run they belong to, so a nil logger is replaced by logging.NoOpLogger.
type loggerAdapter struct {
	logger logging.Logger
}

func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	if l == nil {
		return &loggerAdapter{logger: logging.NoOpLogger{}}
	}
	return &loggerAdapter{logger: l}
}

// Logger returns the logger the run was created with.
func (a *loggerAdapter) Logger() logging.Logger { return a.logger }

// LogDebug logs msg at debug level.
func (a *loggerAdapter) LogDebug(msg string, kv ...any) { a.logger.Debug(msg, kv...) }

// LogInfo logs msg at info level.
func (a *loggerAdapter) LogInfo(msg string, kv ...any) { a.logger.Info(msg, kv...) }

// LogWarn logs msg at warn level.
func (a *loggerAdapter) LogWarn(msg string, kv ...any) { a.logger.Warn(msg, kv...) }

// LogError logs msg at error level.
func (a *loggerAdapter) LogError(msg string, kv ...any) { a.logger.Error(msg, kv...) }
