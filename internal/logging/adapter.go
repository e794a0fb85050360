package logging

import (
	"log/slog"
)

// Logger is the small level-based logging surface that storage and registry
// types accept. Anything with these four methods works, including *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter adapts an slog.Logger to the Logger interface and pins a
// component attribute on every record.
type SlogAdapter struct {
	logger    *slog.Logger
	component string
}

// NewSlogAdapter wraps logger. If logger is nil, slog.Default() is used.
// An empty component leaves records untagged.
func NewSlogAdapter(logger *slog.Logger, component string) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if component != "" {
		logger = logger.With(slog.String("component", component))
	}
	return &SlogAdapter{logger: logger, component: component}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

// Logger returns the underlying slog.Logger for direct access when needed.
func (a *SlogAdapter) Logger() *slog.Logger {
	return a.logger
}

// Component returns the component name this adapter tags records with.
func (a *SlogAdapter) Component() string {
	return a.component
}

// OrDefault returns l, or an adapter over slog.Default() when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return NewSlogAdapter(nil, "")
	}
	return l
}
