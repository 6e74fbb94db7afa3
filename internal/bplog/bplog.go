// Package bplog provides the structured logger shared by every component of
// the runtime host: one constructor, a handful of leveled methods, and
// cheap scoping via With.
package bplog

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger passed down through every component.
// It is a thin facade over *zap.SugaredLogger with simple Debugf/Infof/
// Warnf/Errorf call sites.
type Logger struct {
	s *zap.SugaredLogger
}

var (
	once sync.Once
	base *zap.Logger
)

// Options configure New.
type Options struct {
	Debug bool
	JSON  bool
}

// New builds a Logger. Only the first call configures the process-wide zap
// core; subsequent calls reuse it so every component shares one sink.
func New(opts Options) *Logger {
	once.Do(func() {
		level := zapcore.InfoLevel
		if opts.Debug {
			level = zapcore.DebugLevel
		}
		cfg := zap.NewProductionConfig()
		if !opts.JSON {
			cfg = zap.NewDevelopmentConfig()
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			// zap construction only fails on malformed config; fall back to a
			// minimal logger rather than let an ambient concern crash startup.
			l = zap.NewExample()
		}
		base = l
	})
	return &Logger{s: base.Sugar()}
}

// With returns a Logger annotated with the given key/value pairs, mirroring
// how the runtime host scopes log lines to a runtime/env/session id.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

// Logf emits an info-level line.
func (l *Logger) Logf(format string, args ...any) {
	l.s.Infof(format, args...)
}

// Debugf emits a debug-level line.
func (l *Logger) Debugf(format string, args ...any) {
	l.s.Debugf(format, args...)
}

// Warnf emits a warning-level line.
func (l *Logger) Warnf(format string, args ...any) {
	l.s.Warnf(format, args...)
}

// Errorf emits an error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	l.s.Errorf(format, args...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() {
	_ = l.s.Sync()
}

// LogrSink bridges this logger to the generic logr.Logger interface, for
// code written against logr rather than this concrete type. No package in
// this module calls it.
func (l *Logger) LogrSink() logr.Logger {
	return zapr.NewLogger(l.s.Desugar())
}

// Discard returns a Logger that writes nowhere, for tests.
func Discard() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// Default is a convenience constructor equivalent to New(Options{}) writing
// to stderr at info level, used by CLI commands with no explicit log
// configuration.
func Default() *Logger {
	return New(Options{JSON: false})
}
