// Package mlog is the wallet core's logging seam, adapted from the
// teacher's common/mlog + common/mzap packages: a small interface every
// component logs through, plus a zap-backed implementation and a no-op
// implementation for tests. Log *setup* (sinks, shipping, rotation) is an
// external collaborator's concern; this package only defines the contract
// and a reasonable default.
package mlog

import "go.uber.org/zap"

// Logger is the interface every wallet-core component logs through.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)

	Info(args ...any)
	Infof(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	// WithFields returns a child logger carrying the given key/value pairs
	// on every subsequent call. It never mutates the receiver.
	WithFields(fields ...any) Logger

	Sync() error
}

// NoneLogger discards everything. eventbus.New falls back to it when given
// a nil logger, and tests use it to silence output.
type NoneLogger struct{}

func (NoneLogger) Debug(args ...any)                 {}
func (NoneLogger) Debugf(format string, args ...any) {}
func (NoneLogger) Info(args ...any)                  {}
func (NoneLogger) Infof(format string, args ...any)  {}
func (NoneLogger) Warn(args ...any)                  {}
func (NoneLogger) Warnf(format string, args ...any)  {}
func (NoneLogger) Error(args ...any)                 {}
func (NoneLogger) Errorf(format string, args ...any) {}
func (l NoneLogger) WithFields(fields ...any) Logger { return l }
func (NoneLogger) Sync() error                       { return nil }

// ZapLogger adapts go.uber.org/zap's SugaredLogger to Logger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger from an explicit development or
// production configuration, mirroring the teacher's ENV_NAME-driven
// InitializeLogger but without the OpenTelemetry log-bridge wiring, which
// is out of this core's scope.
func NewZapLogger(production bool) (*ZapLogger, error) {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{s: base.Sugar()}, nil
}

func (l *ZapLogger) Debug(args ...any)                 { l.s.Debug(args...) }
func (l *ZapLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *ZapLogger) Info(args ...any)                  { l.s.Info(args...) }
func (l *ZapLogger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *ZapLogger) Warn(args ...any)                  { l.s.Warn(args...) }
func (l *ZapLogger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *ZapLogger) Error(args ...any)                 { l.s.Error(args...) }
func (l *ZapLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
func (l *ZapLogger) Sync() error                       { return l.s.Sync() }

func (l *ZapLogger) WithFields(fields ...any) Logger {
	return &ZapLogger{s: l.s.With(fields...)}
}
