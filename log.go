package dtlsproxy

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger used throughout dtlsproxy, in the
// same style as routedns's package-level Log: every component fetches
// it rather than taking a logger by constructor argument.
var Log = logrus.New()

// pionLoggerFactory adapts Log to pion/dtls's logging.LeveledLogger so
// handshake and record-layer diagnostics from the DTLS engine end up
// in the same structured log stream as the rest of the proxy instead
// of pion's default stdout logger.
type pionLoggerFactory struct {
	scope string
}

// NewLoggerFactory returns a logging.LoggerFactory that forwards all
// pion log output through Log.
func NewLoggerFactory(scope string) logging.LoggerFactory {
	return pionLoggerFactory{scope: scope}
}

func (f pionLoggerFactory) NewLogger(pkg string) logging.LeveledLogger {
	return pionLogger{entry: Log.WithFields(logrus.Fields{"component": f.scope, "pion": pkg})}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (l pionLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l pionLogger) Tracef(format string, args ...interface{})  { l.entry.Tracef(format, args...) }
func (l pionLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l pionLogger) Debugf(format string, args ...interface{})  { l.entry.Debugf(format, args...) }
func (l pionLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l pionLogger) Infof(format string, args ...interface{})   { l.entry.Infof(format, args...) }
func (l pionLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l pionLogger) Warnf(format string, args ...interface{})   { l.entry.Warnf(format, args...) }
func (l pionLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l pionLogger) Errorf(format string, args ...interface{})  { l.entry.Errorf(format, args...) }
