package execution_test

import (
	"io"

	"github.com/sirupsen/logrus"

	"taskengine/internal/utils"
)

// newTestLogger returns an ExtendedLogger that discards output, for tests
// that need a real collaborator rather than mocking every log call.
func newTestLogger() utils.ExtendedLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return testLogger{l}
}

type testLogger struct{ l *logrus.Logger }

func (t testLogger) Infof(format string, args ...interface{})  { t.l.Infof(format, args...) }
func (t testLogger) Errorf(format string, args ...interface{}) { t.l.Errorf(format, args...) }
func (t testLogger) Info(args ...interface{})                  { t.l.Info(args...) }
func (t testLogger) Error(args ...interface{})                 { t.l.Error(args...) }
func (t testLogger) Debug(args ...interface{})                 { t.l.Debug(args...) }
func (t testLogger) Debugf(format string, args ...interface{}) { t.l.Debugf(format, args...) }
func (t testLogger) Warn(args ...interface{})                  { t.l.Warn(args...) }
func (t testLogger) Warnf(format string, args ...interface{})  { t.l.Warnf(format, args...) }
func (t testLogger) Fatal(args ...interface{})                 { t.l.Error(args...) }
func (t testLogger) Fatalf(format string, args ...interface{}) { t.l.Errorf(format, args...) }

func (t testLogger) WithField(key string, value interface{}) *logrus.Entry {
	return t.l.WithField(key, value)
}
func (t testLogger) WithFields(fields logrus.Fields) *logrus.Entry { return t.l.WithFields(fields) }
func (t testLogger) WithError(err error) *logrus.Entry             { return t.l.WithError(err) }
