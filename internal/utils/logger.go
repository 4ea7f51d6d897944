// Package utils holds small cross-cutting types shared by every package in
// taskengine, starting with the logging interface every component accepts.
package utils

import "github.com/sirupsen/logrus"

// ExtendedLogger is the logging contract every engine component depends on.
// Concrete implementations (pkg/logger.Logger) wrap logrus; tests may supply
// a no-op or recording fake, which still returns *logrus.Entry from the
// WithField/WithFields/WithError methods.
type ExtendedLogger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Info(args ...interface{})
	Error(args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	WithError(err error) *logrus.Entry
}
