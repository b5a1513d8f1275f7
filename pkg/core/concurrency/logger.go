package concurrency

import (
	"go.uber.org/zap"
)

// Logger is the logging surface the pool needs.
// Declared here rather than imported from core to keep this package a leaf;
// core.Logger and *zap.SugaredLogger both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// newDefaultLogger returns zap's global sugared logger, which discards output
// until the process installs its own with zap.ReplaceGlobals.
func newDefaultLogger() Logger {
	return zap.S()
}
