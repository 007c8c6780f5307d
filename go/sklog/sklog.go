// Package sklog is the logging package used by all VisionLens binaries. It
// is a thin shim over glog so the backend can be swapped without touching
// call sites. All messages report the file/line of the caller.
package sklog

import (
	"fmt"

	"github.com/golang/glog"
)

// callDepth skips the shim functions below so glog reports the real caller.
const callDepth = 1

// Debug logs at debug severity. Maps to glog verbosity level 2.
func Debug(args ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(callDepth, args...)
	}
}

// Debugf logs a formatted message at debug severity.
func Debugf(format string, args ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(callDepth, fmt.Sprintf(format, args...))
	}
}

// Info logs at info severity.
func Info(args ...interface{}) {
	glog.InfoDepth(callDepth, args...)
}

// Infof logs a formatted message at info severity.
func Infof(format string, args ...interface{}) {
	glog.InfoDepth(callDepth, fmt.Sprintf(format, args...))
}

// Warning logs at warning severity.
func Warning(args ...interface{}) {
	glog.WarningDepth(callDepth, args...)
}

// Warningf logs a formatted message at warning severity.
func Warningf(format string, args ...interface{}) {
	glog.WarningDepth(callDepth, fmt.Sprintf(format, args...))
}

// Error logs at error severity.
func Error(args ...interface{}) {
	glog.ErrorDepth(callDepth, args...)
}

// Errorf logs a formatted message at error severity.
func Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(callDepth, fmt.Sprintf(format, args...))
}

// Fatal logs then terminates the process. Pending log I/O is flushed first.
func Fatal(args ...interface{}) {
	glog.FatalDepth(callDepth, args...)
}

// Fatalf logs a formatted message then terminates the process.
func Fatalf(format string, args ...interface{}) {
	glog.FatalDepth(callDepth, fmt.Sprintf(format, args...))
}

// Flush writes any buffered log lines. Call before exiting.
func Flush() {
	glog.Flush()
}
