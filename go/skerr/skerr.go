// Package skerr provides errors that are annotated with the call stack of
// the point at which they were created or wrapped. The extra context makes
// server logs actionable without needing a debugger attached.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return skerr.Wrap(err)
//	}
//	return skerr.Wrapf(err, "loading dataset %s", id)
//	return skerr.Fmt("expected %d batches, got %d", want, got)
package skerr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is how many frames we record when an error is created. Deep
// enough to find the caller in a handler stack, small enough to keep logs
// readable.
const stackDepth = 6

// StackFrame identifies one call site.
type StackFrame struct {
	File string
	Line int
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

// ErrorWithContext wraps an underlying error with an optional message and
// the call stack of the wrap point.
type ErrorWithContext struct {
	// Wrapped is the underlying error, nil for errors created with Fmt.
	Wrapped error
	// Context is the extra message supplied via Wrapf or Fmt.
	Context string
	// CallStack has the innermost frame first.
	CallStack []StackFrame
}

// Error implements error.
func (e *ErrorWithContext) Error() string {
	var sb strings.Builder
	if e.Context != "" {
		sb.WriteString(e.Context)
	}
	if e.Wrapped != nil {
		if e.Context != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Wrapped.Error())
	}
	if len(e.CallStack) > 0 {
		sb.WriteString(" At ")
		for i, frame := range e.CallStack {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(frame.String())
		}
	}
	return sb.String()
}

// Unwrap supports errors.Is and errors.As.
func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

func callStack(skip int) []StackFrame {
	frames := make([]StackFrame, 0, stackDepth)
	for i := 0; i < stackDepth; i++ {
		_, file, line, ok := runtime.Caller(skip + i)
		if !ok {
			break
		}
		// Keep just the file name; full paths bloat every log line.
		if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
			file = file[idx+1:]
		}
		frames = append(frames, StackFrame{File: file, Line: line})
	}
	return frames
}

// Wrap adds the current call stack to err. Returns nil if err is nil, so
// it is safe as a tail call. Errors already carrying a stack are returned
// unchanged to avoid stuttering logs.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var alreadyWrapped *ErrorWithContext
	if errors.As(err, &alreadyWrapped) {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
	}
}

// Wrapf annotates err with a formatted message and the current call stack.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		Context:   fmt.Sprintf(format, args...),
		CallStack: callStack(2),
	}
}

// Fmt creates a new error with a formatted message and the current call
// stack.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Context:   fmt.Sprintf(format, args...),
		CallStack: callStack(2),
	}
}

// Unwrap returns the innermost non-skerr error, which is the original
// cause. Returns err itself if it carries no wrapped error.
func Unwrap(err error) error {
	for {
		withContext, ok := err.(*ErrorWithContext)
		if !ok || withContext.Wrapped == nil {
			return err
		}
		err = withContext.Wrapped
	}
}
