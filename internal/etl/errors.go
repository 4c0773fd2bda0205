package etl

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"hospitaletl/internal/config"
)

var (
	// ErrNoMappings fails Transform when the upload has no active mapping.
	ErrNoMappings = errors.New("no active field mappings")
	// ErrUnsupportedFileType fails Extract when no reader accepts the file.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrTooManyErrors aborts a stage whose failed rows exceed its budget.
	ErrTooManyErrors = errors.New("too many row errors")
	// ErrMissingInput fails a stage whose predecessor has not produced rows.
	ErrMissingInput = errors.New("stage input missing")
	// ErrCancelled stops a stage whose job was cancelled while it ran.
	ErrCancelled = errors.New("job cancelled")
)

const maxFrames = 10

// stackError records where a stage failure was raised.
type stackError struct {
	err    error
	frames []string
}

func (e *stackError) Error() string { return e.err.Error() }
func (e *stackError) Unwrap() error { return e.err }

// withStack attaches the caller's stack to err unless it carries one.
func withStack(err error) error {
	if err == nil {
		return nil
	}
	var se *stackError
	if errors.As(err, &se) {
		return err
	}
	return &stackError{err: err, frames: callers(3)}
}

// failf formats an error and attaches the caller's stack.
func failf(format string, args ...any) error {
	return &stackError{err: fmt.Errorf(format, args...), frames: callers(3)}
}

// panicError is a recovered panic.
type panicError struct {
	value  any
	frames []string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func recovered(v any) error {
	// Skip runtime.Callers, callers, recovered and the deferred closure.
	return &panicError{value: v, frames: callers(4)}
}

func callers(skip int) []string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
		if !more || len(out) == maxFrames {
			return out
		}
	}
}

// Details renders err as the error_details record of a failed job:
// error_class, error_message, backtrace, context and timestamp.
// error_class is the dynamic type of the innermost wrapped error, or
// "panic" for a recovered panic.
func Details(err error, fields map[string]any) config.Options {
	class := ""
	var frames []string
	var pe *panicError
	var se *stackError
	switch {
	case errors.As(err, &pe):
		class, frames = "panic", pe.frames
	case errors.As(err, &se):
		frames = se.frames
	}
	if class == "" {
		class = fmt.Sprintf("%T", innermost(err))
	}
	if frames == nil {
		frames = callers(3)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return config.Options{
		"error_class":   class,
		"error_message": err.Error(),
		"backtrace":     frames,
		"context":       fields,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// errSample keeps the first limit row messages and counts the rest.
type errSample struct {
	limit int
	count int
	first []string
}

func newErrSample(limit int) *errSample { return &errSample{limit: limit} }

func (a *errSample) add(format string, args ...any) {
	if a.count < a.limit {
		a.first = append(a.first, fmt.Sprintf(format, args...))
	}
	a.count++
}

func (a *errSample) list() []string {
	out := append([]string{}, a.first...)
	if extra := a.count - len(a.first); extra > 0 {
		out = append(out, fmt.Sprintf("... and %d more", extra))
	}
	return out
}

func (a *errSample) String() string { return strings.Join(a.list(), "; ") }
