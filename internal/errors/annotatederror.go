// Package errors annotates errors with structured [slog.Attr] and the source location where they were created.
//
// It is a drop-in replacement for the standard library errors package. Use [SlogError] to log the annotations.
package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime"
)

type annotatedError struct {
	msg   string
	cause error
	attrs []slog.Attr
	// pc is a return address as reported by runtime.Callers.
	pc uintptr
}

func (e *annotatedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *annotatedError) Unwrap() error {
	return e.cause
}

// NewSentinel creates an error without source information meant to be declared as a package level variable and
// compared with [Is].
func NewSentinel(msg string) error {
	return stderrors.New(msg) //nolint:err113 // this is the sentinel constructor.
}

// New creates an error annotated with attrs and the caller's source location.
func New(msg string, attrs ...slog.Attr) error {
	return &annotatedError{
		msg:   msg,
		cause: nil,
		attrs: attrs,
		pc:    callerPC(),
	}
}

// Wrap wraps err with a message, annotations, and the caller's source location.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	return &annotatedError{
		msg:   msg,
		cause: err,
		attrs: attrs,
		pc:    callerPC(),
	}
}

// DecoratePanic converts a recovered panic value into an error pointing at the line that panicked.
//
// It must be called from the deferred function that recovered the panic.
func DecoratePanic(recovered any) error {
	if recovered == nil {
		return nil
	}
	err := &annotatedError{
		msg:   fmt.Sprintf("panic: %v", recovered),
		cause: nil,
		attrs: nil,
		pc:    panicPC(),
	}
	if cause, ok := recovered.(error); ok {
		err.msg = "panic"
		err.cause = cause
	}
	return err
}

// SlogError renders err as an "error" group containing the message, the annotations collected from the whole
// error chain, and the source location of the innermost annotated error.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{} //nolint:exhaustruct // empty attributes are ignored by slog handlers.
	}

	var (
		annotations []slog.Attr
		pc          uintptr
	)
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		ae, ok := e.(*annotatedError) //nolint:errorlint // walking the chain manually.
		if !ok {
			continue
		}
		annotations = append(annotations, ae.attrs...)
		if ae.pc != 0 {
			pc = ae.pc
		}
	}

	attrs := []slog.Attr{slog.String("message", err.Error())}
	if len(annotations) > 0 {
		attrs = append(attrs, slog.Attr{Key: "annotations", Value: slog.GroupValue(annotations...)})
	}
	if pc != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
		attrs = append(attrs, slog.String("source", fmt.Sprintf("%s:%d", frame.File, frame.Line)))
	}
	return slog.Attr{Key: "error", Value: slog.GroupValue(attrs...)}
}

// callerPC returns the return address into the function calling the exported constructor.
func callerPC() uintptr {
	var pcs [1]uintptr
	// Skip runtime.Callers, callerPC and the constructor.
	if runtime.Callers(3, pcs[:]) == 0 { //nolint:mnd // see above.
		return 0
	}
	return pcs[0]
}

// panicPC finds the frame that called panic by looking for the frame following runtime.gopanic.
func panicPC() uintptr {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	sawPanic := false
	for {
		frame, more := frames.Next()
		if sawPanic {
			// Frame.PC points at the call instruction, CallersFrames expects a return address.
			return frame.PC + 1
		}
		if frame.Function == "runtime.gopanic" {
			sawPanic = true
		}
		if !more {
			return 0
		}
	}
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
