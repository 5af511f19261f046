package testcase

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/framework/results"
)

// Failure means an assertion about the UUT did not hold.
type Failure struct {
	Reason string
	Err    error
}

func (e *Failure) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Failure) Unwrap() error { return e.Err }

// Skipped means the test's preconditions were not met.
type Skipped struct {
	Reason string
}

func (e *Skipped) Error() string { return "skipped: " + e.Reason }

// Error is an infrastructure or setup problem. It ends the test's loop.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Stop ends the test's loop and the rest of the run.
type Stop struct {
	Reason string
}

func (e *Stop) Error() string { return "stop test: " + e.Reason }

// PanicError is a recovered panic from a lifecycle hook or worker.
type PanicError struct {
	Hook  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Hook, e.Value)
}

// Fail returns a *Failure with a stack trace attached.
func Fail(format string, args ...interface{}) error {
	return errors.WithStack(&Failure{Reason: fmt.Sprintf(format, args...)})
}

// FailOn wraps err as a *Failure. It returns nil when err is nil.
func FailOn(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Failure{Reason: fmt.Sprintf(format, args...), Err: err})
}

// Skip returns a *Skipped.
func Skip(format string, args ...interface{}) error {
	return &Skipped{Reason: fmt.Sprintf(format, args...)}
}

// Errorf returns an *Error wrapping err, which may be nil.
func Errorf(err error, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Reason: fmt.Sprintf(format, args...), Err: err})
}

// StopTest returns a *Stop.
func StopTest(format string, args ...interface{}) error {
	return errors.WithStack(&Stop{Reason: fmt.Sprintf(format, args...)})
}

// Classify maps a hook error onto an outcome. Unclassified errors,
// including deadlines and panics, are Error outcomes.
func Classify(err error) results.Outcome {
	if err == nil {
		return results.Passed()
	}
	var (
		failure *Failure
		skipped *Skipped
		stop    *Stop
		setup   *Error
	)
	switch {
	case errors.As(err, &skipped):
		return results.Skipped(skipped.Reason)
	case errors.As(err, &failure):
		return results.Failed(failure.Error())
	case errors.As(err, &stop):
		return results.Errored(stop.Error())
	case errors.As(err, &setup):
		return results.Errored(setup.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return results.Errored("timed out: " + err.Error())
	default:
		return results.Errored(err.Error())
	}
}

// EndsLoop reports whether err stops the remaining iterations.
func EndsLoop(err error) bool {
	var (
		stop  *Stop
		setup *Error
	)
	return errors.As(err, &stop) || errors.As(err, &setup)
}

// IsStop reports whether err stops the whole run.
func IsStop(err error) bool {
	var stop *Stop
	return errors.As(err, &stop)
}

func recoverHook(hook string, errp *error) {
	if r := recover(); r != nil {
		*errp = &PanicError{Hook: hook, Value: r, Stack: debug.Stack()}
	}
}
