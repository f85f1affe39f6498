package pipeline

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

var (
	// ErrEmptyPipeline is returned when a Waiter is built without stages.
	ErrEmptyPipeline = errors.New("pipeline has no stages")
	// ErrStageConsumed is returned when a stage is terminated twice.
	ErrStageConsumed = errors.New("stage already consumed")
	// ErrWaiterConsumed is returned when a second entry point is called on a Waiter.
	ErrWaiterConsumed = errors.New("waiter already consumed")
)

// ExitError reports a process stage that exited unsuccessfully.
type ExitError struct {
	Command string
	// Code is the exit status, or -1 when the process was killed by a signal.
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

func (e *ExitError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("%s exited with error; terminated by signal: %s", e.Command, e.Signal)
	}
	return fmt.Sprintf("%s exited with error; status code: %d", e.Command, e.Code)
}

// ExitStatus folds the failure into a shell-style status: the exit code, or
// 128 plus the signal number.
func (e *ExitError) ExitStatus() int {
	if e.Signaled {
		return 128 + int(e.Signal)
	}
	return e.Code
}

// JoinError reports a task stage that panicked instead of returning.
type JoinError struct {
	Command string
	Cause   any
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s thread joined with error: %v", e.Command, e.Cause)
}

// IOError reports a pipe fault while collecting or waiting on a stage.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// ForwarderError describes a diagnostic forwarder that died abnormally. It is
// only ever logged.
type ForwarderError struct {
	Command string
	Cause   any
}

func (e *ForwarderError) Error() string {
	return fmt.Sprintf("%s logging thread exited with error: %v", e.Command, e.Cause)
}

// exitFailure translates the result of exec.Cmd.Wait.
func exitFailure(command string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &IOError{Op: "wait " + command, Err: err}
	}
	failure := &ExitError{Command: command, Code: exitErr.ExitCode()}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		failure.Code = -1
		failure.Signaled = true
		failure.Signal = status.Signal()
	}
	return failure
}

// isIOFailure reports whether err is an engine fault rather than a stage
// outcome. Those bypass the suppression rules.
func isIOFailure(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
