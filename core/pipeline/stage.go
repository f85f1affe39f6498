package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cmdpipe/metrics"
)

// Kind tags how a stage terminates.
type Kind int

const (
	// KindProcess is an OS process, waited on for its exit status.
	KindProcess Kind = iota
	// KindTask is an in-process goroutine, joined for its returned error.
	KindTask
	// KindImmediate is a result computed before the stage was built.
	KindImmediate
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindTask:
		return "task"
	case KindImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Policy is the process-wide failure policy. The engine only reads it.
type Policy struct {
	// Pipefail makes failures of non-tail stages fatal.
	Pipefail bool
	// Debug logs failures that were suppressed.
	Debug bool
}

// StageConfig carries the handles shared by every stage kind. Each handle is
// owned by the stage from construction on.
type StageConfig struct {
	// Command is the display text used in errors and logs.
	Command     string
	IgnoreError bool
	// Stdin is a write end feeding the stage that the caller still holds.
	// It is closed before output is collected.
	Stdin io.Closer
	// Stdout is set only on a tail stage whose output is collected or streamed.
	Stdout io.ReadCloser
	// Stderr is drained by the stage's forwarder.
	Stderr io.ReadCloser
}

// Stage is one running element of a pipeline. It is consumed exactly once by
// a Waiter.
type Stage struct {
	command     string
	ignoreError bool
	stdin       io.Closer
	stdout      io.ReadCloser
	stderr      io.ReadCloser

	kind   Kind
	proc   *exec.Cmd
	task   *Task
	status error

	fwd      *forwarder
	consumed atomic.Bool
}

// NewProcessStage wraps a started command. The command's stdio must not use
// pipes created by exec (StdoutPipe and friends), since Wait would close them.
func NewProcessStage(cfg StageConfig, cmd *exec.Cmd) *Stage {
	s := newStage(cfg, KindProcess)
	s.proc = cmd
	return s
}

// NewTaskStage wraps a running task.
func NewTaskStage(cfg StageConfig, task *Task) *Stage {
	s := newStage(cfg, KindTask)
	s.task = task
	return s
}

// NewImmediateStage wraps a result that was already produced. It has nothing
// to wait for; status is the error the command returned, if any, and goes
// through the same suppression rule as any other stage failure.
func NewImmediateStage(cfg StageConfig, status error) *Stage {
	s := newStage(cfg, KindImmediate)
	s.status = status
	return s
}

func newStage(cfg StageConfig, kind Kind) *Stage {
	return &Stage{
		command:     cfg.Command,
		ignoreError: cfg.IgnoreError,
		stdin:       cfg.Stdin,
		stdout:      cfg.Stdout,
		stderr:      cfg.Stderr,
		kind:        kind,
	}
}

func (s *Stage) Command() string { return s.command }
func (s *Stage) Kind() Kind      { return s.kind }

// waitEnv is what a stage needs from its Waiter to terminate.
type waitEnv struct {
	policy  Policy
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (s *Stage) startForwarder(env waitEnv) {
	if s.fwd != nil || s.stderr == nil {
		return
	}
	s.fwd = startForwarder(s.command, s.stderr, env.log, env.metrics)
	s.stderr = nil
}

func (s *Stage) consume() error {
	if !s.consumed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", s.command, ErrStageConsumed)
	}
	return nil
}

// terminate waits for the stage and applies the suppression rule. A failure is
// surfaced only when the stage does not ignore errors and it is the tail or
// pipefail is on.
func (s *Stage) terminate(isLast bool, env waitEnv) error {
	if err := s.consume(); err != nil {
		return err
	}
	s.startForwarder(env)
	s.closeStdin()
	if s.stdout != nil {
		// Nobody downstream will read this; keep the stage from blocking on it.
		_, _ = io.Copy(io.Discard, s.stdout)
		_ = s.stdout.Close()
		s.stdout = nil
	}
	failure := s.wait(env)
	return s.settle(failure, isLast || env.policy.Pipefail, env)
}

// collectOutput drains the tail's output before waiting on it. Waiting first
// would deadlock a stage that writes more than the pipe buffer holds.
func (s *Stage) collectOutput(env waitEnv) ([]byte, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.startForwarder(env)
	s.closeStdin()

	var (
		buf     bytes.Buffer
		readErr error
	)
	if s.stdout != nil {
		if _, err := buf.ReadFrom(s.stdout); err != nil {
			readErr = &IOError{Op: "read output of " + s.command, Err: err}
			s.kill()
		}
		_ = s.stdout.Close()
		s.stdout = nil
	}
	failure := s.wait(env)
	if readErr != nil {
		return nil, readErr
	}
	// Always the tail, so pipefail does not matter here.
	if err := s.settle(failure, true, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stream hands the tail's output to fn, then stops the stage if fn returned
// before reaching end of stream. The outcome is discarded.
func (s *Stage) stream(fn func(io.Reader), env waitEnv) error {
	if err := s.consume(); err != nil {
		return err
	}
	s.startForwarder(env)
	s.closeStdin()
	if s.stdout != nil {
		fn(s.stdout)
		_ = s.stdout.Close()
		s.stdout = nil
	}
	s.kill()
	failure := s.wait(env)
	if failure != nil && env.policy.Debug {
		env.log.Warn("streamed stage exited with error", zap.String("command", s.command), zap.Error(failure))
	}
	return nil
}

// wait blocks on the termination handle and joins the forwarder, in that
// order, whatever the outcome.
func (s *Stage) wait(env waitEnv) error {
	start := time.Now()
	var failure error
	switch s.kind {
	case KindProcess:
		failure = exitFailure(s.command, s.proc.Wait())
	case KindTask:
		res := s.task.Join()
		if res.Panicked {
			failure = &JoinError{Command: s.command, Cause: res.Cause}
		} else {
			failure = res.Err
		}
	case KindImmediate:
		failure = s.status
	}
	s.fwd.join(env.log)
	env.metrics.ObserveWait(s.kind.String(), time.Since(start))
	return failure
}

func (s *Stage) settle(failure error, fatal bool, env waitEnv) error {
	kind := s.kind.String()
	if failure == nil {
		env.metrics.StageResult(kind, metrics.OutcomeOK)
		return nil
	}
	surfaced := isIOFailure(failure) || (!s.ignoreError && fatal)
	outcome := metrics.OutcomeSuppressed
	if surfaced {
		outcome = metrics.OutcomeFailed
	}
	if _, ok := failure.(*JoinError); ok {
		outcome = metrics.OutcomeJoinFailed
	}
	env.metrics.StageResult(kind, outcome)
	if surfaced {
		return failure
	}
	if env.policy.Debug {
		env.log.Warn("stage exited with error", zap.String("command", s.command), zap.Error(failure))
	}
	return nil
}

func (s *Stage) closeStdin() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
}

// kill stops a process stage that is still running. Tasks cannot be stopped;
// closing their output is what ends them.
func (s *Stage) kill() {
	if s.kind != KindProcess || s.proc == nil || s.proc.Process == nil {
		return
	}
	if processAlive(s.proc.Process) {
		_ = killProcess(s.proc.Process)
	}
}

// Abort tears down stages that will never reach a Waiter: processes are
// killed and reaped, tasks joined, and every handle released. Collaborators
// use it when construction fails halfway.
func Abort(stages []*Stage) {
	for _, s := range stages {
		if s == nil || !s.consumed.CompareAndSwap(false, true) {
			continue
		}
		s.closeStdin()
		for _, c := range []io.Closer{s.stdout, s.stderr} {
			if c != nil {
				_ = c.Close()
			}
		}
		s.stdout, s.stderr = nil, nil
		s.kill()
		switch s.kind {
		case KindProcess:
			_ = s.proc.Wait()
		case KindTask:
			_ = s.task.Join()
		}
		s.fwd.join(zap.NewNop())
	}
}
