package pipeline

import (
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cmdpipe/metrics"
)

// Options configures a Waiter.
type Options struct {
	Policy  Policy
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Waiter owns an ordered chain of stages, head first, and resolves it tail
// first. Each Waiter serves exactly one of WaitStatus, WaitOutput or
// WaitStream.
type Waiter struct {
	id      string
	command string
	stages  []*Stage
	env     waitEnv
	used    atomic.Bool
}

// NewWaiter takes ownership of stages and starts their diagnostic forwarders.
func NewWaiter(stages []*Stage, opts Options) (*Waiter, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyPipeline
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.command
	}
	w := &Waiter{
		id:      id,
		command: strings.Join(names, " | "),
		stages:  append([]*Stage(nil), stages...),
		env: waitEnv{
			policy:  opts.Policy,
			log:     log.With(zap.String("pipeline", id)),
			metrics: opts.Metrics,
		},
	}
	for _, s := range w.stages {
		s.startForwarder(w.env)
	}
	return w, nil
}

// ID is the correlation id attached to every log entry of this pipeline.
func (w *Waiter) ID() string { return w.id }

// Command is the full pipeline text, stages joined by " | ".
func (w *Waiter) Command() string { return w.command }

// WaitStatus waits for every stage and returns the first unsuppressed failure,
// tail first. Remaining stages are drained even after a failure so no
// forwarder leaks and no stage is left blocked on a pipe.
func (w *Waiter) WaitStatus() error {
	if err := w.begin(); err != nil {
		return err
	}
	err := w.popTail().terminate(true, w.env)
	if rest := w.drain(); err == nil {
		err = rest
	}
	return w.finish("status", err)
}

// WaitOutput collects the tail's output and waits for the rest. On success the
// output is decoded as text with one trailing newline removed.
func (w *Waiter) WaitOutput() (string, error) {
	if err := w.begin(); err != nil {
		return "", err
	}
	out, err := w.popTail().collectOutput(w.env)
	rest := w.drain()
	if err == nil {
		err = rest
	}
	if err != nil {
		return "", w.finish("output", err)
	}
	return decodeOutput(out), w.finish("output", nil)
}

// WaitStream passes the tail's output to fn exactly once. When fn returns the
// tail is stopped if still running and the other stages are drained. No
// pipeline status is reported; the returned error only signals misuse.
func (w *Waiter) WaitStream(fn func(io.Reader)) error {
	if err := w.begin(); err != nil {
		return err
	}
	if err := w.popTail().stream(fn, w.env); err != nil {
		return err
	}
	_ = w.drain()
	w.env.metrics.PipelineDone("stream", nil)
	return nil
}

func (w *Waiter) begin() error {
	if !w.used.CompareAndSwap(false, true) {
		return ErrWaiterConsumed
	}
	return nil
}

func (w *Waiter) popTail() *Stage {
	last := len(w.stages) - 1
	s := w.stages[last]
	w.stages[last] = nil
	w.stages = w.stages[:last]
	return s
}

// drain terminates the remaining stages head-ward and keeps the first failure.
func (w *Waiter) drain() error {
	var first error
	for len(w.stages) > 0 {
		if err := w.popTail().terminate(false, w.env); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (w *Waiter) finish(mode string, err error) error {
	w.env.metrics.PipelineDone(mode, err)
	if err != nil {
		w.env.log.Error("running pipeline failed", zap.String("command", w.command), zap.Error(err))
	}
	return err
}

// decodeOutput decodes lossily and strips one trailing newline.
func decodeOutput(buf []byte) string {
	text := strings.ToValidUTF8(string(buf), "\uFFFD")
	return strings.TrimSuffix(text, "\n")
}
