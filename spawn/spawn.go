// Package spawn starts the stages of a pipeline and connects them with pipes.
//
// Each command becomes one live stage. A command whose name is registered in
// the registry runs in-process: at the head of the pipeline it runs to
// completion immediately, elsewhere it runs as a task reading its
// predecessor's output. Every other command is started as an external
// process. The resulting stages are handed to a pipeline.Waiter.
package spawn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"cmdpipe/core/pipeline"
	"cmdpipe/registry"
)

// Command is one pre-split stage of a pipeline.
type Command struct {
	Args        []string
	IgnoreError bool
	Dir         string
	// Env entries (KEY=value) are added to the inherited environment.
	Env []string
}

func (c Command) String() string { return strings.Join(c.Args, " ") }

// Options controls where the ends of the pipeline are connected.
type Options struct {
	// Stdin feeds the head stage. Nil means no input.
	Stdin io.Reader
	// Stdout receives the tail's output unless CaptureOutput is set.
	// Nil means os.Stdout.
	Stdout io.Writer
	// CaptureOutput pipes the tail's output into its stage, for
	// WaitOutput and WaitStream.
	CaptureOutput bool
}

// Spawner starts pipelines, resolving in-process commands via Registry.
type Spawner struct {
	Registry *registry.Registry
}

func New(reg *registry.Registry) *Spawner {
	return &Spawner{Registry: reg}
}

// Spawn starts every command, head first. On failure the stages started so
// far are killed and reaped before the error is returned.
func (s *Spawner) Spawn(ctx context.Context, cmds []Command, opts Options) ([]*pipeline.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, errors.New("no command provided")
	}
	for i, c := range cmds {
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("stage %d: no command provided", i)
		}
	}

	stages := make([]*pipeline.Stage, 0, len(cmds))
	var next io.ReadCloser
	for i, c := range cmds {
		first, last := i == 0, i == len(cmds)-1
		stage, out, err := s.start(ctx, c, next, first, last, opts)
		if err != nil {
			pipeline.Abort(stages)
			return nil, fmt.Errorf("spawn %s: %w", c, err)
		}
		stages = append(stages, stage)
		next = out
	}
	return stages, nil
}

// start takes ownership of in and returns the stage plus the read end that
// feeds the following stage, if any.
func (s *Spawner) start(ctx context.Context, c Command, in io.ReadCloser, first, last bool, opts Options) (*pipeline.Stage, io.ReadCloser, error) {
	fn, inProcess := s.Registry.Lookup(c.Args[0])
	switch {
	case inProcess && first:
		return startImmediate(c, fn, last, opts)
	case inProcess:
		return startTask(c, fn, in, last, opts)
	default:
		return startProcess(ctx, c, in, first, last, opts)
	}
}

func startProcess(ctx context.Context, c Command, in io.ReadCloser, first, last bool, opts Options) (*pipeline.Stage, io.ReadCloser, error) {
	st, err := openStreams(last, opts)
	if err != nil {
		closeQuietly(in)
		return nil, nil, err
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	switch {
	case in != nil:
		cmd.Stdin = in
	case first && opts.Stdin != nil:
		cmd.Stdin = opts.Stdin
	}
	cmd.Stdout = st.dest
	cmd.Stderr = st.errW

	if err := cmd.Start(); err != nil {
		st.closeAll()
		closeQuietly(in)
		return nil, nil, err
	}
	// The child holds its own copies of these descriptors now.
	st.closeWriters()
	if f, ok := in.(*os.File); ok {
		_ = f.Close()
	}

	own, next := st.split(last)
	stage := pipeline.NewProcessStage(pipeline.StageConfig{
		Command:     c.String(),
		IgnoreError: c.IgnoreError,
		Stdout:      own,
		Stderr:      st.errR,
	}, cmd)
	return stage, next, nil
}

func startTask(c Command, fn registry.Func, in io.ReadCloser, last bool, opts Options) (*pipeline.Stage, io.ReadCloser, error) {
	st, err := openStreams(last, opts)
	if err != nil {
		closeQuietly(in)
		return nil, nil, err
	}

	var stdin io.Reader
	if in != nil {
		stdin = in
	}
	env := registry.Env{Args: c.Args, Stdin: stdin, Stdout: st.dest, Stderr: st.errW}
	task := pipeline.StartTask(func() error {
		// Closing our ends is how the neighbours learn we are done.
		defer st.closeWriters()
		defer closeQuietly(in)
		return fn(env)
	})

	own, next := st.split(last)
	stage := pipeline.NewTaskStage(pipeline.StageConfig{
		Command:     c.String(),
		IgnoreError: c.IgnoreError,
		Stdout:      own,
		Stderr:      st.errR,
	}, task)
	return stage, next, nil
}

// startImmediate runs fn to completion before returning. A failure is a spawn
// failure unless the command ignores errors, in which case the stage carries
// it so the waiter can report it as suppressed.
func startImmediate(c Command, fn registry.Func, last bool, opts Options) (*pipeline.Stage, io.ReadCloser, error) {
	var out, diag bytes.Buffer
	var stdout io.Writer = &out
	if last && !opts.CaptureOutput {
		stdout = destination(opts)
	}
	err := fn(registry.Env{Args: c.Args, Stdin: opts.Stdin, Stdout: stdout, Stderr: &diag})
	if err != nil && !c.IgnoreError {
		return nil, nil, err
	}

	cfg := pipeline.StageConfig{
		Command:     c.String(),
		IgnoreError: c.IgnoreError,
		Stderr:      io.NopCloser(&diag),
	}
	var next io.ReadCloser
	switch {
	case last && opts.CaptureOutput:
		cfg.Stdout = io.NopCloser(&out)
	case !last:
		next = io.NopCloser(bytes.NewReader(out.Bytes()))
	}
	return pipeline.NewImmediateStage(cfg, err), next, nil
}

// streams holds one stage's output and error pipes. outR/outW are nil when
// the stage writes straight to the pipeline destination.
type streams struct {
	outR, outW *os.File
	errR, errW *os.File
	dest       io.Writer
}

func openStreams(last bool, opts Options) (*streams, error) {
	st := &streams{}
	if last && !opts.CaptureOutput {
		st.dest = destination(opts)
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		st.outR, st.outW, st.dest = r, w, w
	}
	r, w, err := os.Pipe()
	if err != nil {
		st.closeAll()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	st.errR, st.errW = r, w
	return st, nil
}

// split says who owns the stdout read end: the stage itself when it is a
// collected tail, otherwise the next stage.
func (st *streams) split(last bool) (own, next io.ReadCloser) {
	if st.outR == nil {
		return nil, nil
	}
	if last {
		return st.outR, nil
	}
	return nil, st.outR
}

func (st *streams) closeWriters() {
	for _, f := range []*os.File{st.outW, st.errW} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func (st *streams) closeAll() {
	st.closeWriters()
	for _, f := range []*os.File{st.outR, st.errR} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func destination(opts Options) io.Writer {
	if opts.Stdout != nil {
		return opts.Stdout
	}
	return os.Stdout
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
