package runner

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"cmdpipe/config"
	"cmdpipe/core/pipeline"
	"cmdpipe/metrics"
	"cmdpipe/pool"
	"cmdpipe/registry"
	"cmdpipe/spawn"
)

// Mode selects how a pipeline is terminated.
type Mode string

const (
	ModeStatus Mode = "status"
	ModeOutput Mode = "output"
	ModeStream Mode = "stream"
)

// Request describes a single pipeline run.
type Request struct {
	Commands []spawn.Command
	// Mode defaults to ModeStatus. ModeStream is only accepted by Stream.
	Mode  Mode
	Stdin io.Reader
	// Stdout receives the tail's output in status mode.
	Stdout io.Writer
}

// Response carries the result of one pipeline.
type Response struct {
	PipelineID string
	Command    string
	// Output is the decoded tail output in output mode.
	Output string
	Err    error
}

// Runner spawns pipelines and waits for them under one configuration.
type Runner struct {
	Config  config.Config
	Spawner *spawn.Spawner
	Pool    *pool.Pool
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func New(cfg config.Config, reg *registry.Registry, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Config:  cfg,
		Spawner: spawn.New(reg),
		Pool:    pool.New(cfg.Concurrency),
		Logger:  logger,
	}, nil
}

// Run executes a request synchronously in status or output mode.
func (r *Runner) Run(ctx context.Context, req Request) (Response, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeStatus
	}
	if mode != ModeStatus && mode != ModeOutput {
		return Response{}, fmt.Errorf("mode %q not supported by Run", mode)
	}

	w, err := r.start(ctx, req, mode == ModeOutput)
	if err != nil {
		return Response{Err: err}, err
	}
	resp := Response{PipelineID: w.ID(), Command: w.Command()}
	if mode == ModeOutput {
		resp.Output, resp.Err = w.WaitOutput()
	} else {
		resp.Err = w.WaitStatus()
	}
	return resp, resp.Err
}

// Stream runs a request and hands the tail's output to fn. Like
// pipeline.Waiter.WaitStream it reports no pipeline status. The stream holds
// one pool slot until fn returns and the stages are reaped.
func (r *Runner) Stream(ctx context.Context, req Request, fn func(io.Reader)) error {
	release, err := r.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	w, err := r.start(ctx, req, true)
	if err != nil {
		return err
	}
	return w.WaitStream(fn)
}

// RunAll runs requests concurrently, bounded by the configured concurrency.
// Responses are returned in request order.
func (r *Runner) RunAll(ctx context.Context, reqs []Request) []Response {
	out := make([]Response, len(reqs))
	done := make([]<-chan error, len(reqs))
	for i, req := range reqs {
		i, req := i, req // per-iteration copies; go directive is 1.21
		done[i] = r.Pool.Go(ctx, func(ctx context.Context) error {
			resp, err := r.Run(ctx, req)
			out[i] = resp
			return err
		})
	}
	for i, ch := range done {
		if err := <-ch; err != nil && out[i].Err == nil {
			out[i].Err = err
		}
	}
	return out
}

func (r *Runner) start(ctx context.Context, req Request, capture bool) (*pipeline.Waiter, error) {
	stages, err := r.Spawner.Spawn(ctx, req.Commands, spawn.Options{
		Stdin:         req.Stdin,
		Stdout:        req.Stdout,
		CaptureOutput: capture,
	})
	if err != nil {
		r.Logger.Error("spawn failed", zap.Error(err))
		return nil, err
	}
	w, err := pipeline.NewWaiter(stages, pipeline.Options{
		Policy:  r.Config.Policy(),
		Logger:  r.Logger,
		Metrics: r.Metrics,
	})
	if err != nil {
		pipeline.Abort(stages)
		return nil, err
	}
	r.Logger.Debug("pipeline started", zap.String("pipeline", w.ID()), zap.String("command", w.Command()))
	return w, nil
}
