package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"cmdpipe/config"
	"cmdpipe/core/pipeline"
	"cmdpipe/core/version"
	"cmdpipe/logging"
	"cmdpipe/metrics"
	"cmdpipe/registry"
	"cmdpipe/runner"
	"cmdpipe/spawn"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(run(os.Args[2:]))
	case "version":
		fmt.Println("cmdpipe", version.Version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cmdpipe: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

type runOptions struct {
	Config   config.Config
	Mode     runner.Mode
	File     string
	Commands []spawn.Command
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cmdpipe:", err)
		return 2
	}
	opts, err := parseRunArgs(args, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cmdpipe:", err)
		usage()
		return 2
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = opts.Config.LogLevel
	logCfg.Development = opts.Config.LogDevelopment
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cmdpipe:", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	r, err := runner.New(opts.Config, registry.WithBuiltins(), logger)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 2
	}
	r.Metrics = metrics.New(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := runner.Request{Commands: opts.Commands, Mode: opts.Mode, Stdin: os.Stdin, Stdout: os.Stdout}
	switch opts.Mode {
	case runner.ModeStream:
		err = r.Stream(ctx, req, func(rd io.Reader) { _, _ = io.Copy(os.Stdout, rd) })
	case runner.ModeOutput:
		var resp runner.Response
		resp, err = r.Run(ctx, req)
		if err == nil {
			fmt.Fprintln(os.Stdout, resp.Output)
		}
	default:
		_, err = r.Run(ctx, req)
	}
	return exitCode(err)
}

// parseRunArgs reads flags up to the first command word. Commands are split on
// standalone "|" tokens; a stage starting with "ignore" has IgnoreError set.
func parseRunArgs(args []string, cfg config.Config) (runOptions, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	pipefail := fs.Bool("pipefail", cfg.Pipefail, "fail the pipeline when any stage fails")
	debug := fs.Bool("debug", cfg.Debug, "log suppressed stage failures")
	mode := fs.StringP("mode", "m", string(runner.ModeStatus), "termination mode: status, output or stream")
	file := fs.StringP("file", "f", "", "read the pipeline from a YAML definition")
	if err := fs.Parse(args); err != nil {
		return runOptions{}, err
	}

	opts := runOptions{Config: cfg, Mode: runner.Mode(*mode), File: *file}
	if fs.Changed("pipefail") {
		opts.Config.Pipefail = *pipefail
	}
	if fs.Changed("debug") {
		opts.Config.Debug = *debug
	}
	switch opts.Mode {
	case runner.ModeStatus, runner.ModeOutput, runner.ModeStream:
	default:
		return runOptions{}, fmt.Errorf("unknown mode %q", *mode)
	}

	if opts.File != "" {
		if fs.NArg() > 0 {
			return runOptions{}, errors.New("commands and --file are mutually exclusive")
		}
		def, err := spawn.LoadDefinition(opts.File)
		if err != nil {
			return runOptions{}, err
		}
		if opts.Commands, err = def.Commands(); err != nil {
			return runOptions{}, err
		}
		return opts, nil
	}

	cmds, err := splitPipeline(fs.Args())
	if err != nil {
		return runOptions{}, err
	}
	opts.Commands = cmds
	return opts, nil
}

func splitPipeline(args []string) ([]spawn.Command, error) {
	if len(args) == 0 {
		return nil, errors.New("no command provided")
	}
	var (
		cmds    []spawn.Command
		current spawn.Command
	)
	flush := func() error {
		if len(current.Args) == 0 {
			return fmt.Errorf("empty stage at position %d", len(cmds))
		}
		cmds = append(cmds, current)
		current = spawn.Command{}
		return nil
	}
	for _, arg := range args {
		switch {
		case arg == "|":
			if err := flush(); err != nil {
				return nil, err
			}
		case arg == "ignore" && len(current.Args) == 0 && !current.IgnoreError:
			current.IgnoreError = true
		default:
			current.Args = append(current.Args, arg)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return cmds, nil
}

// exitCode mirrors the failing stage's status where there is one.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *pipeline.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitStatus(); code > 0 {
			return code
		}
	}
	return 1
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cmdpipe run [--pipefail] [--debug] [--mode status|output|stream] [-f file] -- <command> [args...] ['|' <command> [args...]]...")
	fmt.Fprintln(os.Stderr, "       cmdpipe version")
	fmt.Fprintln(os.Stderr, usageBuiltins(registry.WithBuiltins()))
}

func usageBuiltins(reg *registry.Registry) string {
	return "in-process commands: " + strings.Join(reg.Names(), ", ")
}
