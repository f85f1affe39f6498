package pipeline

import (
	"io"
	"os"
	"os/exec"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func pipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	return r, w
}

// startShell starts `/bin/sh -c script` reading stdin (nil for none). When
// pipeOut is set the read end of its stdout is returned, otherwise stdout is
// discarded. The stderr read end is always returned.
func startShell(t *testing.T, script string, stdin *os.File, pipeOut bool) (*exec.Cmd, *os.File, *os.File) {
	t.Helper()
	requireShell(t)

	cmd := exec.Command("/bin/sh", "-c", script)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var outR, outW *os.File
	if pipeOut {
		outR, outW = pipe(t)
		cmd.Stdout = outW
	}
	errR, errW := pipe(t)
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		t.Fatalf("start %q: %v", script, err)
	}
	for _, f := range []*os.File{stdin, outW, errW} {
		if f != nil {
			_ = f.Close()
		}
	}
	return cmd, outR, errR
}

func shellStage(t *testing.T, script string, stdin *os.File, pipeOut, ignore bool) (*Stage, *os.File) {
	t.Helper()
	cmd, out, errR := startShell(t, script, stdin, pipeOut)
	return NewProcessStage(StageConfig{Command: script, IgnoreError: ignore, Stderr: errR}, cmd), out
}

// startPipedTask runs fn as a task reading stdin and writing to a fresh pipe.
func startPipedTask(t *testing.T, stdin io.ReadCloser, fn func(in io.Reader, out io.Writer) error) (*Task, *os.File) {
	t.Helper()
	outR, outW := pipe(t)
	task := StartTask(func() error {
		defer outW.Close()
		if stdin != nil {
			defer stdin.Close()
		}
		return fn(stdin, outW)
	})
	return task, outR
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}
