package pipeline

import (
	"bufio"
	"errors"
	"io"

	"go.uber.org/zap"

	"cmdpipe/metrics"
)

// maxLineBytes caps how much of one stderr line is held before it is logged.
const maxLineBytes = 64 << 10

// forwarder relays one stage's error stream into the logger.
type forwarder struct {
	command string
	done    chan struct{}
	cause   any
}

func startForwarder(command string, r io.ReadCloser, log *zap.Logger, m *metrics.Metrics) *forwarder {
	f := &forwarder{command: command, done: make(chan struct{})}
	go f.run(r, log, m)
	return f
}

func (f *forwarder) run(r io.ReadCloser, log *zap.Logger, m *metrics.Metrics) {
	defer close(f.done)
	defer func() {
		if p := recover(); p != nil {
			f.cause = p
		}
	}()
	defer r.Close()

	br := bufio.NewReaderSize(r, maxLineBytes)
	for {
		// Lines longer than the buffer arrive as several fragments.
		line, _, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("stderr read stopped", zap.String("command", f.command), zap.Error(err))
			}
			return
		}
		log.Info(string(line), zap.String("command", f.command))
		m.LineForwarded()
	}
}

// join waits for end of stream. An abnormal exit is logged, never returned.
func (f *forwarder) join(log *zap.Logger) {
	if f == nil {
		return
	}
	<-f.done
	if f.cause != nil {
		log.Warn("diagnostic forwarder failed", zap.Error(&ForwarderError{Command: f.command, Cause: f.cause}))
	}
}
