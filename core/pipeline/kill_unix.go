//go:build unix

package pipeline

import (
	"os"

	"golang.org/x/sys/unix"
)

// processAlive checks pid with signal 0. The pid cannot be recycled while the
// child is unreaped, so the check is safe until Wait runs.
func processAlive(p *os.Process) bool {
	return unix.Kill(p.Pid, 0) == nil
}

func killProcess(p *os.Process) error {
	return unix.Kill(p.Pid, unix.SIGKILL)
}
