//go:build !unix

package pipeline

import "os"

func processAlive(p *os.Process) bool { return p != nil }

func killProcess(p *os.Process) error { return p.Kill() }
