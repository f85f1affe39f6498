package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// Env is what an in-process command sees: its argument vector, with the
// command name first, and its three streams.
type Env struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Func is an in-process command. A non-nil error is the command's failure
// status.
type Func func(env Env) error

// ErrFalse is the failure reported by the false builtin.
var ErrFalse = errors.New("false: exit status 1")

// Registry maps command names to in-process implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func New() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// WithBuiltins returns a registry holding echo, true, false and cat.
func WithBuiltins() *Registry {
	r := New()
	r.Register("echo", echo)
	r.Register("true", func(Env) error { return nil })
	r.Register("false", func(Env) error { return ErrFalse })
	r.Register("cat", cat)
	return r
}

// Register adds or replaces a command under a given name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func echo(env Env) error {
	args := env.Args[1:]
	newline := true
	if len(args) > 0 && args[0] == "-n" {
		newline = false
		args = args[1:]
	}
	text := strings.Join(args, " ")
	if newline {
		text += "\n"
	}
	_, err := io.WriteString(env.Stdout, text)
	return err
}

// cat copies each named file in order, or stdin when no file is named.
func cat(env Env) error {
	paths := env.Args[1:]
	if len(paths) == 0 {
		if env.Stdin == nil {
			return nil
		}
		_, err := io.Copy(env.Stdout, env.Stdin)
		return err
	}
	for _, path := range paths {
		if err := copyFile(env.Stdout, path); err != nil {
			return fmt.Errorf("cat: %w", err)
		}
	}
	return nil
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
