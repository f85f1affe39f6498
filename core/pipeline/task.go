package pipeline

// Task is a joinable in-process computation backing a task stage.
type Task struct {
	done     chan struct{}
	err      error
	panicked bool
	cause    any
}

// TaskResult is what Join observed. Panicked distinguishes a task that
// aborted from one that returned Err.
type TaskResult struct {
	Err      error
	Panicked bool
	Cause    any
}

// StartTask runs fn on its own goroutine. A panic inside fn is captured and
// reported by Join instead of crashing the process.
func StartTask(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.panicked = true
				t.cause = r
			}
		}()
		t.err = fn()
	}()
	return t
}

// Join blocks until the task has finished.
func (t *Task) Join() TaskResult {
	<-t.done
	return TaskResult{Err: t.err, Panicked: t.panicked, Cause: t.cause}
}

