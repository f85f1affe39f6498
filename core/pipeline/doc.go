// Package pipeline drives an already-running chain of stages to completion.
//
// A stage is one element of a linear pipeline: an external process, an
// in-process task, or an immediate result produced before the pipeline was
// handed over. Stages are connected by pipes upstream of this package; a
// Waiter takes ownership of the ordered chain and resolves it tail first.
//
// The tail stage is authoritative: its failure is always reported. Failures of
// the other stages are reported only when Policy.Pipefail is set and the stage
// does not ignore errors. At most one error is returned per pipeline.
//
// Each stage's error stream is forwarded line by line into the logger while
// the stage runs, and the forwarder is joined before the stage reports.
package pipeline
