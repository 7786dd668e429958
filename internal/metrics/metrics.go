// Package metrics is a minimal metrics facade for the lifecycle engine.
//
// The engine records counters and duration histograms through package-level
// helpers; an optional Backend (e.g. internal/metrics/datadog) buffers and
// ships them. With no backend configured every call is a no-op, so core code
// depends only on this package and never on a vendor SDK.
package metrics

import (
	"sync"
	"time"
)

// Labels are free-form metric dimensions (e.g. {"op": "apply_transforms"}).
type Labels map[string]string

// Backend receives metric observations and ships them somewhere.
//
// Implementations must be safe for concurrent use; the engine calls
// IncCounter/ObserveHistogram from whatever goroutine runs the operation.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs the process-wide backend. Passing nil reverts to no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a named counter.
func IncCounter(name string, delta float64, labels Labels) {
	if b := current(); b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveDuration records an operation duration in seconds.
func ObserveDuration(name string, d time.Duration, labels Labels) {
	if b := current(); b != nil {
		b.ObserveHistogram(name, d.Seconds(), labels)
	}
}

// Flush pushes any buffered metrics through the configured backend.
func Flush() error {
	if b := current(); b != nil {
		return b.Flush()
	}
	return nil
}

// Metric names emitted by the engine. Kept here so backends can map them to
// vendor-side series without string drift.
const (
	OpTotal           = "lifecycle_op_total"
	OpDurationSeconds = "lifecycle_op_duration_seconds"
	RowsTotal         = "lifecycle_rows_total"
)
