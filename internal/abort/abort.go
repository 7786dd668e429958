// Package abort implements the process-wide cancellation coordinator shared
// by every long-running operation (pipeline execution, export, script runs).
//
// The signal is intentionally coarse: one flag for the whole process, not one
// token per operation. The engine assumes a single UI-driven caller that runs
// at most one long operation at a time; Guard enforces that assumption by
// rejecting a second long operation while one is in flight, so correctness
// never depends on the shared flag disambiguating operations.
//
// Long operations poll Aborted at safe checkpoints (between pipeline steps,
// between row batches during a copy) and unwind without committing anything.
// Quick operations (lookups, diffs) never consult the signal.
package abort

import (
	"errors"
	"sync/atomic"
)

// ErrBusy indicates a long-running operation is already in flight.
var ErrBusy = errors.New("another long-running operation is active")

// Signal is a single-slot cancellation token.
type Signal struct {
	aborted atomic.Bool
	active  atomic.Bool
}

// NewSignal returns a cleared signal.
func NewSignal() *Signal { return &Signal{} }

// Abort sets the flag. Every long operation polling the signal will exit
// with an aborted error at its next checkpoint.
func (s *Signal) Abort() { s.aborted.Store(true) }

// Reset clears the flag. Call after an aborted operation has fully unwound,
// before starting the next long operation.
func (s *Signal) Reset() { s.aborted.Store(false) }

// Aborted reports whether the flag is set.
func (s *Signal) Aborted() bool { return s.aborted.Load() }

// BeginLongOp marks the start of a long-running operation.
//
// Returns ErrBusy when another long operation is already active. On success
// the caller must invoke the returned release function when the operation
// finishes, normally via defer.
func (s *Signal) BeginLongOp() (release func(), err error) {
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { s.active.Store(false) }, nil
}
