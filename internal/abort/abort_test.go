package abort

import (
	"errors"
	"testing"
)

func TestSignal_AbortAndReset(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	if sig.Aborted() {
		t.Fatalf("fresh signal should not be aborted")
	}
	sig.Abort()
	if !sig.Aborted() {
		t.Fatalf("signal should read aborted after Abort")
	}
	sig.Reset()
	if sig.Aborted() {
		t.Fatalf("signal should be clear after Reset")
	}
}

func TestBeginLongOp_SingleFlight(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	release, err := sig.BeginLongOp()
	if err != nil {
		t.Fatalf("first BeginLongOp: %v", err)
	}

	if _, err := sig.BeginLongOp(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second BeginLongOp = %v, want ErrBusy", err)
	}

	release()
	release2, err := sig.BeginLongOp()
	if err != nil {
		t.Fatalf("BeginLongOp after release: %v", err)
	}
	release2()
}

func TestAbort_DoesNotBlockNextOpAfterReset(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	release, err := sig.BeginLongOp()
	if err != nil {
		t.Fatalf("BeginLongOp: %v", err)
	}
	sig.Abort()
	release()
	sig.Reset()

	release2, err := sig.BeginLongOp()
	if err != nil {
		t.Fatalf("BeginLongOp after aborted op: %v", err)
	}
	defer release2()
	if sig.Aborted() {
		t.Fatalf("signal should be clear for the next operation")
	}
}
