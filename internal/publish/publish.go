// Package publish materializes a published dataset version as either a view
// or a snapshot.
//
// A view is a lazy reference: the published version points at the source
// version's data and costs nothing to create, but later deletion of the
// underlying artifact breaks it. A snapshot is an independent byte copy with
// an integrity receipt, safe against upstream deletion at the cost of disk.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"datalab/internal/abort"
	"datalab/internal/lifecycle"
)

// Mode selects how the published data is materialized.
type Mode string

const (
	ModeView     Mode = "view"
	ModeSnapshot Mode = "snapshot"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeView, ModeSnapshot:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown publish mode %q (want view or snapshot)", s)
}

// Result is what a materialization produced.
type Result struct {
	// Location is the data location for the published version. For a view
	// it aliases the source version's location.
	Location lifecycle.DataLocation

	// Receipt is non-nil only for snapshots.
	Receipt *IntegrityReceipt
}

// copyChunk is the granularity of abort checks while copying snapshot bytes.
const copyChunk = 1 << 20

// Materialize produces the published data for one version.
//
// For ModeView the source location is returned as-is. For ModeSnapshot the
// source file is copied to destPath, hashed, and a receipt sidecar is
// written alongside; a partially written snapshot is removed on abort or
// error so no unreadable export is ever left behind.
func Materialize(ctx context.Context, sig *abort.Signal, mode Mode, src lifecycle.DataLocation, destPath, appName, appVersion string, export Export) (*Result, error) {
	switch mode {
	case ModeView:
		return &Result{Location: src}, nil
	case ModeSnapshot:
		if err := copySnapshot(ctx, sig, src.Path, destPath); err != nil {
			return nil, err
		}
		return Seal(destPath, appName, appVersion, export)
	}
	return nil, fmt.Errorf("unknown publish mode %q", mode)
}

// Seal hashes an already-written snapshot file and commits its receipt
// sidecar. Callers that produce the snapshot bytes themselves (re-writing a
// frame instead of copying an existing artifact) seal the result directly.
// The snapshot is removed on error so no receipt-less export survives.
func Seal(destPath, appName, appVersion string, export Export) (*Result, error) {
	info, err := os.Stat(destPath)
	if err != nil {
		return nil, err
	}
	export.FileSizeBytes = info.Size()
	receipt, err := CreateReceipt(destPath, appName, appVersion, export)
	if err != nil {
		_ = os.Remove(destPath)
		return nil, err
	}
	if err := SaveReceipt(destPath, receipt); err != nil {
		_ = os.Remove(destPath)
		return nil, err
	}
	return &Result{
		Location: lifecycle.DataLocation{Kind: lifecycle.LocationArtifact, Path: destPath},
		Receipt:  receipt,
	}, nil
}

func copySnapshot(ctx context.Context, sig *abort.Signal, srcPath, destPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}

	discard := func(cause error) error {
		_ = out.Close()
		_ = os.Remove(destPath)
		return cause
	}

	buf := make([]byte, copyChunk)
	for {
		if sig != nil && sig.Aborted() {
			return discard(lifecycle.ErrAborted)
		}
		if err := ctx.Err(); err != nil {
			return discard(err)
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return discard(werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return discard(rerr)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return nil
}
