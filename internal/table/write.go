package table

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"datalab/internal/abort"
	"datalab/internal/lifecycle"
)

// writeBatchRows is how many rows are written between abort checkpoints.
const writeBatchRows = 1024

// WriteArtifact materializes the frame as a CSV artifact at path, creating
// parent directories as needed. Returns the written size in bytes.
//
// The abort signal is polled between row batches. On abort (or ctx
// cancellation) the partial file is removed and lifecycle.ErrAborted is
// returned, so a cancelled operation never leaves an orphaned artifact.
func WriteArtifact(ctx context.Context, sig *abort.Signal, path string, f *Frame) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create artifact dir: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}

	discard := func() {
		_ = out.Close()
		_ = os.Remove(path)
	}

	w := csv.NewWriter(out)

	header := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		discard()
		return 0, fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(f.Columns))
	for i, row := range f.Rows {
		if i%writeBatchRows == 0 {
			if sig != nil && sig.Aborted() {
				discard()
				return 0, lifecycle.ErrAborted
			}
			if ctx.Err() != nil {
				discard()
				return 0, lifecycle.ErrAborted
			}
		}
		for c := range rec {
			rec[c] = CanonicalValue(row[c])
		}
		if err := w.Write(rec); err != nil {
			discard()
			return 0, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		discard()
		return 0, fmt.Errorf("flush artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("close artifact: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	return info.Size(), nil
}
