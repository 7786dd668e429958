package store

import (
	"context"
	"fmt"
	"sync"

	"datalab/internal/lifecycle"
)

// Guarded wraps a Store with per-dataset mutual exclusion for mutating
// operations: at most one in-flight mutation per dataset id. Overlapping
// attempts are rejected with lifecycle.ErrDatasetBusy rather than queued, so
// a double-clicked "Begin Cleaning" surfaces as a visible busy condition and
// partial pipeline commits can never interleave.
//
// Reads pass through unguarded: committed versions are immutable and safe to
// read concurrently.
type Guarded struct {
	inner Store

	mu   sync.Mutex
	busy map[string]bool
}

// Guard wraps s with per-dataset serialization.
func Guard(s Store) *Guarded {
	return &Guarded{inner: s, busy: make(map[string]bool)}
}

// Acquire claims the mutation slot for a dataset, returning a release
// function. Exposed so the registry can hold the slot across a long
// operation (pipeline execution) rather than only across the final commit.
func (g *Guarded) Acquire(datasetID string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy[datasetID] {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetBusy)
	}
	g.busy[datasetID] = true
	return func() {
		g.mu.Lock()
		delete(g.busy, datasetID)
		g.mu.Unlock()
	}, nil
}

func (g *Guarded) Close()                         { g.inner.Close() }
func (g *Guarded) Init(ctx context.Context) error { return g.inner.Init(ctx) }

// InsertDataset needs no guard: the dataset id is fresh, so no concurrent
// mutation can address it yet.
func (g *Guarded) InsertDataset(ctx context.Context, d *lifecycle.Dataset) error {
	return g.inner.InsertDataset(ctx, d)
}

func (g *Guarded) AppendVersion(ctx context.Context, datasetID string, v *lifecycle.DatasetVersion) error {
	release, err := g.Acquire(datasetID)
	if err != nil {
		return err
	}
	defer release()
	return g.inner.AppendVersion(ctx, datasetID, v)
}

func (g *Guarded) SetActiveVersion(ctx context.Context, datasetID, versionID string) error {
	release, err := g.Acquire(datasetID)
	if err != nil {
		return err
	}
	defer release()
	return g.inner.SetActiveVersion(ctx, datasetID, versionID)
}

func (g *Guarded) GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	return g.inner.GetDataset(ctx, id)
}

func (g *Guarded) ListDatasets(ctx context.Context) ([]*lifecycle.Dataset, error) {
	return g.inner.ListDatasets(ctx)
}

// Unwrap returns the underlying store, for callers that have already
// acquired the dataset slot via Acquire and must avoid re-locking.
func (g *Guarded) Unwrap() Store { return g.inner }

var _ Store = (*Guarded)(nil)
