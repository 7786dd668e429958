// Package store defines the durable Version Store contract and the backend
// registry. Concrete backends (sqlite, postgres, mssql) register themselves
// from init() in their own packages; importing datalab/internal/store/all
// links every backend in.
//
// The store persists Dataset and DatasetVersion records across process
// restarts and upholds the engine's structural invariants: versions are
// append-only and immutable, creation order is preserved, and the active
// pointer always references a member version.
package store

import (
	"context"
	"fmt"
	"sync"

	"datalab/internal/lifecycle"
)

// Config selects and configures a backend.
//
// Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
// DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// Store is the backend-agnostic persistence contract.
//
// Implementations must make each mutating call atomic: a failed append or
// pointer move leaves no partial rows behind. They do NOT serialize callers;
// per-dataset mutual exclusion is layered on by Guard.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// Init creates tables as needed. Idempotent; called at startup.
	Init(ctx context.Context) error

	// InsertDataset persists a new dataset together with its initial
	// versions (at least the Raw root) in one atomic write.
	InsertDataset(ctx context.Context, d *lifecycle.Dataset) error

	// AppendVersion atomically appends an immutable version. It does not
	// change the active pointer.
	//
	// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrParentNotFound.
	AppendVersion(ctx context.Context, datasetID string, v *lifecycle.DatasetVersion) error

	// SetActiveVersion validates membership and moves the active pointer.
	//
	// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrVersionNotInDataset.
	SetActiveVersion(ctx context.Context, datasetID, versionID string) error

	// GetDataset loads a dataset with all versions in creation order,
	// including versions off the active lineage branch.
	//
	// Errors: lifecycle.ErrDatasetNotFound.
	GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error)

	// ListDatasets loads every dataset, versions included, ordered by
	// creation time.
	ListDatasets(ctx context.Context) ([]*lifecycle.Dataset, error)
}

// ---- backend factory registry ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register installs a backend factory under a kind. Call from an init()
// function in a backend package.
//
// Panics on empty kind, nil factory, or duplicate registration — failing
// fast beats ambiguous backend selection.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Store using the registered backend factory for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()

	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: kind must be set")
	}
	if !ok {
		return nil, fmt.Errorf("store: unsupported kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}
