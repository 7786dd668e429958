// Package datalab is the library surface of the dataset lifecycle engine.
// Hosts embed it to ingest source files as versioned datasets, run transform
// pipelines through the stage gate, diff versions, and publish validated
// data. cmd/lifecycle is a thin CLI over the same surface.
package datalab

import (
	"context"

	"datalab/internal/abort"
	"datalab/internal/diff"
	"datalab/internal/lifecycle"
	"datalab/internal/publish"
	"datalab/internal/registry"
	"datalab/internal/stage"
	"datalab/internal/store"
	_ "datalab/internal/store/all"
	"datalab/internal/table"
)

// Core records.
type (
	Dataset         = lifecycle.Dataset
	DatasetVersion  = lifecycle.DatasetVersion
	VersionMetadata = lifecycle.VersionMetadata
	TransformSpec   = lifecycle.TransformSpec
	DataLocation    = lifecycle.DataLocation
	ColumnInfo      = lifecycle.ColumnInfo
	ColumnSummary   = lifecycle.ColumnSummary
	Frame           = table.Frame
)

// Stage gate.
type Stage = stage.Stage

const (
	StageRaw       = stage.Raw
	StageProfiled  = stage.Profiled
	StageCleaned   = stage.Cleaned
	StageAdvanced  = stage.Advanced
	StageValidated = stage.Validated
	StagePublished = stage.Published
)

// ParseStage resolves a stage from its name, case-insensitively.
func ParseStage(name string) (Stage, error) { return stage.Parse(name) }

// Orchestration.
type (
	Registry       = registry.Registry
	Options        = registry.Options
	ApplyOptions   = registry.ApplyOptions
	PublishOptions = registry.PublishOptions
	Signal         = abort.Signal
	StoreConfig    = store.Config
)

// Publishing.
type (
	PublishMode      = publish.Mode
	PublishResult    = publish.Result
	IntegrityReceipt = publish.IntegrityReceipt
)

const (
	PublishView     = publish.ModeView
	PublishSnapshot = publish.ModeSnapshot
)

// Diffing.
type DiffSummary = diff.Summary

// Error taxonomy. Match with errors.Is/errors.As.
var (
	ErrDatasetNotFound            = lifecycle.ErrDatasetNotFound
	ErrVersionNotFound            = lifecycle.ErrVersionNotFound
	ErrParentNotFound             = lifecycle.ErrParentNotFound
	ErrVersionNotInDataset        = lifecycle.ErrVersionNotInDataset
	ErrInvalidSource              = lifecycle.ErrInvalidSource
	ErrDatasetBusy                = lifecycle.ErrDatasetBusy
	ErrAborted                    = lifecycle.ErrAborted
	ErrEmptyParentData            = lifecycle.ErrEmptyParentData
	ErrNoParentVersion            = lifecycle.ErrNoParentVersion
	ErrNoCommonLineage            = lifecycle.ErrNoCommonLineage
	ErrUnsupportedStageForPublish = lifecycle.ErrUnsupportedStageForPublish
)

type (
	StageTransitionError = lifecycle.StageTransitionError
	TransformError       = lifecycle.TransformError
)

// IsBusy reports whether err is a busy rejection, from either the per-dataset
// mutation guard or the single-flight long-operation slot.
func IsBusy(err error) bool { return registry.IsBusy(err) }

// Engine bundles a registry with the store it owns. Hosts that need finer
// control (shared store, custom metrics wiring) can assemble the internal
// pieces the way cmd/lifecycle does; Open covers the common case.
type Engine struct {
	*Registry
	store store.Store
}

// Open connects the configured store backend, ensures its schema, and returns
// a ready engine. Close releases the backend connection.
func Open(ctx context.Context, storage StoreConfig, opts Options) (*Engine, error) {
	s, err := store.Open(ctx, storage)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return &Engine{
		Registry: registry.New(s, abort.NewSignal(), opts),
		store:    s,
	}, nil
}

// Close releases the underlying store.
func (e *Engine) Close() { e.store.Close() }
