// Package registry is the orchestration facade of the lifecycle engine. It
// owns dataset creation, pipeline application, activation, publishing, and
// diffing, and is the only layer that composes the store, the transform
// executor, and the abort signal.
//
// Mutations per dataset are serialized through store.Guard: a second caller
// hitting a busy dataset gets lifecycle.ErrDatasetBusy immediately. Long
// operations additionally take the process-wide single-flight slot on the
// abort signal, so Abort always refers to the one operation in flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"datalab/internal/abort"
	"datalab/internal/diff"
	"datalab/internal/lifecycle"
	"datalab/internal/metrics"
	"datalab/internal/publish"
	"datalab/internal/stage"
	"datalab/internal/store"
	"datalab/internal/table"
	"datalab/internal/transform"
)

// Options configures a Registry.
type Options struct {
	// BaseDir is the root for materialized artifacts. Versions write to
	// <base_dir>/<dataset_id>/<version_id>.csv.
	BaseDir string

	// DiffThresholdPercent overrides the statistical materiality threshold.
	// Zero selects diff.DefaultThresholdPercent.
	DiffThresholdPercent float64

	// AppName and AppVersion identify the producer in snapshot receipts.
	AppName    string
	AppVersion string
}

// Registry coordinates all lifecycle operations for all datasets.
type Registry struct {
	store *store.Guarded
	sig   *abort.Signal
	opts  Options

	// created_at must be strictly increasing per process so version order
	// survives coarse clock resolution and clock steps.
	clockMu     sync.Mutex
	lastCreated time.Time

	// test seams
	now   func() time.Time
	newID func() string
}

// New wraps a store with the orchestration layer. The caller keeps ownership
// of the signal so a UI thread can trigger Abort independently.
func New(s store.Store, sig *abort.Signal, opts Options) *Registry {
	if opts.AppName == "" {
		opts.AppName = "datalab"
	}
	return &Registry{
		store: store.Guard(s),
		sig:   sig,
		opts:  opts,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Signal exposes the abort signal for UI wiring.
func (r *Registry) Signal() *abort.Signal { return r.sig }

// stamp returns a strictly increasing UTC timestamp.
func (r *Registry) stamp() time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()

	t := r.now().UTC()
	if !t.After(r.lastCreated) {
		t = r.lastCreated.Add(time.Nanosecond)
	}
	r.lastCreated = t
	return t
}

func (r *Registry) artifactPath(datasetID, versionID string) string {
	return filepath.Join(r.opts.BaseDir, datasetID, versionID+".csv")
}

func observe(op string, start time.Time, rows int64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := metrics.Labels{"op": op, "status": status}
	metrics.IncCounter(metrics.OpTotal, 1, labels)
	metrics.ObserveDuration(metrics.OpDurationSeconds, time.Since(start), labels)
	if rows > 0 {
		metrics.IncCounter(metrics.RowsTotal, float64(rows), labels)
	}
}

// CreateDataset ingests a source file as a new dataset.
//
// Two versions are committed atomically: the immutable Raw root referencing
// the original file, and a derived Profiled version (empty pipeline, same
// data) that becomes active. The source file itself is never copied or
// modified.
//
// Errors: lifecycle.ErrInvalidSource when the source is missing or unreadable.
func (r *Registry) CreateDataset(ctx context.Context, name, sourcePath string) (d *lifecycle.Dataset, err error) {
	start := r.now()
	var rows int64
	defer func() { observe("create_dataset", start, rows, err) }()

	if _, statErr := os.Stat(sourcePath); statErr != nil {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrInvalidSource, sourcePath)
	}
	loc := lifecycle.DataLocation{Kind: lifecycle.LocationOriginal, Path: sourcePath}
	f, err := table.Load(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lifecycle.ErrInvalidSource, err)
	}

	size := int64(0)
	if info, statErr := os.Stat(sourcePath); statErr == nil {
		size = info.Size()
	}
	rows = f.RowCount()

	datasetID := r.newID()
	rawID := r.newID()
	profiledID := r.newID()

	raw := &lifecycle.DatasetVersion{
		ID:        rawID,
		DatasetID: datasetID,
		Stage:     stage.Raw,
		Pipeline:  []lifecycle.TransformSpec{},
		Data:      loc,
		Metadata: lifecycle.VersionMetadata{
			Description:   "Raw ingestion",
			RowCount:      f.RowCount(),
			ColumnCount:   f.ColumnCount(),
			FileSizeBytes: size,
		},
		CreatedAt: r.stamp(),
	}
	profiled := &lifecycle.DatasetVersion{
		ID:        profiledID,
		DatasetID: datasetID,
		ParentID:  rawID,
		Stage:     stage.Profiled,
		Pipeline:  []lifecycle.TransformSpec{},
		Data:      loc,
		Metadata: lifecycle.VersionMetadata{
			Description:   "Stage: Profiled",
			RowCount:      f.RowCount(),
			ColumnCount:   f.ColumnCount(),
			FileSizeBytes: size,
		},
		CreatedAt: r.stamp(),
	}

	d = &lifecycle.Dataset{
		ID:              datasetID,
		Name:            name,
		SourcePath:      sourcePath,
		RawVersionID:    rawID,
		ActiveVersionID: profiledID,
		Versions:        []*lifecycle.DatasetVersion{raw, profiled},
		CreatedAt:       raw.CreatedAt,
	}
	if err = r.store.InsertDataset(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ApplyOptions carries the user-supplied annotations for a new version.
type ApplyOptions struct {
	// ParentID selects the parent version. Empty means the active version.
	ParentID string

	Description string
	Tags        []string
	CreatedBy   string
}

// ApplyTransforms runs a pipeline against a parent version and commits the
// result as a new version at the target stage, which then becomes active.
//
// The transition gate is authoritative here: the target must be the parent's
// immediate successor stage, or a branch/redo strictly below the parent.
// Nothing is committed on any failure or abort; the dataset's version list
// and active pointer are unchanged.
//
// When the pipeline provably cannot change the bytes (empty pipeline, pure
// projection, restricted re-clean of cleaned data), the new version reuses
// the parent's data location instead of writing an artifact; the stored
// pipeline is replayed lazily at load time.
//
// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrVersionNotFound,
// *lifecycle.StageTransitionError, lifecycle.ErrDatasetBusy, abort.ErrBusy,
// lifecycle.ErrEmptyParentData, *lifecycle.TransformError,
// lifecycle.ErrAborted.
func (r *Registry) ApplyTransforms(ctx context.Context, datasetID string, target stage.Stage, specs []lifecycle.TransformSpec, opts ApplyOptions) (v *lifecycle.DatasetVersion, err error) {
	start := r.now()
	var rows int64
	defer func() { observe("apply_transforms", start, rows, err) }()

	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	parentID := opts.ParentID
	if parentID == "" {
		parentID = d.ActiveVersionID
	}
	parent := d.Version(parentID)
	if parent == nil {
		return nil, fmt.Errorf("version %s: %w", parentID, lifecycle.ErrVersionNotFound)
	}

	if !stage.CanTransition(parent.Stage, target) {
		return nil, &lifecycle.StageTransitionError{From: parent.Stage, To: target}
	}

	releaseOp, err := r.sig.BeginLongOp()
	if err != nil {
		return nil, err
	}
	defer releaseOp()

	releaseSlot, err := r.store.Acquire(datasetID)
	if err != nil {
		return nil, err
	}
	defer releaseSlot()

	f, err := r.materialize(ctx, d, parent)
	if err != nil {
		return nil, err
	}
	if f.ColumnCount() == 0 {
		return nil, fmt.Errorf("parent %s: %w", parent.ID, lifecycle.ErrEmptyParentData)
	}

	out, err := transform.Run(ctx, r.sig, f, specs)
	if err != nil {
		return nil, err
	}
	rows = out.RowCount()

	versionID := r.newID()
	if specs == nil {
		specs = []lifecycle.TransformSpec{}
	}

	loc := parent.Data
	size := parent.Metadata.FileSizeBytes
	if !transform.IsNoOp(specs, parent.Stage.String()) {
		path := r.artifactPath(datasetID, versionID)
		size, err = table.WriteArtifact(ctx, r.sig, path, out)
		if err != nil {
			return nil, err
		}
		loc = lifecycle.DataLocation{Kind: lifecycle.LocationArtifact, Path: path}
	}

	desc := opts.Description
	if desc == "" {
		desc = "Stage: " + target.String()
	}
	v = &lifecycle.DatasetVersion{
		ID:        versionID,
		DatasetID: datasetID,
		ParentID:  parent.ID,
		Stage:     target,
		Pipeline:  specs,
		Data:      loc,
		Metadata: lifecycle.VersionMetadata{
			Description:   desc,
			Tags:          opts.Tags,
			RowCount:      out.RowCount(),
			ColumnCount:   out.ColumnCount(),
			FileSizeBytes: size,
			CreatedBy:     opts.CreatedBy,
		},
		CreatedAt: r.stamp(),
	}

	// The dataset slot is already held, so bypass the guard for the commit.
	inner := r.store.Unwrap()
	if err = inner.AppendVersion(ctx, datasetID, v); err != nil {
		if loc.Kind == lifecycle.LocationArtifact && loc.Path != parent.Data.Path {
			_ = os.Remove(loc.Path)
		}
		return nil, err
	}
	if err = inner.SetActiveVersion(ctx, datasetID, versionID); err != nil {
		return nil, err
	}
	return v, nil
}

// SetActiveVersion moves the active pointer to an existing version. This is
// how branch/redo switches lineage context for subsequent transforms.
//
// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrVersionNotInDataset,
// lifecycle.ErrDatasetBusy.
func (r *Registry) SetActiveVersion(ctx context.Context, datasetID, versionID string) (err error) {
	start := r.now()
	defer func() { observe("set_active_version", start, 0, err) }()
	return r.store.SetActiveVersion(ctx, datasetID, versionID)
}

// PublishOptions configures a publish.
type PublishOptions struct {
	// VersionID selects the version to publish. Empty means active.
	VersionID string

	Mode publish.Mode

	// DestDir receives snapshot files. Empty selects
	// <base_dir>/<dataset_id>/published.
	DestDir string

	Description string
	CreatedBy   string
}

// PublishVersion commits a Published version derived from a Validated
// version, materialized per opts.Mode. The active pointer does not move:
// publishing is a side artifact of the lineage, not a new working context.
//
// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrVersionNotInDataset,
// lifecycle.ErrUnsupportedStageForPublish, lifecycle.ErrDatasetBusy,
// abort.ErrBusy, lifecycle.ErrAborted.
func (r *Registry) PublishVersion(ctx context.Context, datasetID string, opts PublishOptions) (v *lifecycle.DatasetVersion, res *publish.Result, err error) {
	start := r.now()
	defer func() { observe("publish_version", start, 0, err) }()

	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	versionID := opts.VersionID
	if versionID == "" {
		versionID = d.ActiveVersionID
	}
	src := d.Version(versionID)
	if src == nil {
		return nil, nil, fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotInDataset)
	}
	if src.Stage != stage.Validated {
		return nil, nil, fmt.Errorf("version %s is at %s: %w", src.ID, src.Stage, lifecycle.ErrUnsupportedStageForPublish)
	}

	releaseOp, err := r.sig.BeginLongOp()
	if err != nil {
		return nil, nil, err
	}
	defer releaseOp()

	releaseSlot, err := r.store.Acquire(datasetID)
	if err != nil {
		return nil, nil, err
	}
	defer releaseSlot()

	newID := r.newID()
	destPath := ""
	if opts.Mode == publish.ModeSnapshot {
		dir := opts.DestDir
		if dir == "" {
			dir = filepath.Join(r.opts.BaseDir, datasetID, "published")
		}
		destPath = filepath.Join(dir, newID+".csv")

		f, mErr := r.materialize(ctx, d, src)
		if mErr != nil {
			return nil, nil, mErr
		}
		export := publish.Export{
			Format:      "csv",
			RowCount:    f.RowCount(),
			ColumnCount: f.ColumnCount(),
			Schema:      f.Schema(),
		}

		if r.ownsArtifact(d, src) {
			// Bytes on disk already are the validated data; a raw copy keeps
			// the snapshot byte-identical to the source artifact.
			res, err = publish.Materialize(ctx, r.sig, opts.Mode, src.Data, destPath, r.opts.AppName, r.opts.AppVersion, export)
		} else {
			// src aliases an ancestor's bytes. The snapshot must hold the
			// materialized frame, not the raw ancestor file.
			if _, err = table.WriteArtifact(ctx, r.sig, destPath, f); err != nil {
				return nil, nil, err
			}
			res, err = publish.Seal(destPath, r.opts.AppName, r.opts.AppVersion, export)
		}
	} else {
		res, err = publish.Materialize(ctx, r.sig, opts.Mode, src.Data, destPath, r.opts.AppName, r.opts.AppVersion, publish.Export{})
	}
	if err != nil {
		return nil, nil, err
	}

	desc := opts.Description
	if desc == "" {
		desc = fmt.Sprintf("Published (%s)", opts.Mode)
	}
	v = &lifecycle.DatasetVersion{
		ID:        newID,
		DatasetID: datasetID,
		ParentID:  src.ID,
		Stage:     stage.Published,
		Pipeline:  []lifecycle.TransformSpec{},
		Data:      res.Location,
		Metadata: lifecycle.VersionMetadata{
			Description:   desc,
			RowCount:      src.Metadata.RowCount,
			ColumnCount:   src.Metadata.ColumnCount,
			FileSizeBytes: src.Metadata.FileSizeBytes,
			CreatedBy:     opts.CreatedBy,
			CustomFields:  map[string]any{"publish_mode": string(opts.Mode)},
		},
		CreatedAt: r.stamp(),
	}
	if res.Receipt != nil {
		v.Metadata.FileSizeBytes = res.Receipt.Export.FileSizeBytes
	}

	if err = r.store.Unwrap().AppendVersion(ctx, datasetID, v); err != nil {
		if opts.Mode == publish.ModeSnapshot {
			_ = os.Remove(destPath)
			_ = os.Remove(publish.ReceiptPath(destPath))
		}
		return nil, nil, err
	}
	return v, res, nil
}

// GetDataset loads a dataset with all versions.
func (r *Registry) GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	return r.store.GetDataset(ctx, id)
}

// ListDatasets loads every dataset.
func (r *Registry) ListDatasets(ctx context.Context) ([]*lifecycle.Dataset, error) {
	return r.store.ListDatasets(ctx)
}

// ListVersions returns a dataset's versions in creation order.
func (r *Registry) ListVersions(ctx context.Context, datasetID string) ([]*lifecycle.DatasetVersion, error) {
	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return d.Versions, nil
}

// GetActiveData materializes the active version's frame. Versions that share
// bytes with an ancestor are presented with their pipeline replayed.
func (r *Registry) GetActiveData(ctx context.Context, datasetID string) (*table.Frame, *lifecycle.DatasetVersion, error) {
	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	v := d.Active()
	if v == nil {
		return nil, nil, fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrVersionNotFound)
	}
	f, err := r.materialize(ctx, d, v)
	if err != nil {
		return nil, nil, err
	}
	return f, v, nil
}

// GetVersion looks up one version.
//
// Errors: lifecycle.ErrDatasetNotFound, lifecycle.ErrVersionNotFound.
func (r *Registry) GetVersion(ctx context.Context, datasetID, versionID string) (*lifecycle.DatasetVersion, error) {
	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	v := d.Version(versionID)
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotFound)
	}
	return v, nil
}

// GetVersionSchema materializes a version and returns its schema.
func (r *Registry) GetVersionSchema(ctx context.Context, datasetID, versionID string) ([]lifecycle.ColumnInfo, error) {
	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	v := d.Version(versionID)
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotFound)
	}
	f, err := r.materialize(ctx, d, v)
	if err != nil {
		return nil, err
	}
	return f.Schema(), nil
}

// Diff compares two committed versions of the same dataset.
//
// Comparing a version with itself yields an empty summary. Versions on
// divergent branches (neither an ancestor of the other) are rejected with
// lifecycle.ErrNoCommonLineage; cross-branch comparison is not meaningful
// because the branches share no transform history past the fork.
func (r *Registry) Diff(ctx context.Context, datasetID, v1ID, v2ID string) (s *diff.Summary, err error) {
	start := r.now()
	defer func() { observe("get_version_diff", start, 0, err) }()

	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	v1 := d.Version(v1ID)
	if v1 == nil {
		return nil, fmt.Errorf("version %s: %w", v1ID, lifecycle.ErrVersionNotFound)
	}
	v2 := d.Version(v2ID)
	if v2 == nil {
		return nil, fmt.Errorf("version %s: %w", v2ID, lifecycle.ErrVersionNotFound)
	}
	if !d.IsAncestor(v1.ID, v2.ID) && !d.IsAncestor(v2.ID, v1.ID) {
		return nil, fmt.Errorf("versions %s and %s: %w", v1ID, v2ID, lifecycle.ErrNoCommonLineage)
	}

	view1, err := r.view(ctx, d, v1)
	if err != nil {
		return nil, err
	}
	view2, err := r.view(ctx, d, v2)
	if err != nil {
		return nil, err
	}
	return diff.Compute(view1, view2, diff.Options{
		ThresholdPercent: r.opts.DiffThresholdPercent,
		RenameHints:      renameHints(v2.Pipeline),
	}), nil
}

// DiffWithParent compares a version against its resolved parent.
//
// Errors: lifecycle.ErrNoParentVersion for the Raw root. That error is
// informational, not a failure of the dataset.
func (r *Registry) DiffWithParent(ctx context.Context, datasetID, versionID string) (*diff.Summary, error) {
	d, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	v := d.Version(versionID)
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotFound)
	}
	if v.ParentID == "" {
		return nil, fmt.Errorf("version %s: %w", versionID, lifecycle.ErrNoParentVersion)
	}
	return r.Diff(ctx, datasetID, v.ParentID, versionID)
}

// ownsArtifact reports whether v's bytes were written for v itself, as
// opposed to aliasing an ancestor's location (no-op reuse, view publish).
func (r *Registry) ownsArtifact(d *lifecycle.Dataset, v *lifecycle.DatasetVersion) bool {
	return v.Data.Kind == lifecycle.LocationArtifact && v.Data.Path == r.artifactPath(d.ID, v.ID)
}

// materialize loads a version's data and, when the version shares its bytes
// with an ancestor, replays the accumulated pipeline chain to present the
// transformed view.
func (r *Registry) materialize(ctx context.Context, d *lifecycle.Dataset, v *lifecycle.DatasetVersion) (*table.Frame, error) {
	f, err := table.Load(v.Data)
	if err != nil {
		return nil, err
	}
	if chain := r.replayChain(d, v); len(chain) > 0 {
		return transform.Replay(ctx, f, chain)
	}
	return f, nil
}

// replayChain collects the transforms that turn the bytes at v.Data into v's
// actual data. Each stored pipeline describes one parent-to-child step, so a
// version aliasing an ancestor's location walks up the lineage, gathering
// pipelines from every version sharing that location, and replays them
// root-first. A version owning its artifact needs no replay at all.
func (r *Registry) replayChain(d *lifecycle.Dataset, v *lifecycle.DatasetVersion) []lifecycle.TransformSpec {
	var steps [][]lifecycle.TransformSpec
	for cur := v; cur != nil && !r.ownsArtifact(d, cur); {
		if len(cur.Pipeline) > 0 {
			steps = append(steps, cur.Pipeline)
		}
		if cur.ParentID == "" {
			break
		}
		parent := d.Version(cur.ParentID)
		if parent == nil || parent.Data != cur.Data {
			break
		}
		cur = parent
	}

	var chain []lifecycle.TransformSpec
	for i := len(steps) - 1; i >= 0; i-- {
		chain = append(chain, steps[i]...)
	}
	return chain
}

func (r *Registry) view(ctx context.Context, d *lifecycle.Dataset, v *lifecycle.DatasetVersion) (diff.VersionView, error) {
	f, err := r.materialize(ctx, d, v)
	if err != nil {
		return diff.VersionView{}, err
	}
	return diff.VersionView{
		ID:        v.ID,
		RowCount:  f.RowCount(),
		Schema:    f.Schema(),
		Summaries: f.Summaries(),
	}, nil
}

// renameHints extracts explicit old->new column mappings from rename_columns
// steps so the diff engine can report renames with certainty.
func renameHints(pipeline []lifecycle.TransformSpec) map[string]string {
	hints := map[string]string{}
	for _, spec := range pipeline {
		if spec.Type != "rename_columns" {
			continue
		}
		m, err := transform.Params(spec.Parameters).StringMap("mapping")
		if err != nil {
			continue
		}
		for from, to := range m {
			hints[from] = to
		}
	}
	return hints
}

// IsBusy reports whether err is either form of busy rejection.
func IsBusy(err error) bool {
	return errors.Is(err, lifecycle.ErrDatasetBusy) || errors.Is(err, abort.ErrBusy)
}
