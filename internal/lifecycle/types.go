// Package lifecycle defines the core records of the dataset versioning
// engine: datasets, their immutable versions, transform specifications, and
// the typed errors shared by every component.
//
// Records here are plain data. They carry no behavior beyond lineage walks;
// persistence lives in internal/store and orchestration in internal/registry.
package lifecycle

import (
	"time"

	"datalab/internal/stage"
)

// LocationKind discriminates how a version's data is materialized.
type LocationKind string

const (
	// LocationOriginal references the ingested source file. Used by Raw
	// versions (and stages that reuse the parent's data unchanged).
	LocationOriginal LocationKind = "original"
	// LocationArtifact references an engine-generated columnar artifact.
	LocationArtifact LocationKind = "artifact"
)

// DataLocation is a discriminated reference to a version's materialized data.
// Exactly one semantic variant applies, selected by Kind.
type DataLocation struct {
	Kind LocationKind `json:"kind"`
	Path string       `json:"path"`
}

// TransformSpec is one named, parameterized, deterministic data operation.
//
// Specs are treated as opaque and replayable: re-applying the same pipeline
// to the same parent input must reproduce the same schema and row count.
type TransformSpec struct {
	Type       string         `json:"transform_type"`
	Parameters map[string]any `json:"parameters"`
}

// VersionMetadata carries descriptive and statistical annotations for a
// version. Counts are recorded at commit time and never recomputed.
type VersionMetadata struct {
	Description   string         `json:"description"`
	Tags          []string       `json:"tags"`
	RowCount      int64          `json:"row_count"`
	ColumnCount   int            `json:"column_count"`
	FileSizeBytes int64          `json:"file_size_bytes"`
	CreatedBy     string         `json:"created_by"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
}

// DatasetVersion is one immutable snapshot of a dataset at a lifecycle stage.
//
// ParentID is empty only for the Raw version of a lineage root. Once a
// version is committed, Pipeline and Data never change.
type DatasetVersion struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Stage     stage.Stage     `json:"stage"`
	Pipeline  []TransformSpec `json:"pipeline"`
	Data      DataLocation    `json:"data_location"`
	Metadata  VersionMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// ColumnInfo describes one column of a version's materialized data.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"dtype"`
}

// ColumnSummary carries the per-column statistics consumed by the diff
// engine. The profiling math itself is supplied by a collaborator; this
// engine only aligns and compares summaries.
type ColumnSummary struct {
	Name          string   `json:"name"`
	Type          string   `json:"dtype"`
	NullCount     int64    `json:"null_count"`
	DistinctCount int64    `json:"distinct_count"`
	Mean          *float64 `json:"mean,omitempty"`
}

// Dataset is a named logical entity whose data evolves through an ordered
// sequence of immutable versions.
//
// Versions is in creation order and includes every committed version, also
// those off the currently active lineage branch. ActiveVersionID always
// references a member of Versions.
type Dataset struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	SourcePath      string            `json:"source_path"`
	RawVersionID    string            `json:"raw_version_id"`
	ActiveVersionID string            `json:"active_version_id"`
	Versions        []*DatasetVersion `json:"versions"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Version looks up a version by id. Returns nil when absent.
func (d *Dataset) Version(id string) *DatasetVersion {
	for _, v := range d.Versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// Active returns the currently active version, or nil if the pointer is
// dangling (which the store invariants prevent).
func (d *Dataset) Active() *DatasetVersion {
	return d.Version(d.ActiveVersionID)
}

// Lineage walks parent pointers from the given version to the lineage root
// and returns the chain in root-first order. Unknown ids yield nil.
//
// Parent ids strictly decrease in creation order, so the walk terminates
// without cycle tracking.
func (d *Dataset) Lineage(versionID string) []*DatasetVersion {
	var chain []*DatasetVersion
	for v := d.Version(versionID); v != nil; {
		chain = append(chain, v)
		if v.ParentID == "" {
			break
		}
		v = d.Version(v.ParentID)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Children returns the versions whose parent is versionID, in creation order.
func (d *Dataset) Children(versionID string) []*DatasetVersion {
	var out []*DatasetVersion
	for _, v := range d.Versions {
		if v.ParentID == versionID {
			out = append(out, v)
		}
	}
	return out
}

// IsAncestor reports whether ancestorID appears on the parent chain of
// versionID (a version is considered its own ancestor).
func (d *Dataset) IsAncestor(ancestorID, versionID string) bool {
	for v := d.Version(versionID); v != nil; {
		if v.ID == ancestorID {
			return true
		}
		if v.ParentID == "" {
			return false
		}
		v = d.Version(v.ParentID)
	}
	return false
}

// ActiveLineageStages reports which stages are present along the active
// lineage branch. Feed the result to stage.Locked for UI gating.
func (d *Dataset) ActiveLineageStages() map[stage.Stage]bool {
	present := make(map[stage.Stage]bool)
	for _, v := range d.Lineage(d.ActiveVersionID) {
		present[v.Stage] = true
	}
	return present
}
