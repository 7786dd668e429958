package store

import (
	"encoding/json"
	"fmt"
	"time"

	"datalab/internal/lifecycle"
	"datalab/internal/stage"
)

// Record encoding shared by every SQL backend. Pipelines and metadata are
// stored as JSON text; stages as their names; timestamps as RFC3339Nano
// strings for reliable round-trip behavior across drivers (SQLite in
// particular has no native timestamp type).

// VersionRow is the flat row shape a backend reads and writes.
type VersionRow struct {
	DatasetID    string
	ID           string
	Seq          int64
	ParentID     string
	Stage        string
	PipelineJSON string
	LocationKind string
	LocationPath string
	MetadataJSON string
	CreatedAt    string
}

// EncodeVersion flattens a version into a row. Seq is assigned by the
// backend inside its append transaction.
func EncodeVersion(v *lifecycle.DatasetVersion) (VersionRow, error) {
	pipeline := v.Pipeline
	if pipeline == nil {
		pipeline = []lifecycle.TransformSpec{}
	}
	pj, err := json.Marshal(pipeline)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encode pipeline: %w", err)
	}
	mj, err := json.Marshal(v.Metadata)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encode metadata: %w", err)
	}
	return VersionRow{
		DatasetID:    v.DatasetID,
		ID:           v.ID,
		ParentID:     v.ParentID,
		Stage:        v.Stage.String(),
		PipelineJSON: string(pj),
		LocationKind: string(v.Data.Kind),
		LocationPath: v.Data.Path,
		MetadataJSON: string(mj),
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// DecodeVersion restores a version from its row.
func DecodeVersion(r VersionRow) (*lifecycle.DatasetVersion, error) {
	st, err := stage.Parse(r.Stage)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", r.ID, err)
	}
	var pipeline []lifecycle.TransformSpec
	if err := json.Unmarshal([]byte(r.PipelineJSON), &pipeline); err != nil {
		return nil, fmt.Errorf("version %s: decode pipeline: %w", r.ID, err)
	}
	var meta lifecycle.VersionMetadata
	if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
		return nil, fmt.Errorf("version %s: decode metadata: %w", r.ID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("version %s: decode created_at: %w", r.ID, err)
	}
	return &lifecycle.DatasetVersion{
		ID:        r.ID,
		DatasetID: r.DatasetID,
		ParentID:  r.ParentID,
		Stage:     st,
		Pipeline:  pipeline,
		Data: lifecycle.DataLocation{
			Kind: lifecycle.LocationKind(r.LocationKind),
			Path: r.LocationPath,
		},
		Metadata:  meta,
		CreatedAt: created,
	}, nil
}

// FormatTime renders a timestamp the way every backend stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime reverses FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
