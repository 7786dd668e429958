package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"datalab/internal/lifecycle"
	"datalab/internal/stage"
	"datalab/internal/store"
)

func openTestRepo(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	r, err := New(ctx, store.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func testDataset() *lifecycle.Dataset {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := &lifecycle.DatasetVersion{
		ID:        "v-raw",
		DatasetID: "d1",
		Stage:     stage.Raw,
		Pipeline:  []lifecycle.TransformSpec{},
		Data:      lifecycle.DataLocation{Kind: lifecycle.LocationOriginal, Path: "/in/data.csv"},
		Metadata:  lifecycle.VersionMetadata{Description: "Raw ingestion", RowCount: 100, ColumnCount: 3},
		CreatedAt: now,
	}
	profiled := &lifecycle.DatasetVersion{
		ID:        "v-prof",
		DatasetID: "d1",
		ParentID:  "v-raw",
		Stage:     stage.Profiled,
		Pipeline:  []lifecycle.TransformSpec{},
		Data:      raw.Data,
		Metadata:  lifecycle.VersionMetadata{Description: "Stage: Profiled", RowCount: 100, ColumnCount: 3},
		CreatedAt: now.Add(time.Millisecond),
	}
	return &lifecycle.Dataset{
		ID:              "d1",
		Name:            "orders",
		SourcePath:      "/in/data.csv",
		RawVersionID:    "v-raw",
		ActiveVersionID: "v-prof",
		Versions:        []*lifecycle.DatasetVersion{raw, profiled},
		CreatedAt:       now,
	}
}

func TestInsertAndGetDataset_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := openTestRepo(t)

	if err := r.InsertDataset(ctx, testDataset()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetDataset(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "orders" || got.ActiveVersionID != "v-prof" || got.RawVersionID != "v-raw" {
		t.Fatalf("dataset fields wrong: %+v", got)
	}
	if len(got.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(got.Versions))
	}
	if got.Versions[0].ID != "v-raw" || got.Versions[1].ID != "v-prof" {
		t.Fatalf("version order wrong: %s, %s", got.Versions[0].ID, got.Versions[1].ID)
	}
	if got.Versions[1].ParentID != "v-raw" {
		t.Fatalf("parent id lost: %+v", got.Versions[1])
	}
	if got.Versions[0].ParentID != "" {
		t.Fatalf("raw version should have no parent, got %q", got.Versions[0].ParentID)
	}
	if got.Versions[0].Stage != stage.Raw || got.Versions[1].Stage != stage.Profiled {
		t.Fatalf("stages wrong: %v, %v", got.Versions[0].Stage, got.Versions[1].Stage)
	}
	if !got.Versions[0].CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at did not round trip: %v", got.Versions[0].CreatedAt)
	}
}

func TestGetDataset_NotFound(t *testing.T) {
	t.Parallel()

	r := openTestRepo(t)
	if _, err := r.GetDataset(context.Background(), "ghost"); !errors.Is(err, lifecycle.ErrDatasetNotFound) {
		t.Fatalf("err = %v, want ErrDatasetNotFound", err)
	}
}

func TestAppendVersion_PreservesOrderAndPipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := openTestRepo(t)
	if err := r.InsertDataset(ctx, testDataset()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v := &lifecycle.DatasetVersion{
		ID:        "v-clean",
		DatasetID: "d1",
		ParentID:  "v-prof",
		Stage:     stage.Cleaned,
		Pipeline: []lifecycle.TransformSpec{
			{Type: "clean", Parameters: map[string]any{"restricted": false}},
		},
		Data:      lifecycle.DataLocation{Kind: lifecycle.LocationArtifact, Path: "/data/d1/v-clean.csv"},
		Metadata:  lifecycle.VersionMetadata{RowCount: 95, ColumnCount: 3, Tags: []string{"cleaned"}},
		CreatedAt: time.Now().UTC(),
	}
	if err := r.AppendVersion(ctx, "d1", v); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := r.GetDataset(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Versions) != 3 || got.Versions[2].ID != "v-clean" {
		t.Fatalf("appended version missing or out of order: %+v", got.Versions)
	}
	if got.Versions[2].Pipeline[0].Type != "clean" {
		t.Fatalf("pipeline lost: %+v", got.Versions[2].Pipeline)
	}
	if got.Versions[2].Metadata.Tags[0] != "cleaned" {
		t.Fatalf("metadata lost: %+v", got.Versions[2].Metadata)
	}
	// Append must not move the active pointer.
	if got.ActiveVersionID != "v-prof" {
		t.Fatalf("append moved active pointer to %s", got.ActiveVersionID)
	}
}

func TestAppendVersion_UnknownDatasetAndParent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := openTestRepo(t)
	if err := r.InsertDataset(ctx, testDataset()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v := &lifecycle.DatasetVersion{ID: "x", DatasetID: "ghost", Stage: stage.Cleaned,
		Pipeline: []lifecycle.TransformSpec{}, CreatedAt: time.Now().UTC()}
	if err := r.AppendVersion(ctx, "ghost", v); !errors.Is(err, lifecycle.ErrDatasetNotFound) {
		t.Fatalf("err = %v, want ErrDatasetNotFound", err)
	}

	v = &lifecycle.DatasetVersion{ID: "x", DatasetID: "d1", ParentID: "ghost", Stage: stage.Cleaned,
		Pipeline: []lifecycle.TransformSpec{}, CreatedAt: time.Now().UTC()}
	if err := r.AppendVersion(ctx, "d1", v); !errors.Is(err, lifecycle.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound", err)
	}

	// Failed appends leave nothing behind.
	got, err := r.GetDataset(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Versions) != 2 {
		t.Fatalf("failed append committed a row: %d versions", len(got.Versions))
	}
}

func TestSetActiveVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := openTestRepo(t)
	if err := r.InsertDataset(ctx, testDataset()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := r.SetActiveVersion(ctx, "d1", "v-raw"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	got, _ := r.GetDataset(ctx, "d1")
	if got.ActiveVersionID != "v-raw" {
		t.Fatalf("active = %s, want v-raw", got.ActiveVersionID)
	}

	if err := r.SetActiveVersion(ctx, "d1", "ghost"); !errors.Is(err, lifecycle.ErrVersionNotInDataset) {
		t.Fatalf("err = %v, want ErrVersionNotInDataset", err)
	}
	if err := r.SetActiveVersion(ctx, "ghost", "v-raw"); !errors.Is(err, lifecycle.ErrDatasetNotFound) {
		t.Fatalf("err = %v, want ErrDatasetNotFound", err)
	}
}

func TestListDatasets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := openTestRepo(t)

	d1 := testDataset()
	if err := r.InsertDataset(ctx, d1); err != nil {
		t.Fatalf("insert d1: %v", err)
	}
	d2 := testDataset()
	d2.ID = "d2"
	d2.Name = "returns"
	d2.CreatedAt = d1.CreatedAt.Add(time.Hour)
	for _, v := range d2.Versions {
		v.DatasetID = "d2"
	}
	if err := r.InsertDataset(ctx, d2); err != nil {
		t.Fatalf("insert d2: %v", err)
	}

	all, err := r.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("datasets = %d, want 2", len(all))
	}
	if all[0].ID != "d1" || all[1].ID != "d2" {
		t.Fatalf("creation order broken: %s, %s", all[0].ID, all[1].ID)
	}
	if len(all[1].Versions) != 2 {
		t.Fatalf("versions not loaded for listed dataset")
	}
}
