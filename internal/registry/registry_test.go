package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datalab/internal/abort"
	"datalab/internal/lifecycle"
	"datalab/internal/publish"
	"datalab/internal/stage"
	"datalab/internal/store"
	"datalab/internal/store/sqlite"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(ctx, store.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}

	base := t.TempDir()
	reg := New(st, abort.NewSignal(), Options{
		BaseDir:    base,
		AppName:    "datalab",
		AppVersion: "test",
	})
	return reg, base
}

// sourceCSV is the canonical test input: three columns, mixed types, a few
// nulls and untrimmed strings for the clean stage to chew on.
func sourceCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "order_id,customer, amount\n" +
		"1, Alice ,10.5\n" +
		"2,BOB,20\n" +
		"3,,30.25\n" +
		"4, carol ,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func cleanSpecs() []lifecycle.TransformSpec {
	return []lifecycle.TransformSpec{
		{Type: "rename_columns", Parameters: map[string]any{
			"mapping": map[string]any{" amount": "amount"},
		}},
		{Type: "clean", Parameters: map[string]any{
			"configs": map[string]any{
				"customer": map[string]any{"trim_space": true, "lowercase": true, "empty_as_null": true},
			},
		}},
	}
}

func mustApply(t *testing.T, reg *Registry, datasetID string, target stage.Stage, specs []lifecycle.TransformSpec) *lifecycle.DatasetVersion {
	t.Helper()
	v, err := reg.ApplyTransforms(context.Background(), datasetID, target, specs, ApplyOptions{})
	if err != nil {
		t.Fatalf("apply to %s: %v", target, err)
	}
	return v
}

func TestCreateDataset(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	d, err := reg.CreateDataset(context.Background(), "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(d.Versions) != 2 {
		t.Fatalf("versions = %d, want Raw + Profiled", len(d.Versions))
	}
	raw, profiled := d.Versions[0], d.Versions[1]
	if raw.Stage != stage.Raw || profiled.Stage != stage.Profiled {
		t.Fatalf("stages = %v, %v", raw.Stage, profiled.Stage)
	}
	if raw.ParentID != "" || profiled.ParentID != raw.ID {
		t.Fatalf("lineage wrong: raw parent %q, profiled parent %q", raw.ParentID, profiled.ParentID)
	}
	if d.ActiveVersionID != profiled.ID {
		t.Fatalf("active should be the Profiled version")
	}
	if raw.Metadata.RowCount != 4 || raw.Metadata.ColumnCount != 3 {
		t.Fatalf("raw metadata = %+v", raw.Metadata)
	}
	if raw.Data.Kind != lifecycle.LocationOriginal {
		t.Fatalf("raw must reference the original file")
	}
	if !profiled.CreatedAt.After(raw.CreatedAt) {
		t.Fatalf("created_at not strictly increasing")
	}

	// Round trip through the store.
	got, err := reg.GetDataset(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Versions) != 2 || got.ActiveVersionID != profiled.ID {
		t.Fatalf("persisted dataset differs: %+v", got)
	}
}

func TestCreateDataset_MissingSource(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	_, err := reg.CreateDataset(context.Background(), "x", "/no/such/file.csv")
	if !errors.Is(err, lifecycle.ErrInvalidSource) {
		t.Fatalf("err = %v, want ErrInvalidSource", err)
	}
}

func TestApplyTransforms_CommitsCleanedVersion(t *testing.T) {
	t.Parallel()

	reg, base := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	if v.Stage != stage.Cleaned {
		t.Fatalf("stage = %v", v.Stage)
	}
	if v.ParentID != d.ActiveVersionID {
		t.Fatalf("parent should be the previously active version")
	}
	if v.Data.Kind != lifecycle.LocationArtifact {
		t.Fatalf("cleaned version should own an artifact, got %+v", v.Data)
	}
	wantPath := filepath.Join(base, d.ID, v.ID+".csv")
	if v.Data.Path != wantPath {
		t.Fatalf("artifact path = %s, want %s", v.Data.Path, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if v.Metadata.RowCount != 4 || v.Metadata.ColumnCount != 3 {
		t.Fatalf("metadata = %+v", v.Metadata)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if got.ActiveVersionID != v.ID {
		t.Fatalf("new version should become active")
	}
	if len(got.Versions) != 3 {
		t.Fatalf("versions = %d, want 3", len(got.Versions))
	}
}

func TestApplyTransforms_IllegalTransitionCommitsNothing(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Profiled -> Advanced skips Cleaned.
	_, err = reg.ApplyTransforms(ctx, d.ID, stage.Advanced, nil, ApplyOptions{})
	var serr *lifecycle.StageTransitionError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StageTransitionError", err)
	}
	if serr.From != stage.Profiled || serr.To != stage.Advanced {
		t.Fatalf("transition error = %+v", serr)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if len(got.Versions) != 2 {
		t.Fatalf("rejected transition committed a version")
	}
	if got.ActiveVersionID != d.ActiveVersionID {
		t.Fatalf("rejected transition moved the active pointer")
	}
}

func TestApplyTransforms_NoOpPipelineReusesParentData(t *testing.T) {
	t.Parallel()

	reg, base := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := mustApply(t, reg, d.ID, stage.Cleaned, nil)
	if v.Data != d.Versions[1].Data {
		t.Fatalf("no-op version should alias the parent's data: %+v", v.Data)
	}
	if _, err := os.Stat(filepath.Join(base, d.ID, v.ID+".csv")); !os.IsNotExist(err) {
		t.Fatalf("no-op pipeline must not write an artifact")
	}
}

func TestApplyTransforms_ProjectionReplaysLazily(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	specs := []lifecycle.TransformSpec{
		{Type: "select_columns", Parameters: map[string]any{"columns": []string{"order_id", "customer"}}},
	}
	v := mustApply(t, reg, d.ID, stage.Cleaned, specs)
	if v.Data.Kind != lifecycle.LocationOriginal {
		t.Fatalf("pure projection should reuse the parent data, got %+v", v.Data)
	}
	if v.Metadata.ColumnCount != 2 {
		t.Fatalf("metadata columns = %d, want 2", v.Metadata.ColumnCount)
	}

	schema, err := reg.GetVersionSchema(ctx, d.ID, v.ID)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema) != 2 || schema[0].Name != "order_id" || schema[1].Name != "customer" {
		t.Fatalf("replayed schema = %+v", schema)
	}
}

func TestApplyTransforms_ChainedNoOpsReplayWholeLineage(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two lazy versions in a row: a projection, then an empty pipeline. Both
	// alias the original bytes; reading the second must still apply the first's
	// projection.
	cleaned := mustApply(t, reg, d.ID, stage.Cleaned, []lifecycle.TransformSpec{
		{Type: "select_columns", Parameters: map[string]any{"columns": []string{"order_id", "customer"}}},
	})
	advanced := mustApply(t, reg, d.ID, stage.Advanced, nil)
	if advanced.Data != cleaned.Data {
		t.Fatalf("chained no-op should keep aliasing: %+v", advanced.Data)
	}

	schema, err := reg.GetVersionSchema(ctx, d.ID, advanced.ID)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema) != 2 || schema[0].Name != "order_id" || schema[1].Name != "customer" {
		t.Fatalf("chained replay schema = %+v", schema)
	}
}

func TestApplyTransforms_AbortCommitsNothing(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reg.Signal().Abort()
	_, err = reg.ApplyTransforms(ctx, d.ID, stage.Cleaned, cleanSpecs(), ApplyOptions{})
	if !errors.Is(err, lifecycle.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if len(got.Versions) != 2 {
		t.Fatalf("aborted operation committed a version")
	}
	if got.ActiveVersionID != d.ActiveVersionID {
		t.Fatalf("aborted operation moved the active pointer")
	}

	// After Reset the same pipeline goes through.
	reg.Signal().Reset()
	mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
}

func TestApplyTransforms_FailingStepReportsIndex(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	specs := []lifecycle.TransformSpec{
		{Type: "clean", Parameters: map[string]any{"configs": map[string]any{}}},
		{Type: "select_columns", Parameters: map[string]any{"columns": []string{"ghost"}}},
	}
	_, err = reg.ApplyTransforms(ctx, d.ID, stage.Cleaned, specs, ApplyOptions{})
	var terr *lifecycle.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransformError", err)
	}
	if terr.Step != 1 {
		t.Fatalf("step = %d, want 1", terr.Step)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if len(got.Versions) != 2 {
		t.Fatalf("failed pipeline committed a version")
	}
}

func TestApplyTransforms_EmptyParentData(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	empty := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := reg.CreateDataset(ctx, "empty", empty)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = reg.ApplyTransforms(ctx, d.ID, stage.Cleaned, nil, ApplyOptions{})
	if !errors.Is(err, lifecycle.ErrEmptyParentData) {
		t.Fatalf("err = %v, want ErrEmptyParentData", err)
	}
}

func TestApplyTransforms_BusySignalRejected(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	release, err := reg.Signal().BeginLongOp()
	if err != nil {
		t.Fatalf("begin long op: %v", err)
	}
	defer release()

	_, err = reg.ApplyTransforms(ctx, d.ID, stage.Cleaned, nil, ApplyOptions{})
	if !errors.Is(err, abort.ErrBusy) {
		t.Fatalf("err = %v, want abort.ErrBusy", err)
	}
	if !IsBusy(err) {
		t.Fatalf("IsBusy should recognize %v", err)
	}
}

func TestBranchRedo(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	profiledID := d.ActiveVersionID

	first := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())

	// Move back and redo cleaning differently: a sibling branch.
	if err := reg.SetActiveVersion(ctx, d.ID, profiledID); err != nil {
		t.Fatalf("set active: %v", err)
	}
	second := mustApply(t, reg, d.ID, stage.Cleaned, nil)

	got, _ := reg.GetDataset(ctx, d.ID)
	if len(got.Versions) != 4 {
		t.Fatalf("versions = %d, want 4", len(got.Versions))
	}
	if second.ParentID != profiledID {
		t.Fatalf("redo parent = %s, want %s", second.ParentID, profiledID)
	}
	if got.ActiveVersionID != second.ID {
		t.Fatalf("redo should become active")
	}
	// The first branch is retained untouched.
	if got.Version(first.ID) == nil {
		t.Fatalf("original branch version lost")
	}

	// Redo below a later parent: Validated -> Cleaned.
	advanced := mustApply(t, reg, d.ID, stage.Advanced, []lifecycle.TransformSpec{
		{Type: "drop_nulls", Parameters: map[string]any{"columns": []string{"customer"}}},
	})
	_ = mustApply(t, reg, d.ID, stage.Validated, nil)
	redo := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	if redo.Stage != stage.Cleaned {
		t.Fatalf("redo stage = %v", redo.Stage)
	}
	if redo.ParentID == advanced.ID {
		// Parent is the Validated version (active), not Advanced.
		t.Fatalf("redo parent should be the active Validated version")
	}
}

func TestPublishVersion_Snapshot(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	mustApply(t, reg, d.ID, stage.Advanced, []lifecycle.TransformSpec{
		{Type: "drop_nulls", Parameters: map[string]any{"columns": []string{"customer"}}},
	})
	validated := mustApply(t, reg, d.ID, stage.Validated, nil)

	v, res, err := reg.PublishVersion(ctx, d.ID, PublishOptions{Mode: publish.ModeSnapshot})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if v.Stage != stage.Published || v.ParentID != validated.ID {
		t.Fatalf("published version = %+v", v)
	}
	if res.Receipt == nil {
		t.Fatalf("snapshot publish must produce a receipt")
	}
	if err := publish.VerifyReceipt(res.Location.Path, res.Receipt); err != nil {
		t.Fatalf("receipt verify: %v", err)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if got.ActiveVersionID != validated.ID {
		t.Fatalf("publish moved the active pointer")
	}

	// Publishing the same Validated version again yields an independent
	// snapshot.
	v2, res2, err := reg.PublishVersion(ctx, d.ID, PublishOptions{
		VersionID: validated.ID, Mode: publish.ModeSnapshot,
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if v2.ID == v.ID || res2.Location.Path == res.Location.Path {
		t.Fatalf("second snapshot should be independent")
	}
}

func TestPublishVersion_View(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	mustApply(t, reg, d.ID, stage.Advanced, nil)
	validated := mustApply(t, reg, d.ID, stage.Validated, nil)

	v, res, err := reg.PublishVersion(ctx, d.ID, PublishOptions{Mode: publish.ModeView})
	if err != nil {
		t.Fatalf("publish view: %v", err)
	}
	if res.Receipt != nil {
		t.Fatalf("view publish must not write a receipt")
	}
	if v.Data != validated.Data {
		t.Fatalf("view should alias the validated version's data")
	}
}

func TestPublishVersion_SnapshotOfLazyVersionHoldsItsOwnData(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	mustApply(t, reg, d.ID, stage.Advanced, []lifecycle.TransformSpec{
		{Type: "drop_nulls", Parameters: map[string]any{"columns": []string{"customer"}}},
	})
	// A pure projection is committed lazily: the Validated version aliases
	// the Advanced artifact and carries the select in its pipeline.
	advanced, _ := reg.GetDataset(ctx, d.ID)
	validated := mustApply(t, reg, d.ID, stage.Validated, []lifecycle.TransformSpec{
		{Type: "select_columns", Parameters: map[string]any{"columns": []string{"order_id", "amount"}}},
	})
	if validated.Data != advanced.Version(advanced.ActiveVersionID).Data {
		t.Fatalf("projection should alias the Advanced artifact: %+v", validated.Data)
	}

	_, res, err := reg.PublishVersion(ctx, d.ID, PublishOptions{Mode: publish.ModeSnapshot})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The snapshot must hold the projected data, not the aliased bytes.
	raw, err := os.ReadFile(res.Location.Path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	header := strings.Split(strings.SplitN(string(raw), "\n", 2)[0], ",")
	if len(header) != 2 || header[0] != "order_id" || header[1] != "amount" {
		t.Fatalf("snapshot header = %v, want the projected columns", header)
	}
	if res.Receipt.Export.ColumnCount != 2 {
		t.Fatalf("receipt columns = %d, want 2", res.Receipt.Export.ColumnCount)
	}
	if err := publish.VerifyReceipt(res.Location.Path, res.Receipt); err != nil {
		t.Fatalf("receipt verify: %v", err)
	}
}

func TestPublishVersion_ViewOfLazyVersionReplays(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	mustApply(t, reg, d.ID, stage.Advanced, []lifecycle.TransformSpec{
		{Type: "drop_nulls", Parameters: map[string]any{"columns": []string{"customer"}}},
	})
	mustApply(t, reg, d.ID, stage.Validated, []lifecycle.TransformSpec{
		{Type: "select_columns", Parameters: map[string]any{"columns": []string{"order_id", "amount"}}},
	})

	v, _, err := reg.PublishVersion(ctx, d.ID, PublishOptions{Mode: publish.ModeView})
	if err != nil {
		t.Fatalf("publish view: %v", err)
	}

	// Reading the view resolves the full replay chain through the alias.
	schema, err := reg.GetVersionSchema(ctx, d.ID, v.ID)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema) != 2 || schema[0].Name != "order_id" || schema[1].Name != "amount" {
		t.Fatalf("view schema = %+v, want the projected columns", schema)
	}
}

func TestPublishVersion_UnknownVersion(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err = reg.PublishVersion(ctx, d.ID, PublishOptions{
		VersionID: "ghost", Mode: publish.ModeView,
	})
	if !errors.Is(err, lifecycle.ErrVersionNotInDataset) {
		t.Fatalf("err = %v, want ErrVersionNotInDataset", err)
	}
}

func TestPublishVersion_RejectsBelowValidated(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err = reg.PublishVersion(ctx, d.ID, PublishOptions{Mode: publish.ModeView})
	if !errors.Is(err, lifecycle.ErrUnsupportedStageForPublish) {
		t.Fatalf("err = %v, want ErrUnsupportedStageForPublish", err)
	}

	got, _ := reg.GetDataset(ctx, d.ID)
	if len(got.Versions) != 2 {
		t.Fatalf("rejected publish committed a version")
	}
}

func TestDiffWithParent_ReportsCleaningEffects(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())

	s, err := reg.DiffWithParent(ctx, d.ID, v.ID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	// rename_columns metadata must pair " amount" -> "amount" instead of
	// reporting an add and a remove.
	if len(s.SchemaChanges.ColumnsRenamed) != 1 {
		t.Fatalf("renamed = %+v", s.SchemaChanges)
	}
	p := s.SchemaChanges.ColumnsRenamed[0]
	if p.From != " amount" || p.To != "amount" {
		t.Fatalf("rename pair = %+v", p)
	}
	if s.RowChanges.RowsV1 != s.RowChanges.RowsV2 {
		t.Fatalf("clean pipeline should preserve row count: %+v", s.RowChanges)
	}
}

func TestDiffWithParent_RawHasNoParent(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = reg.DiffWithParent(ctx, d.ID, d.RawVersionID)
	if !errors.Is(err, lifecycle.ErrNoParentVersion) {
		t.Fatalf("err = %v, want ErrNoParentVersion", err)
	}
}

func TestDiff_SiblingsRejected(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	profiledID := d.ActiveVersionID

	a := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())
	if err := reg.SetActiveVersion(ctx, d.ID, profiledID); err != nil {
		t.Fatalf("set active: %v", err)
	}
	b := mustApply(t, reg, d.ID, stage.Cleaned, nil)

	_, err = reg.Diff(ctx, d.ID, a.ID, b.ID)
	if !errors.Is(err, lifecycle.ErrNoCommonLineage) {
		t.Fatalf("err = %v, want ErrNoCommonLineage", err)
	}
}

func TestDiff_SelfIsEmpty(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	s, err := reg.Diff(ctx, d.ID, d.RawVersionID, d.RawVersionID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if s.HasChanges() {
		t.Fatalf("self diff reported changes: %+v", s)
	}
}

func TestListVersionsAndActiveData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg, _ := newTestRegistry(t)
	d, err := reg.CreateDataset(ctx, "orders", sourceCSV(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cleaned := mustApply(t, reg, d.ID, stage.Cleaned, cleanSpecs())

	versions, err := reg.ListVersions(ctx, d.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 || versions[2].ID != cleaned.ID {
		t.Fatalf("versions = %d, last %s", len(versions), versions[len(versions)-1].ID)
	}

	f, active, err := reg.GetActiveData(ctx, d.ID)
	if err != nil {
		t.Fatalf("active data: %v", err)
	}
	if active.ID != cleaned.ID {
		t.Fatalf("active = %s, want %s", active.ID, cleaned.ID)
	}
	if f.RowCount() != 4 || f.ColumnCount() != 3 {
		t.Fatalf("frame = %dx%d", f.RowCount(), f.ColumnCount())
	}

	if _, err := reg.ListVersions(ctx, "ghost"); !errors.Is(err, lifecycle.ErrDatasetNotFound) {
		t.Fatalf("list on unknown dataset = %v", err)
	}
}
