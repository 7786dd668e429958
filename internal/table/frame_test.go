package table

import (
	"testing"

	"datalab/internal/lifecycle"
)

func sampleFrame() *Frame {
	return &Frame{
		Columns: []lifecycle.ColumnInfo{
			{Name: "id", Type: TypeInt},
			{Name: "name", Type: TypeString},
			{Name: "score", Type: TypeFloat},
		},
		Rows: [][]any{
			{int64(1), "  Alice ", 9.5},
			{int64(2), "BOB", 7.25},
			{int64(3), nil, 8.0},
		},
	}
}

func TestSelect_ReordersAndProjects(t *testing.T) {
	t.Parallel()

	f := sampleFrame()
	out, err := f.Select([]string{"score", "id"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if out.ColumnCount() != 2 || out.Columns[0].Name != "score" || out.Columns[1].Name != "id" {
		t.Fatalf("unexpected schema: %+v", out.Columns)
	}
	if out.Rows[0][0] != 9.5 || out.Rows[0][1] != int64(1) {
		t.Fatalf("unexpected first row: %+v", out.Rows[0])
	}
	// Input is untouched.
	if f.ColumnCount() != 3 {
		t.Fatalf("select mutated its input")
	}
}

func TestSelect_UnknownColumn(t *testing.T) {
	t.Parallel()

	if _, err := sampleFrame().Select([]string{"nope"}); err == nil {
		t.Fatalf("select of unknown column should fail")
	}
}

func TestRename(t *testing.T) {
	t.Parallel()

	out, err := sampleFrame().Rename(map[string]string{"name": "full_name"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if out.Columns[1].Name != "full_name" {
		t.Fatalf("rename did not apply: %+v", out.Columns)
	}
	if _, err := sampleFrame().Rename(map[string]string{"ghost": "x"}); err == nil {
		t.Fatalf("rename of unknown column should fail")
	}
}

func TestDropNulls(t *testing.T) {
	t.Parallel()

	out, err := sampleFrame().DropNulls([]string{"name"})
	if err != nil {
		t.Fatalf("drop_nulls: %v", err)
	}
	if out.RowCount() != 2 {
		t.Fatalf("row count = %d, want 2", out.RowCount())
	}

	// nil list means any column.
	out, err = sampleFrame().DropNulls(nil)
	if err != nil {
		t.Fatalf("drop_nulls(nil): %v", err)
	}
	if out.RowCount() != 2 {
		t.Fatalf("row count = %d, want 2", out.RowCount())
	}
}

func TestSort_StableWithNullsFirst(t *testing.T) {
	t.Parallel()

	f := &Frame{
		Columns: []lifecycle.ColumnInfo{{Name: "v", Type: TypeInt}, {Name: "tag", Type: TypeString}},
		Rows: [][]any{
			{int64(2), "a"},
			{nil, "b"},
			{int64(1), "c"},
			{int64(2), "d"},
		},
	}
	out, err := f.Sort([]string{"v"}, nil)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if out.Rows[0][1] != "b" {
		t.Fatalf("null should sort first, got %+v", out.Rows[0])
	}
	if out.Rows[1][0] != int64(1) {
		t.Fatalf("ascending order broken: %+v", out.Rows)
	}
	// Equal keys keep input order (stability).
	if out.Rows[2][1] != "a" || out.Rows[3][1] != "d" {
		t.Fatalf("sort not stable: %+v", out.Rows)
	}

	desc, err := f.Sort([]string{"v"}, []bool{true})
	if err != nil {
		t.Fatalf("sort desc: %v", err)
	}
	if desc.Rows[len(desc.Rows)-1][1] != "b" {
		t.Fatalf("null should sort last in descending order: %+v", desc.Rows)
	}
}

func TestClean_TrimLowerEmptyAsNull(t *testing.T) {
	t.Parallel()

	out, err := sampleFrame().Clean(map[string]CleanConfig{
		"name": {TrimSpace: true, Lowercase: true},
	}, false)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if out.Rows[0][1] != "alice" || out.Rows[1][1] != "bob" {
		t.Fatalf("trim/lower not applied: %+v", out.Rows)
	}

	f := &Frame{
		Columns: []lifecycle.ColumnInfo{{Name: "s", Type: TypeString}},
		Rows:    [][]any{{"  "}, {"x"}},
	}
	out, err = f.Clean(map[string]CleanConfig{"s": {TrimSpace: true, EmptyAsNull: true}}, false)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if out.Rows[0][0] != nil {
		t.Fatalf("empty string should become null, got %v", out.Rows[0][0])
	}
}

func TestClean_CastChangesSchema(t *testing.T) {
	t.Parallel()

	f := &Frame{
		Columns: []lifecycle.ColumnInfo{{Name: "n", Type: TypeString}},
		Rows:    [][]any{{"42"}, {"7"}},
	}
	out, err := f.Clean(map[string]CleanConfig{"n": {Cast: TypeInt}}, false)
	if err != nil {
		t.Fatalf("clean cast: %v", err)
	}
	if out.Columns[0].Type != TypeInt {
		t.Fatalf("cast should update column type, got %s", out.Columns[0].Type)
	}
	if out.Rows[0][0] != int64(42) {
		t.Fatalf("cast not applied: %v", out.Rows[0][0])
	}

	if _, err := f.Clean(map[string]CleanConfig{"n": {Cast: "decimal"}}, false); err == nil {
		t.Fatalf("unknown cast target should fail")
	}
}

func TestClean_RestrictedSkipsCasts(t *testing.T) {
	t.Parallel()

	f := &Frame{
		Columns: []lifecycle.ColumnInfo{{Name: "n", Type: TypeString}},
		Rows:    [][]any{{" 42 "}},
	}
	out, err := f.Clean(map[string]CleanConfig{"n": {TrimSpace: true, Cast: TypeInt}}, true)
	if err != nil {
		t.Fatalf("restricted clean: %v", err)
	}
	if out.Columns[0].Type != TypeString {
		t.Fatalf("restricted clean must not change schema, got %s", out.Columns[0].Type)
	}
	if out.Rows[0][0] != "42" {
		t.Fatalf("trim should still apply, got %v", out.Rows[0][0])
	}
}

func TestCanonicalValue(t *testing.T) {
	t.Parallel()

	cases := map[any]string{
		nil:      "",
		int64(5): "5",
		2.5:      "2.5",
		true:     "true",
		"plain":  "plain",
		false:    "false",
	}
	for in, want := range cases {
		if got := CanonicalValue(in); got != want {
			t.Fatalf("CanonicalValue(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	f := &Frame{
		Columns: []lifecycle.ColumnInfo{
			{Name: "n", Type: TypeInt},
			{Name: "s", Type: TypeString},
		},
		Rows: [][]any{
			{int64(1), "a"},
			{int64(3), "a"},
			{nil, "b"},
		},
	}
	sums := f.Summaries()
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	n := sums[0]
	if n.NullCount != 1 || n.DistinctCount != 2 {
		t.Fatalf("numeric summary wrong: %+v", n)
	}
	if n.Mean == nil || *n.Mean != 2.0 {
		t.Fatalf("mean = %v, want 2.0", n.Mean)
	}
	s := sums[1]
	if s.Mean != nil {
		t.Fatalf("string column must not carry a mean")
	}
	if s.DistinctCount != 2 {
		t.Fatalf("string distinct = %d, want 2", s.DistinctCount)
	}
}
