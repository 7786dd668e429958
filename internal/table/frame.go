// Package table is the local columnar engine the lifecycle registry
// orchestrates: it materializes version data from a DataLocation, applies
// column-level operations (select, clean, rename, drop-nulls, sort), writes
// generated artifacts, and produces the schema/summary views consumed by the
// diff engine.
//
// Frames are small enough to hold in memory for a desktop workbench; the
// package keeps every operation deterministic (no wall clock, no map-order
// dependence) so pipeline replay reproduces byte-identical outcomes.
package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"datalab/internal/lifecycle"
)

// Column types a Frame can carry. Inference picks the narrowest type that
// fits every non-null cell.
const (
	TypeInt    = "int64"
	TypeFloat  = "float64"
	TypeBool   = "bool"
	TypeString = "string"
)

// Frame is a fully materialized columnar dataset.
//
// Cells are nil (null), string, int64, float64, or bool. Rows are positional
// and aligned with Columns.
type Frame struct {
	Columns []lifecycle.ColumnInfo
	Rows    [][]any
}

// RowCount returns the number of data rows.
func (f *Frame) RowCount() int64 { return int64(len(f.Rows)) }

// ColumnCount returns the number of columns.
func (f *Frame) ColumnCount() int { return len(f.Columns) }

// Schema returns a copy of the column name/type pairs.
func (f *Frame) Schema() []lifecycle.ColumnInfo {
	out := make([]lifecycle.ColumnInfo, len(f.Columns))
	copy(out, f.Columns)
	return out
}

func (f *Frame) columnIndex(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Select keeps only the named columns, in the given order.
func (f *Frame) Select(names []string) (*Frame, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := f.columnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("select: unknown column %q", n)
		}
		idx[i] = j
	}

	out := &Frame{Columns: make([]lifecycle.ColumnInfo, len(idx))}
	for i, j := range idx {
		out.Columns[i] = f.Columns[j]
	}
	out.Rows = make([][]any, len(f.Rows))
	for r, row := range f.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// Rename maps old column names to new ones. Names absent from the mapping
// pass through unchanged. Unknown keys in the mapping are rejected so a
// stored pipeline cannot silently diverge from the data it was built for.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	for old := range mapping {
		if f.columnIndex(old) < 0 {
			return nil, fmt.Errorf("rename: unknown column %q", old)
		}
	}

	out := &Frame{Columns: make([]lifecycle.ColumnInfo, len(f.Columns)), Rows: f.Rows}
	for i, c := range f.Columns {
		if nn, ok := mapping[c.Name]; ok {
			c.Name = nn
		}
		out.Columns[i] = c
	}
	return out, nil
}

// DropNulls removes rows holding a null in any of the named columns. A nil
// or empty name list means "null in any column".
func (f *Frame) DropNulls(names []string) (*Frame, error) {
	var idx []int
	if len(names) == 0 {
		idx = make([]int, len(f.Columns))
		for i := range idx {
			idx[i] = i
		}
	} else {
		for _, n := range names {
			j := f.columnIndex(n)
			if j < 0 {
				return nil, fmt.Errorf("drop_nulls: unknown column %q", n)
			}
			idx = append(idx, j)
		}
	}

	out := &Frame{Columns: f.Schema()}
	for _, row := range f.Rows {
		keep := true
		for _, j := range idx {
			if row[j] == nil {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Sort orders rows by the named columns. desc aligns positionally with by;
// missing entries default to ascending. The sort is stable so replays are
// byte-identical regardless of input order ties.
func (f *Frame) Sort(by []string, desc []bool) (*Frame, error) {
	idx := make([]int, len(by))
	for i, n := range by {
		j := f.columnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("sort: unknown column %q", n)
		}
		idx[i] = j
	}

	out := &Frame{Columns: f.Schema(), Rows: make([][]any, len(f.Rows))}
	copy(out.Rows, f.Rows)

	sort.SliceStable(out.Rows, func(a, b int) bool {
		for i, j := range idx {
			c := compareCells(out.Rows[a][j], out.Rows[b][j])
			if c == 0 {
				continue
			}
			if i < len(desc) && desc[i] {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out, nil
}

// compareCells orders nulls first, then same-type values naturally, then
// everything else by canonical string form. Total and deterministic.
func compareCells(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(CanonicalValue(a), CanonicalValue(b))
}

// CleanConfig describes deterministic per-column cleaning. Zero value is a
// no-op for the column.
type CleanConfig struct {
	TrimSpace        bool   `json:"trim_space"`
	Lowercase        bool   `json:"lowercase"`
	NormalizeUnicode bool   `json:"normalize_unicode"` // NFC
	EmptyAsNull      bool   `json:"empty_as_null"`
	Cast             string `json:"cast,omitempty"` // "", int64, float64, bool, string
}

// Clean applies per-column cleaning configs keyed by column name.
//
// When restricted is true only whitespace/normalization operations run; type
// casts are skipped. That mirrors the advisory pass used on the transition
// into the Advanced stage, which must not change the schema.
func (f *Frame) Clean(configs map[string]CleanConfig, restricted bool) (*Frame, error) {
	type target struct {
		idx int
		cfg CleanConfig
	}
	var targets []target
	for name, cfg := range configs {
		j := f.columnIndex(name)
		if j < 0 {
			return nil, fmt.Errorf("clean: unknown column %q", name)
		}
		targets = append(targets, target{idx: j, cfg: cfg})
	}
	// Map iteration order must not leak into error messages or application
	// order; sort by column position.
	sort.Slice(targets, func(a, b int) bool { return targets[a].idx < targets[b].idx })

	out := &Frame{Columns: f.Schema(), Rows: make([][]any, len(f.Rows))}
	for r, row := range f.Rows {
		nr := make([]any, len(row))
		copy(nr, row)
		out.Rows[r] = nr
	}

	for _, t := range targets {
		for _, row := range out.Rows {
			v, err := cleanCell(row[t.idx], t.cfg, restricted)
			if err != nil {
				return nil, fmt.Errorf("clean column %q: %w", f.Columns[t.idx].Name, err)
			}
			row[t.idx] = v
		}
		if !restricted && t.cfg.Cast != "" {
			out.Columns[t.idx].Type = t.cfg.Cast
		}
	}
	return out, nil
}

func cleanCell(v any, cfg CleanConfig, restricted bool) (any, error) {
	s, isStr := v.(string)
	if isStr {
		if cfg.TrimSpace {
			s = strings.TrimSpace(s)
		}
		if cfg.Lowercase {
			s = strings.ToLower(s)
		}
		if cfg.NormalizeUnicode {
			s = norm.NFC.String(s)
		}
		if cfg.EmptyAsNull && s == "" {
			return nil, nil
		}
		v = s
	}
	if restricted || cfg.Cast == "" || v == nil {
		return v, nil
	}
	return castCell(v, cfg.Cast)
}

func castCell(v any, to string) (any, error) {
	s := CanonicalValue(v)
	switch to {
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to int64", s)
		}
		return n, nil
	case TypeFloat:
		fv, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to float64", s)
		}
		return fv, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to bool", s)
		}
		return b, nil
	case TypeString:
		return s, nil
	}
	return nil, fmt.Errorf("unknown cast target %q", to)
}

// CanonicalValue renders a cell in its stable textual form. Artifacts,
// hashes, and fingerprints all go through here so a value formats the same
// way everywhere, on every replay.
func CanonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}
