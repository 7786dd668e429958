// Package diff compares two dataset versions: schema membership, row
// counts, and per-column summary statistics.
//
// The comparison is read-only and pure: it consumes schemas and summaries
// already materialized by the caller and never touches storage, so the same
// version pair always diffs to the same result.
//
// Rename detection is best-effort. Explicit rename metadata carried by the
// newer version's pipeline is trusted; without it, removed/added pairs are
// matched by a statistical fingerprint, and ambiguous candidates degrade to
// plain add/remove rather than guessing. API consumers must treat
// ColumnsRenamed as a heuristic, not a guarantee.
package diff

import (
	"fmt"
	"math"

	"github.com/zeebo/xxh3"

	"datalab/internal/lifecycle"
)

// DefaultThresholdPercent is the materiality threshold for statistical
// changes when the caller does not supply one: metric deltas under 1%
// relative change are noise for workbench display purposes.
const DefaultThresholdPercent = 1.0

// VersionView is the caller-materialized picture of one version.
type VersionView struct {
	ID        string
	RowCount  int64
	Schema    []lifecycle.ColumnInfo
	Summaries []lifecycle.ColumnSummary
}

// Options tunes the comparison.
type Options struct {
	// ThresholdPercent is the minimum relative change (percent) for a
	// statistical difference to be reported. <= 0 selects the default.
	ThresholdPercent float64

	// RenameHints maps old -> new column names, sourced from explicit
	// rename_columns metadata in the newer version's pipeline. Hints take
	// precedence over fingerprint matching.
	RenameHints map[string]string
}

// Summary is the result of comparing two versions.
type Summary struct {
	Version1ID         string              `json:"version1_id"`
	Version2ID         string              `json:"version2_id"`
	SchemaChanges      SchemaChanges       `json:"schema_changes"`
	RowChanges         RowChanges          `json:"row_changes"`
	StatisticalChanges []StatisticalChange `json:"statistical_changes"`
}

// SchemaChanges lists column membership differences between versions.
type SchemaChanges struct {
	ColumnsAdded   []string     `json:"columns_added"`
	ColumnsRemoved []string     `json:"columns_removed"`
	ColumnsRenamed []RenamePair `json:"columns_renamed"`
	TypeChanges    []TypeChange `json:"type_changes"`
}

// RenamePair records one detected rename, oldest-detected first.
type RenamePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TypeChange records a declared-type change for a column present in both
// versions.
type TypeChange struct {
	Column  string `json:"column"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

// RowChanges carries the raw counts; callers compute the delta.
type RowChanges struct {
	RowsV1 int64 `json:"rows_v1"`
	RowsV2 int64 `json:"rows_v2"`
}

// StatisticalChange is one metric whose relative change exceeded the
// materiality threshold for a column present in both versions.
type StatisticalChange struct {
	Column        string   `json:"column"`
	Metric        string   `json:"metric"`
	ValueV1       *float64 `json:"value_v1"`
	ValueV2       *float64 `json:"value_v2"`
	ChangePercent *float64 `json:"change_percent"`
}

// HasChanges reports whether the summary contains anything worth surfacing.
func (s *Summary) HasChanges() bool {
	return len(s.SchemaChanges.ColumnsAdded) > 0 ||
		len(s.SchemaChanges.ColumnsRemoved) > 0 ||
		len(s.SchemaChanges.ColumnsRenamed) > 0 ||
		len(s.SchemaChanges.TypeChanges) > 0 ||
		s.RowChanges.RowsV1 != s.RowChanges.RowsV2 ||
		len(s.StatisticalChanges) > 0
}

// Compute diffs v2 against v1.
//
// Comparing a version with itself yields an empty summary with equal row
// counts; that is an expected call pattern, not an error.
func Compute(v1, v2 VersionView, opts Options) *Summary {
	out := &Summary{
		Version1ID: v1.ID,
		Version2ID: v2.ID,
		RowChanges: RowChanges{RowsV1: v1.RowCount, RowsV2: v2.RowCount},
		SchemaChanges: SchemaChanges{
			ColumnsAdded:   []string{},
			ColumnsRemoved: []string{},
			ColumnsRenamed: []RenamePair{},
			TypeChanges:    []TypeChange{},
		},
		StatisticalChanges: []StatisticalChange{},
	}

	if v1.ID == v2.ID {
		return out
	}

	types1 := make(map[string]string, len(v1.Schema))
	for _, c := range v1.Schema {
		types1[c.Name] = c.Type
	}
	types2 := make(map[string]string, len(v2.Schema))
	for _, c := range v2.Schema {
		types2[c.Name] = c.Type
	}

	// Removed in v1 schema order, added in v2 schema order: deterministic
	// without imposing a lexical sort the UI would have to undo.
	var removed, added []string
	for _, c := range v1.Schema {
		if _, ok := types2[c.Name]; !ok {
			removed = append(removed, c.Name)
		}
	}
	for _, c := range v2.Schema {
		if _, ok := types1[c.Name]; !ok {
			added = append(added, c.Name)
		}
	}

	renamed, removed, added := detectRenames(removed, added, v1, v2, opts.RenameHints)
	out.SchemaChanges.ColumnsRemoved = removed
	out.SchemaChanges.ColumnsAdded = added
	out.SchemaChanges.ColumnsRenamed = renamed

	for _, c := range v1.Schema {
		t2, ok := types2[c.Name]
		if ok && t2 != c.Type {
			out.SchemaChanges.TypeChanges = append(out.SchemaChanges.TypeChanges, TypeChange{
				Column: c.Name, OldType: c.Type, NewType: t2,
			})
		}
	}

	out.StatisticalChanges = statisticalChanges(v1, v2, opts.ThresholdPercent)
	return out
}

// fingerprint condenses the stable statistical identity of a column into a
// cheap hash: declared type, null profile, distinct cardinality. Rename
// candidates match only when fingerprints agree uniquely on both sides.
func fingerprint(s lifecycle.ColumnSummary) uint64 {
	return xxh3.HashString(fmt.Sprintf("%s|%d|%d", s.Type, s.NullCount, s.DistinctCount))
}

func detectRenames(removed, added []string, v1, v2 VersionView, hints map[string]string) (pairs []RenamePair, remLeft, addLeft []string) {
	pairs = []RenamePair{}
	addedSet := make(map[string]bool, len(added))
	for _, a := range added {
		addedSet[a] = true
	}
	claimed := make(map[string]bool)

	// Pass 1: explicit rename metadata wins outright.
	for _, old := range removed {
		if nn, ok := hints[old]; ok && addedSet[nn] && !claimed[nn] {
			pairs = append(pairs, RenamePair{From: old, To: nn})
			claimed[nn] = true
		}
	}

	// Pass 2: fingerprint matching for the remainder. A fingerprint that
	// matches more than one candidate on either side is ambiguous and is
	// left as a plain add/remove.
	sum1 := make(map[string]lifecycle.ColumnSummary, len(v1.Summaries))
	for _, s := range v1.Summaries {
		sum1[s.Name] = s
	}
	sum2 := make(map[string]lifecycle.ColumnSummary, len(v2.Summaries))
	for _, s := range v2.Summaries {
		sum2[s.Name] = s
	}

	matched := make(map[string]string) // old -> new
	for _, p := range pairs {
		matched[p.From] = p.To
	}

	fpCount2 := make(map[uint64]int)
	fpCol2 := make(map[uint64]string)
	for _, a := range added {
		if claimed[a] {
			continue
		}
		if s, ok := sum2[a]; ok {
			fp := fingerprint(s)
			fpCount2[fp]++
			fpCol2[fp] = a
		}
	}
	fpCount1 := make(map[uint64]int)
	for _, old := range removed {
		if _, ok := matched[old]; ok {
			continue
		}
		if s, ok := sum1[old]; ok {
			fpCount1[fingerprint(s)]++
		}
	}

	for _, old := range removed {
		if _, ok := matched[old]; ok {
			continue
		}
		s, ok := sum1[old]
		if !ok {
			continue
		}
		fp := fingerprint(s)
		if fpCount1[fp] == 1 && fpCount2[fp] == 1 {
			nn := fpCol2[fp]
			pairs = append(pairs, RenamePair{From: old, To: nn})
			matched[old] = nn
			claimed[nn] = true
		}
	}

	remLeft = []string{}
	for _, old := range removed {
		if _, ok := matched[old]; !ok {
			remLeft = append(remLeft, old)
		}
	}
	addLeft = []string{}
	for _, a := range added {
		if !claimed[a] {
			addLeft = append(addLeft, a)
		}
	}
	return pairs, remLeft, addLeft
}

func statisticalChanges(v1, v2 VersionView, threshold float64) []StatisticalChange {
	if threshold <= 0 {
		threshold = DefaultThresholdPercent
	}

	sum2 := make(map[string]lifecycle.ColumnSummary, len(v2.Summaries))
	for _, s := range v2.Summaries {
		sum2[s.Name] = s
	}

	changes := []StatisticalChange{}
	for _, s1 := range v1.Summaries {
		s2, ok := sum2[s1.Name]
		if !ok {
			continue
		}

		appendChange := func(metric string, a, b *float64) {
			if a == nil || b == nil {
				return
			}
			var pct *float64
			switch {
			case *a != 0:
				p := (*b - *a) / math.Abs(*a) * 100.0
				if math.Abs(p) < threshold {
					return
				}
				pct = &p
			case *b == 0:
				return // 0 -> 0, no change
			}
			av, bv := *a, *b
			changes = append(changes, StatisticalChange{
				Column: s1.Name, Metric: metric,
				ValueV1: &av, ValueV2: &bv, ChangePercent: pct,
			})
		}

		n1 := float64(s1.NullCount)
		n2 := float64(s2.NullCount)
		d1 := float64(s1.DistinctCount)
		d2 := float64(s2.DistinctCount)

		appendChange("mean", s1.Mean, s2.Mean)
		appendChange("null_count", &n1, &n2)
		appendChange("distinct_count", &d1, &d2)
	}
	return changes
}
