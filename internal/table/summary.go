package table

import (
	"datalab/internal/lifecycle"
)

// Summaries computes the per-column statistics the diff engine aligns:
// null count, distinct count, and mean for numeric columns.
//
// This stands in for the workbench's file-analysis service; the metrics are
// deliberately cheap and recomputable, and the diff engine treats them as
// supplied data rather than calling back in here.
func (f *Frame) Summaries() []lifecycle.ColumnSummary {
	out := make([]lifecycle.ColumnSummary, len(f.Columns))

	for i, c := range f.Columns {
		s := lifecycle.ColumnSummary{Name: c.Name, Type: c.Type}

		distinct := make(map[string]struct{})
		var sum float64
		var numeric int64

		for _, row := range f.Rows {
			v := row[i]
			if v == nil {
				s.NullCount++
				continue
			}
			distinct[CanonicalValue(v)] = struct{}{}
			switch t := v.(type) {
			case int64:
				sum += float64(t)
				numeric++
			case float64:
				sum += t
				numeric++
			}
		}

		s.DistinctCount = int64(len(distinct))
		if numeric > 0 {
			mean := sum / float64(numeric)
			s.Mean = &mean
		}
		out[i] = s
	}
	return out
}
