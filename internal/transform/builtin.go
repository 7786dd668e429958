package transform

import (
	"fmt"

	"datalab/internal/table"
)

// Builtin transforms. Each is a thin adapter from a TransformSpec parameter bag
// to the corresponding frame operation; the column-level work itself lives
// in internal/table.

func init() {
	Register("select_columns", selectColumns)
	Register("clean", clean)
	Register("rename_columns", renameColumns)
	Register("drop_nulls", dropNulls)
	Register("sort", sortRows)
	Register("filter_rows", filterRows)
}

func selectColumns(f *table.Frame, params Params) (*table.Frame, error) {
	cols, err := params.Strings("columns")
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("columns must not be empty")
	}
	return f.Select(cols)
}

func clean(f *table.Frame, params Params) (*table.Frame, error) {
	var configs map[string]table.CleanConfig
	if err := params.decode("configs", &configs); err != nil {
		return nil, err
	}
	restricted, err := params.Bool("restricted")
	if err != nil {
		return nil, err
	}
	return f.Clean(configs, restricted)
}

func renameColumns(f *table.Frame, params Params) (*table.Frame, error) {
	mapping, err := params.StringMap("mapping")
	if err != nil {
		return nil, err
	}
	return f.Rename(mapping)
}

func dropNulls(f *table.Frame, params Params) (*table.Frame, error) {
	cols, err := params.StringsOptional("columns")
	if err != nil {
		return nil, err
	}
	return f.DropNulls(cols)
}

func sortRows(f *table.Frame, params Params) (*table.Frame, error) {
	by, err := params.Strings("by_columns")
	if err != nil {
		return nil, err
	}
	desc, err := params.Bools("descending")
	if err != nil {
		return nil, err
	}
	return f.Sort(by, desc)
}

// filter_rows is registered so stored pipelines referencing it resolve, but
// condition parsing is not implemented yet. Specs using it fail loudly with
// the condition echoed back instead of silently passing data through.
func filterRows(_ *table.Frame, params Params) (*table.Frame, error) {
	cond, _ := params["condition"].(string)
	return nil, fmt.Errorf("filter_rows is not supported (condition: %q)", cond)
}
