// Package transform implements the pipeline executor: an ordered list of
// TransformSpecs applied to a parent version's materialized frame.
//
// Transforms are registered by type name, mirroring the storage backend
// registry: builtins register themselves at init time and specs are resolved
// at run time, so stored pipelines (which are plain JSON) stay decoupled
// from the functions that execute them.
//
// Every transform must be a pure, deterministic function of (frame, params):
// same parent data + same spec list = same schema and row count on every
// replay. Nothing here may consult the wall clock or map iteration order.
package transform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"datalab/internal/abort"
	"datalab/internal/lifecycle"
	"datalab/internal/table"
)

// Func applies one transform to a frame and returns the resulting frame.
// Implementations must not mutate the input frame's rows.
type Func func(f *table.Frame, params Params) (*table.Frame, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Func{}
)

// Register installs a transform under a type name.
//
// Call from an init() function. Registering an empty name, a nil func, or a
// duplicate name panics: failing fast beats ambiguous pipeline resolution.
func Register(name string, fn Func) {
	regMu.Lock()
	defer regMu.Unlock()

	if name == "" {
		panic("transform: Register called with empty name")
	}
	if fn == nil {
		panic("transform: Register called with nil func")
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("transform: already registered: %q", name))
	}
	registry[name] = fn
}

func lookup(name string) (Func, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Registered lists the registered transform type names, sorted.
func Registered() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run executes specs in order against f, each step consuming the prior
// step's output.
//
// The abort signal (and ctx) is polled before every step; on abort the
// partial result is discarded and lifecycle.ErrAborted returned. A failing
// step aborts the whole pipeline with a lifecycle.TransformError carrying
// the step index — there are no partial commits at this layer or above.
func Run(ctx context.Context, sig *abort.Signal, f *table.Frame, specs []lifecycle.TransformSpec) (*table.Frame, error) {
	cur := f
	for i, spec := range specs {
		if sig != nil && sig.Aborted() {
			return nil, lifecycle.ErrAborted
		}
		if ctx.Err() != nil {
			return nil, lifecycle.ErrAborted
		}

		fn, ok := lookup(spec.Type)
		if !ok {
			return nil, &lifecycle.TransformError{
				Step: i, Type: spec.Type,
				Reason: fmt.Errorf("unknown transform type"),
			}
		}

		next, err := fn(cur, Params(spec.Parameters))
		if err != nil {
			return nil, &lifecycle.TransformError{Step: i, Type: spec.Type, Reason: err}
		}
		cur = next
	}
	return cur, nil
}

// IsNoOp reports whether applying specs to a parent at parentStage would
// leave the data byte-identical, meaning the new version can reuse the
// parent's data location instead of rewriting an artifact.
//
// Detected cases:
//   - empty pipeline (metadata-only stages such as Profiled),
//   - a single select_columns step: column projection is applied lazily at
//     load time from the stored pipeline, so no rewrite is needed,
//   - a single restricted clean on a Cleaned parent: the restricted pass
//     performs no schema or content changes on already-cleaned data.
func IsNoOp(specs []lifecycle.TransformSpec, parentStage string) bool {
	if len(specs) == 0 {
		return true
	}
	if len(specs) != 1 {
		return false
	}
	switch specs[0].Type {
	case "select_columns":
		return true
	case "clean":
		restricted, _ := Params(specs[0].Parameters).Bool("restricted")
		return restricted && parentStage == "Cleaned"
	}
	return false
}

// Replay re-applies a committed version's stored pipeline lazily at load
// time. Versions that reuse a parent's data location (see IsNoOp) rely on
// this to present the transformed view of the shared bytes.
func Replay(ctx context.Context, f *table.Frame, specs []lifecycle.TransformSpec) (*table.Frame, error) {
	return Run(ctx, nil, f, specs)
}
