package lifecycle

import (
	"errors"
	"fmt"

	"datalab/internal/stage"
)

// Sentinel errors shared across the engine. All components wrap these with
// %w so callers can branch with errors.Is regardless of added context.
var (
	// ErrDatasetNotFound indicates a dangling dataset reference.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrVersionNotFound indicates a dangling version reference.
	ErrVersionNotFound = errors.New("version not found")
	// ErrParentNotFound indicates an append whose parent id is not a member
	// of the dataset.
	ErrParentNotFound = errors.New("parent version not found")
	// ErrVersionNotInDataset indicates a version id that exists nowhere in
	// the addressed dataset.
	ErrVersionNotInDataset = errors.New("version does not belong to dataset")
	// ErrInvalidSource indicates a source path that cannot be resolved to a
	// readable artifact.
	ErrInvalidSource = errors.New("invalid source")
	// ErrDatasetBusy indicates an overlapping mutation on the same dataset.
	// Mutations are serialized per dataset; concurrent attempts are rejected,
	// never interleaved.
	ErrDatasetBusy = errors.New("dataset busy")
	// ErrAborted indicates the process-wide abort signal was observed. The
	// aborted operation leaves no partially committed state.
	ErrAborted = errors.New("operation aborted")
	// ErrEmptyParentData indicates the parent version materializes to a
	// frame with no columns, so no pipeline can run against it.
	ErrEmptyParentData = errors.New("parent version has no data")
	// ErrNoParentVersion is informational, not a failure: the version is a
	// lineage root, so a diff against its parent is not meaningful. Callers
	// surface it as guidance rather than an error toast.
	ErrNoParentVersion = errors.New("version has no parent")
	// ErrNoCommonLineage indicates neither version is an ancestor of the
	// other, so no diff is meaningful.
	ErrNoCommonLineage = errors.New("versions share no common lineage")
	// ErrUnsupportedStageForPublish indicates a publish attempt from a stage
	// preceding Validated.
	ErrUnsupportedStageForPublish = errors.New("stage not publishable")
)

// StageTransitionError reports an illegal stage transition with enough
// context (attempted stage, current stage) for the caller to explain the
// restriction to the user.
type StageTransitionError struct {
	From stage.Stage
	To   stage.Stage
}

func (e *StageTransitionError) Error() string {
	return fmt.Sprintf("illegal stage transition: %s -> %s", e.From, e.To)
}

// TransformError reports the failing step of a pipeline. A single step's
// failure aborts the whole pipeline; nothing is committed.
type TransformError struct {
	Step   int
	Type   string
	Reason error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %d (%s) failed: %v", e.Step, e.Type, e.Reason)
}

func (e *TransformError) Unwrap() error { return e.Reason }
