// Package stage encodes the dataset lifecycle stage ordering and the rules
// that govern which transitions a new version may take.
//
// The gate here is authoritative: callers (UI, CLI) may compute advisory
// "locked" hints with Locked, but legality of a transition is decided only by
// CanTransition at apply time.
package stage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is one step in the fixed lifecycle progression.
//
// The order is total: Raw < Profiled < Cleaned < Advanced < Validated < Published.
type Stage int

const (
	// Raw is the immutable original ingestion. It exists only as the
	// lineage root and is never a transition target.
	Raw Stage = iota
	// Profiled is the inspection stage: statistics computed, no content mutation.
	Profiled
	// Cleaned holds deterministic text/type transformations.
	Cleaned
	// Advanced holds heavier preprocessing (imputation, outliers, features).
	Advanced
	// Validated means quality gates passed; the only stage publishable from.
	Validated
	// Published is terminal. No further versions may derive from it.
	Published
)

var stageNames = [...]string{
	Raw:       "Raw",
	Profiled:  "Profiled",
	Cleaned:   "Cleaned",
	Advanced:  "Advanced",
	Validated: "Validated",
	Published: "Published",
}

// All lists every stage in lifecycle order.
func All() []Stage {
	return []Stage{Raw, Profiled, Cleaned, Advanced, Validated, Published}
}

func (s Stage) valid() bool { return s >= Raw && s <= Published }

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Parse resolves a stage from its name, case-insensitively.
func Parse(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "raw":
		return Raw, nil
	case "profiled":
		return Profiled, nil
	case "cleaned":
		return Cleaned, nil
	case "advanced":
		return Advanced, nil
	case "validated":
		return Validated, nil
	case "published":
		return Published, nil
	}
	return Raw, fmt.Errorf("unknown stage %q", name)
}

// MarshalJSON encodes the stage as its name so persisted records and wire
// payloads stay readable and stable across reorderings of the enum.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Next returns the immediate successor stage and false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	if s >= Published || !s.valid() {
		return s, false
	}
	return s + 1, true
}

// CanTransition reports whether a version at parent stage may produce a child
// at target stage.
//
// Legal moves:
//   - the immediate successor of parent (normal forward progression), or
//   - any stage at or below parent except the parent's own stage (branch/redo
//     from an earlier point in the lineage).
//
// Never legal:
//   - Raw as a target (it only exists as the lineage root),
//   - the same stage as the parent (a no-op request),
//   - anything out of Published (terminal).
func CanTransition(parent, target Stage) bool {
	if !parent.valid() || !target.valid() {
		return false
	}
	if parent == Published {
		return false
	}
	if target == Raw || target == parent {
		return false
	}
	if next, ok := parent.Next(); ok && target == next {
		return true
	}
	return target < parent
}

// IsReadOnly reports whether versions at this stage allow content mutation.
// Raw and Profiled are inspection-only; Published is terminal and therefore
// implicitly read-only.
func IsReadOnly(s Stage) bool {
	switch s {
	case Raw, Profiled, Published:
		return true
	default:
		return false
	}
}

// Locked reports whether target should be gated off for activation/editing
// given the set of stages present along the dataset's current active lineage.
//
// A stage is locked until a version exists at every predecessor stage. This
// is an advisory signal for UI affordances; CanTransition remains the
// authoritative check at apply time.
func Locked(target Stage, present map[Stage]bool) bool {
	if !target.valid() {
		return true
	}
	for s := Raw; s < target; s++ {
		if !present[s] {
			return true
		}
	}
	return false
}
