// Package compat implements the compatibility checker: a pure, deterministic
// structural diff between a candidate field model and one or more baseline
// versions under a configured compatibility mode. It has no side effects and
// touches no storage, so it can be tested exhaustively against the policy
// matrix.
package compat

import (
	"fmt"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

// Rule names for violations. A rename is indistinguishable from a
// simultaneous remove+add under structural diffing and surfaces as one
// violation of each.
const (
	RuleFieldAdded   = "field-added"
	RuleFieldRemoved = "field-removed"
	RuleTypeChanged  = "type-changed"
)

// Baseline is one prior version of a subject together with its field model.
type Baseline struct {
	Version uint32
	Active  bool
	Model   *types.FieldModel
}

// Result is the outcome of a compatibility check. An empty violation list
// means the candidate is compatible.
type Result struct {
	Violations []regerr.Violation
}

// Compatible reports whether no violations were found.
func (r Result) Compatible() bool {
	return len(r.Violations) == 0
}

// Check compares candidate against the baselines under mode and returns
// every violation found. Baselines must be in ascending version order.
//
// Non-transitive modes compare against the latest active baseline only.
// Transitive modes compare against the entire history, deactivated versions
// included, since a consumer may still be reading with any of them. All
// baselines are checked even after the first violation so the caller sees
// the complete picture in one round trip.
func Check(candidate *types.FieldModel, baselines []Baseline, mode types.CompatibilityMode) Result {
	if mode == types.None || candidate == nil || candidate.Opaque {
		return Result{}
	}

	set := comparisonSet(baselines, mode)

	var out Result
	for _, b := range set {
		if b.Model == nil || b.Model.Opaque {
			continue
		}
		out.Violations = append(out.Violations, diff(b, candidate, mode)...)
	}
	return out
}

func comparisonSet(baselines []Baseline, mode types.CompatibilityMode) []Baseline {
	if mode.Transitive() {
		return baselines
	}
	for i := len(baselines) - 1; i >= 0; i-- {
		if baselines[i].Active {
			return baselines[i : i+1]
		}
	}
	return nil
}

// diff computes the field-level violations of candidate against a single
// baseline. Field position is ignored; only presence and type matter.
func diff(b Baseline, candidate *types.FieldModel, mode types.CompatibilityMode) []regerr.Violation {
	backward := mode == types.Backward || mode == types.BackwardTransitive ||
		mode == types.Full || mode == types.FullTransitive
	forward := mode == types.Forward || mode == types.ForwardTransitive ||
		mode == types.Full || mode == types.FullTransitive

	var violations []regerr.Violation

	// Fields present in both, and fields removed from the candidate.
	for _, old := range b.Model.Fields {
		cur, exists := candidate.Field(old.Name)
		if !exists {
			if backward && !old.Optional && !old.HasDefault {
				violations = append(violations, regerr.Violation{
					BaselineVersion: b.Version,
					Field:           old.Name,
					Rule:            RuleFieldRemoved,
					Message:         fmt.Sprintf("required field %q with no default removed; readers of version %d data cannot supply it", old.Name, b.Version),
				})
			}
			continue
		}
		if cur.Type != old.Type {
			violations = append(violations, regerr.Violation{
				BaselineVersion: b.Version,
				Field:           old.Name,
				Rule:            RuleTypeChanged,
				Message:         fmt.Sprintf("field %q changed type from %s to %s", old.Name, old.Type, cur.Type),
			})
		}
	}

	// Fields added by the candidate.
	for _, cur := range candidate.Fields {
		if _, exists := b.Model.Field(cur.Name); exists {
			continue
		}
		// Backward: a new reader must be able to fill the field from old
		// data, so it needs to be optional or carry a default. Forward: an
		// old reader must be able to ignore it, which we only trust when it
		// is explicitly optional with a default.
		breaksBackward := backward && !cur.Optional && !cur.HasDefault
		breaksForward := forward && !(cur.Optional && cur.HasDefault)
		if breaksBackward || breaksForward {
			msg := fmt.Sprintf("added field %q must be optional with a default for version %d readers to ignore it", cur.Name, b.Version)
			if breaksBackward {
				msg = fmt.Sprintf("added field %q is neither optional nor defaulted; new readers cannot fill it from version %d data", cur.Name, b.Version)
			}
			violations = append(violations, regerr.Violation{
				BaselineVersion: b.Version,
				Field:           cur.Name,
				Rule:            RuleFieldAdded,
				Message:         msg,
			})
		}
	}

	return violations
}
