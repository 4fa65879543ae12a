// Package opaque is the fallback analyzer for formats the registry does not
// understand. Definitions are stored and versioned unexamined; compatibility
// checks against opaque models trivially pass.
package opaque

import "schemakeeper/internal/schema/types"

// Analyzer implements types.Analyzer for opaque definitions.
type Analyzer struct{}

// New creates an opaque analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze accepts any byte sequence and produces an opaque field model.
func (a *Analyzer) Analyze([]byte) (*types.FieldModel, error) {
	return &types.FieldModel{Opaque: true}, nil
}
