// Package types holds the format-agnostic schema model shared by the
// registry core: compatibility modes, the field model produced by format
// analyzers, and the immutable schema record persisted by the store.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Format identifies the schema description language of a definition.
type Format string

const (
	// Avro represents Avro record schemas
	Avro Format = "AVRO"
	// Protobuf represents Protocol Buffers file descriptors
	Protobuf Format = "PROTOBUF"
	// JSON represents JSON Schema
	JSON Format = "JSON"
	// Opaque represents definitions the registry stores but does not diff
	Opaque Format = "OPAQUE"
)

// CompatibilityMode governs which schema changes a subject accepts.
type CompatibilityMode string

const (
	// Backward compatibility: new schema can read data written with the old schema
	Backward CompatibilityMode = "BACKWARD"
	// Forward compatibility: old schema can read data written with the new schema
	Forward CompatibilityMode = "FORWARD"
	// Full compatibility: both backward and forward
	Full CompatibilityMode = "FULL"
	// None: no compatibility checking
	None CompatibilityMode = "NONE"
	// BackwardTransitive checks backward compatibility against every prior version
	BackwardTransitive CompatibilityMode = "BACKWARD_TRANSITIVE"
	// ForwardTransitive checks forward compatibility against every prior version
	ForwardTransitive CompatibilityMode = "FORWARD_TRANSITIVE"
	// FullTransitive checks both directions against every prior version
	FullTransitive CompatibilityMode = "FULL_TRANSITIVE"
)

// Valid reports whether m is a recognized compatibility mode.
func (m CompatibilityMode) Valid() bool {
	switch m {
	case Backward, Forward, Full, None, BackwardTransitive, ForwardTransitive, FullTransitive:
		return true
	}
	return false
}

// Transitive reports whether m compares against the full version history
// instead of just the latest version.
func (m CompatibilityMode) Transitive() bool {
	switch m {
	case BackwardTransitive, ForwardTransitive, FullTransitive:
		return true
	}
	return false
}

// TypeTag names a field's type in analyzer-normalized form
// (e.g. "string", "int", "record:User").
type TypeTag string

// FieldDescriptor describes one field of a schema in format-agnostic form.
// Ordering within a FieldModel is insertion order from the source definition
// and carries no meaning for compatibility comparison.
type FieldDescriptor struct {
	Name       string  `json:"name"`
	Type       TypeTag `json:"type"`
	Optional   bool    `json:"optional,omitempty"`
	HasDefault bool    `json:"has_default,omitempty"`
	Default    any     `json:"default,omitempty"`
}

// FieldModel is the structural representation of a schema used for diffing.
// An opaque model has no fields and always passes compatibility checks.
type FieldModel struct {
	Opaque bool
	Fields []FieldDescriptor
}

// Field returns the descriptor with the given name, if present.
func (m *FieldModel) Field(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Analyzer parses a raw schema definition into a FieldModel. One analyzer is
// registered per Format; the registry core never parses schema syntax itself.
type Analyzer interface {
	Analyze(definition []byte) (*FieldModel, error)
}

// SchemaRecord is one registered schema version. Records are created exactly
// once by a successful registration and are immutable afterwards, except for
// the Inactive flag which soft-retires a version without deleting it.
type SchemaRecord struct {
	ID           uint32            `json:"id"`
	Subject      string            `json:"subject"`
	Version      uint32            `json:"version"`
	Hash         string            `json:"hash"`
	Format       Format            `json:"format"`
	Definition   []byte            `json:"definition"`
	Fields       []FieldDescriptor `json:"fields,omitempty"`
	Inactive     bool              `json:"inactive,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// FieldModel rebuilds the diffable model from the stored descriptors.
func (r *SchemaRecord) FieldModel() *FieldModel {
	return &FieldModel{
		Opaque: r.Format == Opaque,
		Fields: r.Fields,
	}
}

// ComputeHash returns the SHA-256 content hash of a raw definition, hex
// encoded. Byte-identical definitions hash identically, which is what makes
// re-registration idempotent.
func ComputeHash(definition []byte) string {
	h := sha256.Sum256(definition)
	return hex.EncodeToString(h[:])
}
