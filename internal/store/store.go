// Package store provides the append-only schema ledger and the ID allocator.
// Two implementations exist: a NATS JetStream KeyValue store for production
// and an in-memory store for tests and degraded no-NATS operation.
package store

import (
	"context"

	"schemakeeper/internal/schema/types"
)

// Store is the single source of truth for registered schemas. Writes are
// purely additive; the only permitted mutation of a persisted record is
// toggling its active flag.
type Store interface {
	// Put persists a fully-validated record. It fails with a ConflictError
	// if the ID or the (subject, version) pair already exists.
	Put(ctx context.Context, record *types.SchemaRecord) error

	// GetByID returns the record with the given global ID.
	GetByID(ctx context.Context, id uint32) (*types.SchemaRecord, error)

	// GetBySubjectVersion returns one specific version of a subject.
	GetBySubjectVersion(ctx context.Context, subject string, version uint32) (*types.SchemaRecord, error)

	// Latest returns the highest active version of a subject.
	Latest(ctx context.Context, subject string) (*types.SchemaRecord, error)

	// History returns every version of a subject in ascending version
	// order, inactive versions included. Transitive compatibility checks
	// depend on seeing the full history.
	History(ctx context.Context, subject string) ([]*types.SchemaRecord, error)

	// SetActive toggles a version's active flag. Deactivated versions are
	// excluded from Latest but retained in History.
	SetActive(ctx context.Context, subject string, version uint32, active bool) error

	// Subjects lists every subject with at least one version.
	Subjects(ctx context.Context) ([]string, error)
}

// Allocator issues globally unique, strictly increasing schema IDs backed by
// a persisted high-water mark. Concurrent Next calls never return the same
// value, even across process restarts.
type Allocator interface {
	Next(ctx context.Context) (uint32, error)
}

// ConfigStore persists per-subject compatibility modes and schema groups.
// The reserved subject name "global" holds the registry-wide default.
type ConfigStore interface {
	// Mode returns the configured mode for a subject. ok is false when no
	// mode is set for that subject.
	Mode(ctx context.Context, subject string) (mode types.CompatibilityMode, ok bool, err error)

	// SetMode sets the mode for future registrations under a subject. It
	// never re-validates existing versions.
	SetMode(ctx context.Context, subject string, mode types.CompatibilityMode) error

	// AddToGroup adds a subject to a named group, creating the group if
	// needed. Groups are organizational only.
	AddToGroup(ctx context.Context, group, subject string) error

	// Group returns the subjects of a group in sorted order.
	Group(ctx context.Context, group string) ([]string, error)

	// Groups lists all group names in sorted order.
	Groups(ctx context.Context) ([]string, error)
}
