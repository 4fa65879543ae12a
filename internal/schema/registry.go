// Package schema implements the registry core: the subject manager that
// owns version sequencing, compatibility enforcement, and idempotent
// registration on top of the schema store and ID allocator.
package schema

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"schemakeeper/internal/compat"
	"schemakeeper/internal/metrics"
	"schemakeeper/internal/regerr"
	avroformat "schemakeeper/internal/schema/formats/avro"
	jsonformat "schemakeeper/internal/schema/formats/json"
	"schemakeeper/internal/schema/formats/opaque"
	protoformat "schemakeeper/internal/schema/formats/protobuf"
	"schemakeeper/internal/schema/types"
	"schemakeeper/internal/store"
)

// DefaultMode is applied to subjects with no configured compatibility mode.
// NONE is deliberately not the default.
const DefaultMode = types.Backward

// lockShards bounds registration concurrency per subject without a global
// lock: unrelated subjects almost never share a shard.
const lockShards = 64

// Registered is the outcome of a successful registration.
type Registered struct {
	ID      uint32 `json:"id"`
	Version uint32 `json:"version"`
}

// Registry is the subject/group manager. It serializes registrations per
// subject and is otherwise safe for unbounded concurrent reads.
type Registry struct {
	store     store.Store
	config    store.ConfigStore
	allocator store.Allocator
	analyzers map[types.Format]types.Analyzer
	opaque    types.Analyzer
	locks     [lockShards]sync.Mutex
}

// New creates a registry over the given store, config store, and allocator,
// with the built-in analyzers for Avro, JSON Schema, and Protobuf installed.
// Unknown formats fall back to opaque handling.
func New(st store.Store, cfg store.ConfigStore, alloc store.Allocator) *Registry {
	return &Registry{
		store:     st,
		config:    cfg,
		allocator: alloc,
		analyzers: map[types.Format]types.Analyzer{
			types.Avro:     avroformat.New(),
			types.JSON:     jsonformat.New(),
			types.Protobuf: protoformat.New(),
		},
		opaque: opaque.New(),
	}
}

func (r *Registry) analyzer(format types.Format) types.Analyzer {
	if a, ok := r.analyzers[format]; ok {
		return a
	}
	return r.opaque
}

func (r *Registry) lockFor(subject string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return &r.locks[h.Sum32()%lockShards]
}

// Register validates, checks, and persists a new schema version under a
// subject. Byte-identical re-registration returns the existing ID and
// version without creating anything. The read-check-allocate-append sequence
// runs as one critical section per subject, so concurrent registrations
// under the same subject cannot both observe the same latest version.
func (r *Registry) Register(ctx context.Context, subject string, definition []byte, format types.Format) (*Registered, error) {
	start := time.Now()
	defer func() { metrics.RegistrationDuration.Observe(time.Since(start).Seconds()) }()

	model, err := r.analyzer(format).Analyze(definition)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(string(format), "parse_error").Inc()
		return nil, &regerr.ParseError{Format: string(format), Err: err}
	}

	lock := r.lockFor(subject)
	lock.Lock()
	defer lock.Unlock()

	history, err := r.store.History(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", subject, err)
	}

	hash := types.ComputeHash(definition)
	for _, rec := range history {
		if rec.Hash == hash && rec.Format == format {
			slog.Debug("idempotent re-registration", "subject", subject, "id", rec.ID, "version", rec.Version)
			metrics.RegistrationsTotal.WithLabelValues(string(format), "idempotent").Inc()
			return &Registered{ID: rec.ID, Version: rec.Version}, nil
		}
	}

	mode, err := r.ModeFor(ctx, subject)
	if err != nil {
		return nil, err
	}

	result := compat.Check(model, baselines(history), mode)
	if !result.Compatible() {
		slog.Info("schema rejected", "subject", subject, "mode", mode, "violations", len(result.Violations))
		metrics.RegistrationsTotal.WithLabelValues(string(format), "rejected").Inc()
		metrics.CompatibilityViolations.Add(float64(len(result.Violations)))
		return nil, &regerr.RejectedError{Subject: subject, Mode: string(mode), Violations: result.Violations}
	}

	id, err := r.allocator.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate schema ID: %w", err)
	}

	var version uint32 = 1
	if n := len(history); n > 0 {
		version = history[n-1].Version + 1
	}

	record := &types.SchemaRecord{
		ID:           id,
		Subject:      subject,
		Version:      version,
		Hash:         hash,
		Format:       format,
		Definition:   definition,
		RegisteredAt: time.Now().UTC(),
	}
	if !model.Opaque {
		record.Fields = model.Fields
	}

	if err := r.store.Put(ctx, record); err != nil {
		var conflict *regerr.ConflictError
		if errors.As(err, &conflict) {
			slog.Error("storage conflict during registration", "subject", subject, "id", id, "version", version, "error", err)
			metrics.StorageConflicts.Inc()
		}
		return nil, err
	}

	slog.Info("schema registered", "subject", subject, "id", id, "version", version, "format", format)
	metrics.RegistrationsTotal.WithLabelValues(string(format), "registered").Inc()
	return &Registered{ID: id, Version: version}, nil
}

// CheckCandidate runs the compatibility check a registration would run,
// without writing anything. The full violation list is returned either way.
func (r *Registry) CheckCandidate(ctx context.Context, subject string, definition []byte, format types.Format) (compat.Result, error) {
	model, err := r.analyzer(format).Analyze(definition)
	if err != nil {
		return compat.Result{}, &regerr.ParseError{Format: string(format), Err: err}
	}
	history, err := r.store.History(ctx, subject)
	if err != nil {
		return compat.Result{}, fmt.Errorf("load history for %q: %w", subject, err)
	}
	mode, err := r.ModeFor(ctx, subject)
	if err != nil {
		return compat.Result{}, err
	}
	return compat.Check(model, baselines(history), mode), nil
}

// Lookup finds the existing version of a byte-identical definition under a
// subject.
func (r *Registry) Lookup(ctx context.Context, subject string, definition []byte, format types.Format) (*types.SchemaRecord, error) {
	history, err := r.store.History(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", subject, err)
	}
	hash := types.ComputeHash(definition)
	for _, rec := range history {
		if rec.Hash == hash && rec.Format == format {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("schema not registered under %q: %w", subject, regerr.ErrNotFound)
}

// ModeFor resolves the effective compatibility mode for a subject:
// subject-specific config, then the global config, then DefaultMode.
func (r *Registry) ModeFor(ctx context.Context, subject string) (types.CompatibilityMode, error) {
	if subject != "global" {
		mode, ok, err := r.config.Mode(ctx, subject)
		if err != nil {
			return "", err
		}
		if ok {
			return mode, nil
		}
	}
	mode, ok, err := r.config.Mode(ctx, "global")
	if err != nil {
		return "", err
	}
	if ok {
		return mode, nil
	}
	return DefaultMode, nil
}

// SetMode changes the compatibility policy for future registrations under a
// subject. Existing versions are never re-validated.
func (r *Registry) SetMode(ctx context.Context, subject string, mode types.CompatibilityMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid compatibility mode: %s", mode)
	}
	return r.config.SetMode(ctx, subject, mode)
}

// Deactivate soft-retires a version: it drops out of Latest and out of the
// non-transitive comparison set but stays in History for transitive checks.
func (r *Registry) Deactivate(ctx context.Context, subject string, version uint32) error {
	return r.store.SetActive(ctx, subject, version, false)
}

// Reactivate undoes a Deactivate.
func (r *Registry) Reactivate(ctx context.Context, subject string, version uint32) error {
	return r.store.SetActive(ctx, subject, version, true)
}

// ByID returns a registered schema by its global ID.
func (r *Registry) ByID(ctx context.Context, id uint32) (*types.SchemaRecord, error) {
	return r.store.GetByID(ctx, id)
}

// BySubjectVersion returns one version of a subject.
func (r *Registry) BySubjectVersion(ctx context.Context, subject string, version uint32) (*types.SchemaRecord, error) {
	return r.store.GetBySubjectVersion(ctx, subject, version)
}

// Latest returns the highest active version of a subject.
func (r *Registry) Latest(ctx context.Context, subject string) (*types.SchemaRecord, error) {
	return r.store.Latest(ctx, subject)
}

// Versions lists a subject's version numbers in ascending order, inactive
// versions included.
func (r *Registry) Versions(ctx context.Context, subject string) ([]uint32, error) {
	history, err := r.store.History(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}
	versions := make([]uint32, len(history))
	for i, rec := range history {
		versions[i] = rec.Version
	}
	return versions, nil
}

// Subjects lists every subject with at least one version.
func (r *Registry) Subjects(ctx context.Context) ([]string, error) {
	return r.store.Subjects(ctx)
}

// AddToGroup adds a subject to an organizational group.
func (r *Registry) AddToGroup(ctx context.Context, group, subject string) error {
	return r.config.AddToGroup(ctx, group, subject)
}

// Group lists the subjects of a group.
func (r *Registry) Group(ctx context.Context, group string) ([]string, error) {
	return r.config.Group(ctx, group)
}

// Groups lists all group names.
func (r *Registry) Groups(ctx context.Context) ([]string, error) {
	return r.config.Groups(ctx)
}

func baselines(history []*types.SchemaRecord) []compat.Baseline {
	out := make([]compat.Baseline, len(history))
	for i, rec := range history {
		out[i] = compat.Baseline{
			Version: rec.Version,
			Active:  !rec.Inactive,
			Model:   rec.FieldModel(),
		}
	}
	return out
}
