package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

// Memory is an in-memory Store, Allocator, and ConfigStore. It backs tests
// and the degraded mode the server falls into when NATS is unreachable.
type Memory struct {
	mu        sync.RWMutex
	byID      map[uint32]*types.SchemaRecord
	bySubject map[string][]*types.SchemaRecord // ascending version
	modes     map[string]types.CompatibilityMode
	groups    map[string]map[string]struct{}
	nextID    uint32
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:      make(map[uint32]*types.SchemaRecord),
		bySubject: make(map[string][]*types.SchemaRecord),
		modes:     make(map[string]types.CompatibilityMode),
		groups:    make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Put(_ context.Context, record *types.SchemaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[record.ID]; ok {
		return &regerr.ConflictError{Detail: fmt.Sprintf("schema ID %d already exists", record.ID)}
	}
	versions := m.bySubject[record.Subject]
	if uint32(len(versions))+1 != record.Version {
		return &regerr.ConflictError{Detail: fmt.Sprintf("subject %q version %d is not contiguous (have %d versions)", record.Subject, record.Version, len(versions))}
	}

	cp := *record
	m.byID[record.ID] = &cp
	m.bySubject[record.Subject] = append(versions, &cp)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uint32) (*types.SchemaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("schema %d: %w", id, regerr.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) GetBySubjectVersion(_ context.Context, subject string, version uint32) (*types.SchemaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.bySubject[subject] {
		if rec.Version == version {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("subject %q version %d: %w", subject, version, regerr.ErrNotFound)
}

func (m *Memory) Latest(_ context.Context, subject string) (*types.SchemaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.bySubject[subject]
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].Inactive {
			cp := *versions[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("subject %q has no active versions: %w", subject, regerr.ErrNotFound)
}

func (m *Memory) History(_ context.Context, subject string) ([]*types.SchemaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.bySubject[subject]
	out := make([]*types.SchemaRecord, len(versions))
	for i, rec := range versions {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) SetActive(_ context.Context, subject string, version uint32, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.bySubject[subject] {
		if rec.Version == version {
			rec.Inactive = !active
			m.byID[rec.ID].Inactive = !active
			return nil
		}
	}
	return fmt.Errorf("subject %q version %d: %w", subject, version, regerr.ErrNotFound)
}

func (m *Memory) Subjects(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subjects := make([]string, 0, len(m.bySubject))
	for subject := range m.bySubject {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// Next issues the next schema ID. IDs start at 1.
func (m *Memory) Next(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	return m.nextID, nil
}

func (m *Memory) Mode(_ context.Context, subject string) (types.CompatibilityMode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mode, ok := m.modes[subject]
	return mode, ok, nil
}

func (m *Memory) SetMode(_ context.Context, subject string, mode types.CompatibilityMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modes[subject] = mode
	return nil
}

func (m *Memory) AddToGroup(_ context.Context, group, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.groups[group] == nil {
		m.groups[group] = make(map[string]struct{})
	}
	m.groups[group][subject] = struct{}{}
	return nil
}

func (m *Memory) Group(_ context.Context, group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.groups[group]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", group, regerr.ErrNotFound)
	}
	subjects := make([]string, 0, len(members))
	for subject := range members {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

func (m *Memory) Groups(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.groups))
	for name := range m.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
