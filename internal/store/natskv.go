package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

// Key layout inside the schemas bucket. Records are written twice so that
// both lookup paths are a single KV get.
const (
	keyPrefixSchemas  = "schemas/"  // schemas/{id}
	keyPrefixSubjects = "subjects/" // subjects/{subject}/versions/{version}
	keyAllocator      = "allocator/hwm"
)

// Key layout inside the config bucket.
const (
	keyGlobalConfig        = "config/global"
	keyPrefixSubjectConfig = "config/subjects/"
	keyPrefixGroups        = "groups/"
)

// allocRetries bounds CAS retries on the allocator high-water mark.
const allocRetries = 50

// NATSKV is a Store and Allocator backed by a NATS JetStream KeyValue
// bucket. Records are append-only; the allocator high-water mark lives in
// the same bucket and advances through compare-and-swap on the KV revision.
type NATSKV struct {
	kv nats.KeyValue
}

// NewNATSKV wraps a JetStream KV bucket as a schema store.
func NewNATSKV(kv nats.KeyValue) *NATSKV {
	return &NATSKV{kv: kv}
}

func versionKey(subject string, version uint32) string {
	return fmt.Sprintf("%s%s/versions/%d", keyPrefixSubjects, subject, version)
}

func schemaKey(id uint32) string {
	return keyPrefixSchemas + strconv.FormatUint(uint64(id), 10)
}

func (s *NATSKV) Put(_ context.Context, record *types.SchemaRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// Create (not Put) so a lost race surfaces as a conflict instead of
	// silently overwriting another writer's version.
	if _, err := s.kv.Create(versionKey(record.Subject, record.Version), data); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return &regerr.ConflictError{Detail: fmt.Sprintf("subject %q version %d already exists", record.Subject, record.Version)}
		}
		return fmt.Errorf("store version: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	if _, err := s.kv.Create(schemaKey(record.ID), data); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return &regerr.ConflictError{Detail: fmt.Sprintf("schema ID %d already exists", record.ID)}
		}
		return fmt.Errorf("store schema by ID: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	return nil
}

func (s *NATSKV) getRecord(key string) (*types.SchemaRecord, error) {
	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", key, regerr.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w: %w", key, err, regerr.ErrRegistryUnavailable)
	}
	var record types.SchemaRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &record, nil
}

func (s *NATSKV) GetByID(_ context.Context, id uint32) (*types.SchemaRecord, error) {
	return s.getRecord(schemaKey(id))
}

func (s *NATSKV) GetBySubjectVersion(_ context.Context, subject string, version uint32) (*types.SchemaRecord, error) {
	return s.getRecord(versionKey(subject, version))
}

func (s *NATSKV) Latest(ctx context.Context, subject string) (*types.SchemaRecord, error) {
	history, err := s.History(ctx, subject)
	if err != nil {
		return nil, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Inactive {
			return history[i], nil
		}
	}
	return nil, fmt.Errorf("subject %q has no active versions: %w", subject, regerr.ErrNotFound)
}

func (s *NATSKV) History(_ context.Context, subject string) ([]*types.SchemaRecord, error) {
	prefix := fmt.Sprintf("%s%s/versions/", keyPrefixSubjects, subject)
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	var versions []uint32
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 32)
		if err != nil {
			continue
		}
		versions = append(versions, uint32(v))
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	records := make([]*types.SchemaRecord, 0, len(versions))
	for _, v := range versions {
		record, err := s.getRecord(versionKey(subject, v))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *NATSKV) SetActive(ctx context.Context, subject string, version uint32, active bool) error {
	record, err := s.GetBySubjectVersion(ctx, subject, version)
	if err != nil {
		return err
	}
	record.Inactive = !active

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.kv.Put(versionKey(subject, version), data); err != nil {
		return fmt.Errorf("update version: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	if _, err := s.kv.Put(schemaKey(record.ID), data); err != nil {
		return fmt.Errorf("update schema by ID: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	return nil
}

func (s *NATSKV) Subjects(_ context.Context) ([]string, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixSubjects) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(key, keyPrefixSubjects), "/")
		if len(parts) > 0 && parts[0] != "" {
			seen[parts[0]] = true
		}
	}
	subjects := make([]string, 0, len(seen))
	for subject := range seen {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// Next advances the persisted high-water mark with a revision CAS and
// returns the new value. A failed CAS means another allocator won the race;
// the read-increment-update loop then retries on the fresh revision.
func (s *NATSKV) Next(ctx context.Context) (uint32, error) {
	for attempt := 0; attempt < allocRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		entry, err := s.kv.Get(keyAllocator)
		if errors.Is(err, nats.ErrKeyNotFound) {
			if _, err := s.kv.Create(keyAllocator, []byte("1")); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue
				}
				return 0, fmt.Errorf("create allocator mark: %w: %w", err, regerr.ErrRegistryUnavailable)
			}
			return 1, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read allocator mark: %w: %w", err, regerr.ErrRegistryUnavailable)
		}

		current, err := strconv.ParseUint(string(entry.Value()), 10, 32)
		if err != nil {
			return 0, &regerr.ConflictError{Detail: "allocator mark is not a number", Err: err}
		}
		next := uint32(current) + 1
		if _, err := s.kv.Update(keyAllocator, []byte(strconv.FormatUint(uint64(next), 10)), entry.Revision()); err != nil {
			continue
		}
		return next, nil
	}
	return 0, &regerr.ConflictError{Detail: fmt.Sprintf("allocator CAS did not settle after %d attempts", allocRetries)}
}

func (s *NATSKV) keys() ([]string, error) {
	keys, err := s.kv.Keys()
	if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
		return nil, fmt.Errorf("list keys: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	return keys, nil
}

// NATSConfig is a ConfigStore backed by a JetStream KV bucket.
type NATSConfig struct {
	kv nats.KeyValue
}

// NewNATSConfig wraps a JetStream KV bucket as a config store.
func NewNATSConfig(kv nats.KeyValue) *NATSConfig {
	return &NATSConfig{kv: kv}
}

func configKey(subject string) string {
	if subject == "global" {
		return keyGlobalConfig
	}
	return keyPrefixSubjectConfig + subject
}

func (c *NATSConfig) Mode(_ context.Context, subject string) (types.CompatibilityMode, bool, error) {
	entry, err := c.kv.Get(configKey(subject))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config for %q: %w: %w", subject, err, regerr.ErrRegistryUnavailable)
	}
	return types.CompatibilityMode(entry.Value()), true, nil
}

func (c *NATSConfig) SetMode(_ context.Context, subject string, mode types.CompatibilityMode) error {
	if _, err := c.kv.Put(configKey(subject), []byte(mode)); err != nil {
		return fmt.Errorf("set config for %q: %w: %w", subject, err, regerr.ErrRegistryUnavailable)
	}
	return nil
}

func (c *NATSConfig) AddToGroup(_ context.Context, group, subject string) error {
	key := keyPrefixGroups + group
	for attempt := 0; attempt < allocRetries; attempt++ {
		entry, err := c.kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			data, err := json.Marshal([]string{subject})
			if err != nil {
				return fmt.Errorf("marshal group: %w", err)
			}
			if _, err := c.kv.Create(key, data); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("create group %q: %w: %w", group, err, regerr.ErrRegistryUnavailable)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("get group %q: %w: %w", group, err, regerr.ErrRegistryUnavailable)
		}

		var members []string
		if err := json.Unmarshal(entry.Value(), &members); err != nil {
			return fmt.Errorf("unmarshal group %q: %w", group, err)
		}
		for _, m := range members {
			if m == subject {
				return nil
			}
		}
		members = append(members, subject)
		sort.Strings(members)
		data, err := json.Marshal(members)
		if err != nil {
			return fmt.Errorf("marshal group: %w", err)
		}
		if _, err := c.kv.Update(key, data, entry.Revision()); err != nil {
			continue
		}
		return nil
	}
	return &regerr.ConflictError{Detail: fmt.Sprintf("group %q CAS did not settle after %d attempts", group, allocRetries)}
}

func (c *NATSConfig) Group(_ context.Context, group string) ([]string, error) {
	entry, err := c.kv.Get(keyPrefixGroups + group)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("group %q: %w", group, regerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %q: %w: %w", group, err, regerr.ErrRegistryUnavailable)
	}
	var members []string
	if err := json.Unmarshal(entry.Value(), &members); err != nil {
		return nil, fmt.Errorf("unmarshal group %q: %w", group, err)
	}
	return members, nil
}

func (c *NATSConfig) Groups(_ context.Context) ([]string, error) {
	keys, err := c.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list groups: %w: %w", err, regerr.ErrRegistryUnavailable)
	}
	var names []string
	for _, key := range keys {
		if strings.HasPrefix(key, keyPrefixGroups) {
			names = append(names, strings.TrimPrefix(key, keyPrefixGroups))
		}
	}
	sort.Strings(names)
	return names, nil
}
