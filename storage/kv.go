package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/specauthority/authority"
)

// KVStore provides entity storage operations backed by NATS KV.
type KVStore struct {
	specs       jetstream.KeyValue
	authorities jetstream.KeyValue
	acceptances jetstream.KeyValue
	evidence    jetstream.KeyValue
}

// kvHistoryDepth is the number of revisions kept per key.
const kvHistoryDepth = 5

// NewKVStore creates a new KVStore with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	specs, err := getOrCreateBucket(ctx, js, BucketSpecs)
	if err != nil {
		return nil, fmt.Errorf("create specs bucket: %w", err)
	}

	authorities, err := getOrCreateBucket(ctx, js, BucketAuthorities)
	if err != nil {
		return nil, fmt.Errorf("create authorities bucket: %w", err)
	}

	acceptances, err := getOrCreateBucket(ctx, js, BucketAcceptances)
	if err != nil {
		return nil, fmt.Errorf("create acceptances bucket: %w", err)
	}

	evidence, err := getOrCreateBucket(ctx, js, BucketEvidence)
	if err != nil {
		return nil, fmt.Errorf("create evidence bucket: %w", err)
	}

	return &KVStore{
		specs:       specs,
		authorities: authorities,
		acceptances: acceptances,
		evidence:    evidence,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Specification authority %s storage", strings.ToLower(name)),
		History:     kvHistoryDepth,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}

// kvKey strips the type prefix from an entity ID for use as a KV key.
func kvKey(id string) (string, error) {
	parsed, err := ParseEntityID(id)
	if err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// CreateSpec stores a new spec version record.
func (s *KVStore) CreateSpec(ctx context.Context, v *authority.SpecVersion) error {
	return create(ctx, s.specs, v.ID, v)
}

// PutSpec overwrites an existing spec version record.
func (s *KVStore) PutSpec(ctx context.Context, v *authority.SpecVersion) error {
	return put(ctx, s.specs, v.ID, v)
}

// GetSpec retrieves a spec version by ID.
func (s *KVStore) GetSpec(ctx context.Context, id string) (*authority.SpecVersion, error) {
	return get[authority.SpecVersion](ctx, s.specs, id)
}

// ListSpecsByProduct returns all spec versions for a product.
func (s *KVStore) ListSpecsByProduct(ctx context.Context, product string) ([]*authority.SpecVersion, error) {
	all, err := list[authority.SpecVersion](ctx, s.specs)
	if err != nil {
		return nil, err
	}
	versions := make([]*authority.SpecVersion, 0, len(all))
	for _, v := range all {
		if v.Product == product {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

// CreateAuthority stores a compiled authority keyed by its spec version ID,
// so the unique-key constraint enforces one cached artifact per version and
// the first writer wins a concurrent compile race.
func (s *KVStore) CreateAuthority(ctx context.Context, a *authority.CompiledAuthority) error {
	return create(ctx, s.authorities, a.SpecVersionID, a)
}

// PutAuthority overwrites the compiled authority for a spec version.
func (s *KVStore) PutAuthority(ctx context.Context, a *authority.CompiledAuthority) error {
	return put(ctx, s.authorities, a.SpecVersionID, a)
}

// GetAuthority retrieves the compiled authority for a spec version.
func (s *KVStore) GetAuthority(ctx context.Context, specVersionID string) (*authority.CompiledAuthority, error) {
	return get[authority.CompiledAuthority](ctx, s.authorities, specVersionID)
}

// AppendAcceptance appends a row to the acceptance ledger.
func (s *KVStore) AppendAcceptance(ctx context.Context, r *authority.AcceptanceRecord) error {
	return create(ctx, s.acceptances, r.ID, r)
}

// ListAcceptances returns all acceptance rows for a spec version.
func (s *KVStore) ListAcceptances(ctx context.Context, specVersionID string) ([]*authority.AcceptanceRecord, error) {
	all, err := list[authority.AcceptanceRecord](ctx, s.acceptances)
	if err != nil {
		return nil, err
	}
	records := make([]*authority.AcceptanceRecord, 0, len(all))
	for _, r := range all {
		if r.SpecVersionID == specVersionID {
			records = append(records, r)
		}
	}
	return records, nil
}

// AppendEvidence appends a validation evidence record.
func (s *KVStore) AppendEvidence(ctx context.Context, e *authority.ValidationEvidence) error {
	return create(ctx, s.evidence, e.ID, e)
}

// ListEvidence returns all evidence records for a spec version.
func (s *KVStore) ListEvidence(ctx context.Context, specVersionID string) ([]*authority.ValidationEvidence, error) {
	all, err := list[authority.ValidationEvidence](ctx, s.evidence)
	if err != nil {
		return nil, err
	}
	records := make([]*authority.ValidationEvidence, 0, len(all))
	for _, e := range all {
		if e.SpecVersionID == specVersionID {
			records = append(records, e)
		}
	}
	return records, nil
}

// Interface guard.
var _ Store = (*KVStore)(nil)

func create(ctx context.Context, kv jetstream.KeyValue, id string, v any) error {
	key, err := kvKey(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if _, err := kv.Create(ctx, key, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store entity: %w", err)
	}
	return nil
}

func put(ctx context.Context, kv jetstream.KeyValue, id string, v any) error {
	key, err := kvKey(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

func get[T any](ctx context.Context, kv jetstream.KeyValue, id string) (*T, error) {
	key, err := kvKey(id)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	var v T
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return &v, nil
}

func list[T any](ctx context.Context, kv jetstream.KeyValue) ([]*T, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var v T
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		out = append(out, &v)
	}
	return out, nil
}
