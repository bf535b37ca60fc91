package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/c360studio/specauthority/authority"
)

// MemoryStore is an in-memory Store used in tests and single-process tooling.
// Entities are deep-copied through JSON on the way in and out so callers
// cannot mutate stored state by aliasing.
type MemoryStore struct {
	mu          sync.RWMutex
	specs       map[string][]byte
	authorities map[string][]byte
	acceptances map[string][]byte
	evidence    map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:       make(map[string][]byte),
		authorities: make(map[string][]byte),
		acceptances: make(map[string][]byte),
		evidence:    make(map[string][]byte),
	}
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeInto[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateSpec stores a new spec version record.
func (m *MemoryStore) CreateSpec(_ context.Context, v *authority.SpecVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[v.ID]; ok {
		return ErrAlreadyExists
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.specs[v.ID] = data
	return nil
}

// PutSpec overwrites an existing spec version record.
func (m *MemoryStore) PutSpec(_ context.Context, v *authority.SpecVersion) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[v.ID] = data
	return nil
}

// GetSpec retrieves a spec version by ID.
func (m *MemoryStore) GetSpec(_ context.Context, id string) (*authority.SpecVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.specs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeInto[authority.SpecVersion](data)
}

// ListSpecsByProduct returns all spec versions for a product.
func (m *MemoryStore) ListSpecsByProduct(_ context.Context, product string) ([]*authority.SpecVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*authority.SpecVersion
	for _, data := range m.specs {
		v, err := decodeInto[authority.SpecVersion](data)
		if err != nil {
			continue
		}
		if v.Product == product {
			out = append(out, v)
		}
	}
	return out, nil
}

// CreateAuthority stores a compiled authority; the first writer wins.
func (m *MemoryStore) CreateAuthority(_ context.Context, a *authority.CompiledAuthority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authorities[a.SpecVersionID]; ok {
		return ErrAlreadyExists
	}
	data, err := encode(a)
	if err != nil {
		return err
	}
	m.authorities[a.SpecVersionID] = data
	return nil
}

// PutAuthority overwrites the compiled authority for a spec version.
func (m *MemoryStore) PutAuthority(_ context.Context, a *authority.CompiledAuthority) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorities[a.SpecVersionID] = data
	return nil
}

// GetAuthority retrieves the compiled authority for a spec version.
func (m *MemoryStore) GetAuthority(_ context.Context, specVersionID string) (*authority.CompiledAuthority, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.authorities[specVersionID]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeInto[authority.CompiledAuthority](data)
}

// AppendAcceptance appends a row to the acceptance ledger.
func (m *MemoryStore) AppendAcceptance(_ context.Context, r *authority.AcceptanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.acceptances[r.ID]; ok {
		return ErrAlreadyExists
	}
	data, err := encode(r)
	if err != nil {
		return err
	}
	m.acceptances[r.ID] = data
	return nil
}

// ListAcceptances returns all acceptance rows for a spec version.
func (m *MemoryStore) ListAcceptances(_ context.Context, specVersionID string) ([]*authority.AcceptanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*authority.AcceptanceRecord
	for _, data := range m.acceptances {
		r, err := decodeInto[authority.AcceptanceRecord](data)
		if err != nil {
			continue
		}
		if r.SpecVersionID == specVersionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// AppendEvidence appends a validation evidence record.
func (m *MemoryStore) AppendEvidence(_ context.Context, e *authority.ValidationEvidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evidence[e.ID]; ok {
		return ErrAlreadyExists
	}
	data, err := encode(e)
	if err != nil {
		return err
	}
	m.evidence[e.ID] = data
	return nil
}

// ListEvidence returns all evidence records for a spec version.
func (m *MemoryStore) ListEvidence(_ context.Context, specVersionID string) ([]*authority.ValidationEvidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*authority.ValidationEvidence
	for _, data := range m.evidence {
		e, err := decodeInto[authority.ValidationEvidence](data)
		if err != nil {
			continue
		}
		if e.SpecVersionID == specVersionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Interface guard.
var _ Store = (*MemoryStore)(nil)
