package tuning

import (
	"context"
	"fmt"
	"sync"
)

// In-memory store implementations. Used by tests and by dry-run mode
// when Postgres/Redis are disabled.

// MemoryParamStore holds parameter values and performance metrics in a
// map.
type MemoryParamStore struct {
	mu      sync.RWMutex
	fields  map[string]interface{}
	metrics map[string]float64
}

// NewMemoryParamStore seeds a store with every registered parameter's
// default value.
func NewMemoryParamStore(registry *Registry) *MemoryParamStore {
	s := &MemoryParamStore{
		fields:  make(map[string]interface{}),
		metrics: make(map[string]float64),
	}
	for _, key := range registry.Keys() {
		d, _ := registry.Get(key)
		s.fields[d.StoreField] = d.Default
	}
	return s
}

func (s *MemoryParamStore) Get(_ context.Context, field string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[field]
	if !ok {
		return nil, fmt.Errorf("field %q not found", field)
	}
	return v, nil
}

func (s *MemoryParamStore) Set(_ context.Context, field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[field] = value
	return nil
}

func (s *MemoryParamStore) FullState(_ context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryParamStore) Performance(_ context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out, nil
}

// SetMetric records a performance metric for subsequent snapshots.
func (s *MemoryParamStore) SetMetric(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] = value
}

// MemoryEngine is an in-process engine run flag.
type MemoryEngine struct {
	mu      sync.Mutex
	running bool
}

// NewMemoryEngine returns an engine controller in the given state.
func NewMemoryEngine(running bool) *MemoryEngine {
	return &MemoryEngine{running: running}
}

func (e *MemoryEngine) Running(_ context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, nil
}

func (e *MemoryEngine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	return nil
}

func (e *MemoryEngine) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return nil
}

// MemoryAuditStore is an append-only slice of audit entries.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewMemoryAuditStore returns an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.Tier != "" && e.Tier != filter.Tier {
			continue
		}
		if filter.ParameterKey != "" && e.ParameterKey != filter.ParameterKey {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) LastForParameter(_ context.Context, key string) (*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ParameterKey == key {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

// MemorySnapshotStore keeps snapshots in creation order.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps []Snapshot
}

// NewMemorySnapshotStore returns an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *MemorySnapshotStore) List(_ context.Context, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for i := len(s.snaps) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.snaps[i])
	}
	return out, nil
}

func (s *MemorySnapshotStore) GetByID(_ context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].ID == id {
			snap := s.snaps[i]
			return &snap, nil
		}
	}
	return nil, nil
}

func (s *MemorySnapshotStore) Latest(_ context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snaps) == 0 {
		return nil, nil
	}
	snap := s.snaps[len(s.snaps)-1]
	return &snap, nil
}
