package tuning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotService captures and restores full copies of the live
// parameter state. Restores are best-effort per field: the external
// store offers no multi-field transaction, so partial restoration is a
// reported outcome, not an atomic failure.
type SnapshotService struct {
	store    SnapshotStore
	params   ParameterStore
	engine   EngineController
	registry *Registry
	now      func() time.Time
	logger   zerolog.Logger
}

// RestoreResult reports which fields were re-applied and which failed.
type RestoreResult struct {
	SnapshotID string            `json:"snapshot_id"`
	Restored   []string          `json:"restored"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// NewSnapshotService builds a snapshot service.
func NewSnapshotService(store SnapshotStore, params ParameterStore, engine EngineController, registry *Registry, logger zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		store:    store,
		params:   params,
		engine:   engine,
		registry: registry,
		now:      time.Now,
		logger:   logger.With().Str("component", "SnapshotService").Logger(),
	}
}

// Take reads the full current parameter state and performance metrics
// and persists them under a fresh id.
func (s *SnapshotService) Take(ctx context.Context) (*Snapshot, error) {
	state, err := s.params.FullState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter state: %w", err)
	}
	// The engine controller is authoritative for action-bound fields;
	// the stored flag can lag it.
	for _, key := range s.registry.Keys() {
		d, _ := s.registry.Get(key)
		if d.Action != ActionEngineRun {
			continue
		}
		running, err := s.engine.Running(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine state: %w", err)
		}
		state[d.StoreField] = running
	}
	perf, err := s.params.Performance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read performance metrics: %w", err)
	}
	snap := Snapshot{
		ID:          uuid.New().String(),
		Timestamp:   s.now(),
		Parameters:  state,
		Performance: perf,
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	s.logger.Info().Str("snapshot_id", snap.ID).Int("fields", len(state)).Msg("snapshot taken")
	return &snap, nil
}

// List returns up to limit snapshots, newest first.
func (s *SnapshotService) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.List(ctx, limit)
}

// Latest returns the most recent snapshot, or nil when none exist.
func (s *SnapshotService) Latest(ctx context.Context) (*Snapshot, error) {
	return s.store.Latest(ctx)
}

// GetByID returns one snapshot, or nil when it does not exist.
func (s *SnapshotService) GetByID(ctx context.Context, id string) (*Snapshot, error) {
	return s.store.GetByID(ctx, id)
}

// Restore re-applies every field of the snapshot to the parameter store.
// Fields bound to an engine action route through the engine controller.
func (s *SnapshotService) Restore(ctx context.Context, snap *Snapshot) RestoreResult {
	result := RestoreResult{SnapshotID: snap.ID}

	fields := make([]string, 0, len(snap.Parameters))
	for field := range snap.Parameters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := snap.Parameters[field]
		if err := s.restoreField(ctx, field, value); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[field] = err.Error()
			s.logger.Warn().Err(err).Str("field", field).Msg("field restore failed")
			continue
		}
		result.Restored = append(result.Restored, field)
	}
	s.logger.Info().
		Str("snapshot_id", snap.ID).
		Int("restored", len(result.Restored)).
		Int("failed", len(result.Failed)).
		Msg("snapshot restore finished")
	return result
}

func (s *SnapshotService) restoreField(ctx context.Context, field string, value interface{}) error {
	if d, ok := s.registry.ForStoreField(field); ok && d.Action == ActionEngineRun {
		run, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %q holds %T, expected bool", field, value)
		}
		if run {
			return s.engine.Start(ctx)
		}
		return s.engine.Stop(ctx)
	}
	return s.params.Set(ctx, field, value)
}

// ForStoreField finds the descriptor writing to a given store field.
func (r *Registry) ForStoreField(field string) (*ParameterDescriptor, bool) {
	for _, key := range r.keys {
		if r.params[key].StoreField == field {
			return r.params[key], true
		}
	}
	return nil, false
}
