package tuning

import (
	"context"
	"time"
)

// ParameterStore is the external store holding the live parameter values
// the trading engine reads. The control plane never caches values from
// it; every workflow re-reads what it needs.
type ParameterStore interface {
	Get(ctx context.Context, field string) (interface{}, error)
	Set(ctx context.Context, field string, value interface{}) error
	// FullState returns every parameter field currently stored.
	FullState(ctx context.Context) (map[string]interface{}, error)
	// Performance returns the engine's current performance metrics,
	// captured alongside parameter values in snapshots.
	Performance(ctx context.Context) (map[string]float64, error)
}

// EngineController starts and stops the trading engine. Parameters with
// an ActionEngineRun binding route through it instead of a field write.
type EngineController interface {
	Running(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Source records how an adjustment was authorized.
type Source string

const (
	SourceAuto      Source = "auto"      // GREEN, no human in the loop
	SourceConfirmed Source = "confirmed" // YELLOW, token-confirmed
	SourceApproved  Source = "approved"  // RED, typed approval
)

// AuditEntry is one successfully applied adjustment. Entries are written
// once and never updated.
type AuditEntry struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	ParameterKey string      `json:"parameter_key"`
	Tier         Tier        `json:"tier"`
	OldValue     interface{} `json:"old_value"`
	NewValue     interface{} `json:"new_value"`
	Reasoning    string      `json:"reasoning"`
	Source       Source      `json:"source"`
	ApprovedBy   string      `json:"approved_by,omitempty"`
	SnapshotID   string      `json:"snapshot_id"`
}

// AuditFilter narrows an audit query. Zero fields mean "any".
type AuditFilter struct {
	Limit        int
	Tier         Tier
	ParameterKey string
}

// AuditStore persists the append-only adjustment ledger.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	// Query returns entries most-recent-first. A pure read.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	// LastForParameter returns the most recent entry for key, or nil.
	LastForParameter(ctx context.Context, key string) (*AuditEntry, error)
}

// Snapshot is an immutable point-in-time copy of the full parameter
// state plus performance metrics, used as an undo point.
type Snapshot struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Parameters  map[string]interface{} `json:"parameters"`
	Performance map[string]float64     `json:"performance"`
}

// SnapshotStore persists snapshots. Create and read only; snapshots are
// never updated, only superseded.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// List returns snapshots newest-first, at most limit.
	List(ctx context.Context, limit int) ([]Snapshot, error)
	GetByID(ctx context.Context, id string) (*Snapshot, error)
	Latest(ctx context.Context) (*Snapshot, error)
}

// Notifier receives control-plane events for downstream delivery
// (websocket feeds, chat alerts). Implementations must not block.
type Notifier interface {
	AdjustmentApplied(entry AuditEntry)
	AdjustmentRejected(parameterKey string, code ErrorCode)
	RollbackCompleted(restoredSnapshotID, preRollbackSnapshotID string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) AdjustmentApplied(AuditEntry)         {}
func (NopNotifier) AdjustmentRejected(string, ErrorCode) {}
func (NopNotifier) RollbackCompleted(string, string)     {}
