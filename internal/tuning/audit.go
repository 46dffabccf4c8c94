package tuning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditLog assigns identity to entries and writes them to the underlying
// store exactly once.
type AuditLog struct {
	store  AuditStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewAuditLog builds an audit log over store.
func NewAuditLog(store AuditStore, logger zerolog.Logger) *AuditLog {
	return &AuditLog{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "AuditLog").Logger(),
	}
}

// Append assigns id and timestamp and persists the entry.
func (l *AuditLog) Append(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	entry.ID = uuid.New().String()
	entry.Timestamp = l.now()
	if err := l.store.Append(ctx, entry); err != nil {
		return AuditEntry{}, fmt.Errorf("failed to append audit entry for %q: %w", entry.ParameterKey, err)
	}
	l.logger.Info().
		Str("parameter", entry.ParameterKey).
		Str("tier", string(entry.Tier)).
		Str("source", string(entry.Source)).
		Interface("old_value", entry.OldValue).
		Interface("new_value", entry.NewValue).
		Str("snapshot_id", entry.SnapshotID).
		Msg("adjustment recorded")
	return entry, nil
}

// Query returns entries most-recent-first. A pure read with no side
// effects.
func (l *AuditLog) Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	entries, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return entries, nil
}
