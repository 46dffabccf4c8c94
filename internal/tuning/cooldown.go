package tuning

import (
	"context"
	"fmt"
	"math"
	"time"
)

// CooldownTracker derives "time since last successful adjustment" from
// the audit log. No private timers: the check is restart-safe and agrees
// across orchestrator instances as long as the log itself is consistent.
type CooldownTracker struct {
	audit AuditStore
	now   func() time.Time
}

// NewCooldownTracker builds a tracker over the given audit store.
func NewCooldownTracker(audit AuditStore) *CooldownTracker {
	return &CooldownTracker{audit: audit, now: time.Now}
}

// InCooldown reports whether key was adjusted within cooldown of now.
func (t *CooldownTracker) InCooldown(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	remaining, err := t.Remaining(ctx, key, cooldown)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// Remaining returns whole seconds left in the cooldown window, rounded
// up, or 0 when the parameter is free to adjust.
func (t *CooldownTracker) Remaining(ctx context.Context, key string, cooldown time.Duration) (int, error) {
	if cooldown <= 0 {
		return 0, nil
	}
	last, err := t.audit.LastForParameter(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("cooldown lookup for %q: %w", key, err)
	}
	if last == nil {
		return 0, nil
	}
	elapsed := t.now().Sub(last.Timestamp)
	if elapsed >= cooldown {
		return 0, nil
	}
	return int(math.Ceil((cooldown - elapsed).Seconds())), nil
}
