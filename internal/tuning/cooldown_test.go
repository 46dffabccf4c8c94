package tuning

import (
	"context"
	"testing"
	"time"
)

func TestCooldownNoHistoryMeansFree(t *testing.T) {
	tracker := NewCooldownTracker(NewMemoryAuditStore())

	inCooldown, err := tracker.InCooldown(context.Background(), "rsi_oversold", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if inCooldown {
		t.Error("parameter with no audit history should not be in cooldown")
	}
}

func TestCooldownRemainingRoundsUp(t *testing.T) {
	store := NewMemoryAuditStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.Append(context.Background(), AuditEntry{
		ID: "a1", Timestamp: base, ParameterKey: "rsi_oversold",
		Tier: TierGreen, Source: SourceAuto,
	})

	tracker := NewCooldownTracker(store)
	tracker.now = func() time.Time { return base.Add(10*time.Second + 300*time.Millisecond) }

	remaining, err := tracker.Remaining(context.Background(), "rsi_oversold", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// 600s window, 10.3s elapsed: ceil(589.7) = 590
	if remaining != 590 {
		t.Errorf("expected 590s remaining, got %d", remaining)
	}
}

func TestCooldownExpiresAfterWindow(t *testing.T) {
	store := NewMemoryAuditStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.Append(context.Background(), AuditEntry{
		ID: "a1", Timestamp: base, ParameterKey: "leverage",
		Tier: TierYellow, Source: SourceConfirmed,
	})

	tracker := NewCooldownTracker(store)
	tracker.now = func() time.Time { return base.Add(time.Hour) }

	remaining, err := tracker.Remaining(context.Background(), "leverage", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("cooldown should be over, got %ds remaining", remaining)
	}
}

func TestCooldownIsPerParameter(t *testing.T) {
	store := NewMemoryAuditStore()
	now := time.Now()

	store.Append(context.Background(), AuditEntry{
		ID: "a1", Timestamp: now, ParameterKey: "rsi_oversold",
		Tier: TierGreen, Source: SourceAuto,
	})

	tracker := NewCooldownTracker(store)

	inCooldown, err := tracker.InCooldown(context.Background(), "rsi_overbought", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if inCooldown {
		t.Error("adjusting one parameter must not cool down another")
	}
}

func TestCooldownUsesMostRecentEntry(t *testing.T) {
	store := NewMemoryAuditStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{base, base.Add(20 * time.Minute)} {
		store.Append(context.Background(), AuditEntry{
			ID: string(rune('a' + i)), Timestamp: ts, ParameterKey: "rsi_oversold",
			Tier: TierGreen, Source: SourceAuto,
		})
	}

	tracker := NewCooldownTracker(store)
	tracker.now = func() time.Time { return base.Add(25 * time.Minute) }

	remaining, err := tracker.Remaining(context.Background(), "rsi_oversold", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// 5 minutes since the second entry, 5 to go.
	if remaining != 300 {
		t.Errorf("expected 300s remaining, got %d", remaining)
	}
}
