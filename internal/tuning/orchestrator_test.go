package tuning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type testEnv struct {
	registry  *Registry
	params    *MemoryParamStore
	engine    *MemoryEngine
	audit     *MemoryAuditStore
	snaps     *MemorySnapshotStore
	auditLog  *AuditLog
	snapshots *SnapshotService
	cooldown  *CooldownTracker
	tokens    *TokenService
	orch      *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry, err := NewRegistry(DefaultParameters())
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		registry: registry,
		params:   NewMemoryParamStore(registry),
		engine:   NewMemoryEngine(true),
		audit:    NewMemoryAuditStore(),
		snaps:    NewMemorySnapshotStore(),
	}
	logger := zerolog.Nop()
	env.auditLog = NewAuditLog(env.audit, logger)
	env.snapshots = NewSnapshotService(env.snaps, env.params, env.engine, registry, logger)
	env.cooldown = NewCooldownTracker(env.audit)
	env.tokens = NewTokenService([]byte("test-secret"), 5*time.Minute)
	env.orch = NewOrchestrator(registry, env.params, env.engine,
		env.auditLog, env.snapshots, env.cooldown, env.tokens, nil, logger)
	return env
}

// ==================== GREEN ====================

func TestGreenAppliesAutomatically(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, "drifting entries")
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusApplied {
		t.Fatalf("expected applied, got %s", result.Status)
	}
	if result.NewValue.(float64) != 25 {
		t.Errorf("expected new value 25, got %v", result.NewValue)
	}
	if result.OldValue.(float64) != 30 {
		t.Errorf("expected old value 30 (the default), got %v", result.OldValue)
	}

	stored, err := env.params.Get(ctx, "rsi_oversold")
	if err != nil {
		t.Fatal(err)
	}
	if stored.(float64) != 25 {
		t.Errorf("store should hold 25, got %v", stored)
	}

	entries, err := env.audit.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Tier != TierGreen || entry.Source != SourceAuto {
		t.Errorf("expected GREEN/auto entry, got %s/%s", entry.Tier, entry.Source)
	}
	if entry.SnapshotID != result.SnapshotID {
		t.Error("audit entry must reference the snapshot taken before the change")
	}
}

func TestGreenSnapshotPrecedesMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, "")
	if err != nil {
		t.Fatal(err)
	}

	snap, err := env.snaps.GetByID(ctx, result.SnapshotID)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("snapshot referenced by the audit entry must exist")
	}
	if snap.Parameters["rsi_oversold"].(float64) != 30 {
		t.Errorf("snapshot must capture the pre-change value 30, got %v",
			snap.Parameters["rsi_oversold"])
	}
}

func TestGreenSecondCallWithinCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.auditLog.now = func() time.Time { return base }

	if _, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, ""); err != nil {
		t.Fatal(err)
	}

	// Ten seconds later: 590 of the 600 second window remain.
	env.cooldown.now = func() time.Time { return base.Add(10 * time.Second) }

	_, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 26.0, "")
	if CodeOf(err) != CodeCooldownActive {
		t.Fatalf("expected CooldownActive, got %v", err)
	}
	var te *Error
	if !errors.As(err, &te) {
		t.Fatal("expected a typed tuning error")
	}
	if te.RemainingSeconds != 590 {
		t.Errorf("expected 590s remaining, got %d", te.RemainingSeconds)
	}
}

func TestGreenClampsAndAuditsAppliedValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 55.0, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.NewValue.(float64) != 40 || !result.Clamped {
		t.Fatalf("expected clamp to 40, got %+v", result)
	}

	entries, _ := env.audit.Query(ctx, AuditFilter{})
	if entries[0].NewValue.(float64) != 40 {
		t.Errorf("audit must record the applied value 40, not the raw request, got %v",
			entries[0].NewValue)
	}
}

func TestGreenRejectsWrongTier(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.ApplyGreen(context.Background(), "leverage", 10.0, "")
	if CodeOf(err) != CodeWrongTier {
		t.Fatalf("leverage is YELLOW, expected WrongTier, got %v", err)
	}
}

func TestGreenRejectsUnknownParameter(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.ApplyGreen(context.Background(), "nope", 1.0, "")
	if CodeOf(err) != CodeUnknownParameter {
		t.Fatalf("expected UnknownParameter, got %v", err)
	}
}

func TestGreenApplyFailureLeavesNoAuditEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Reads still succeed, only Set fails.
	failing := &failingParamStore{MemoryParamStore: env.params}
	env.snapshots = NewSnapshotService(env.snaps, failing, env.engine, env.registry, zerolog.Nop())
	env.orch = NewOrchestrator(env.registry, failing, env.engine,
		env.auditLog, env.snapshots, env.cooldown, env.tokens, nil, zerolog.Nop())

	_, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, "")
	if CodeOf(err) != CodeApplyFailed {
		t.Fatalf("expected ApplyFailed, got %v", err)
	}

	entries, _ := env.audit.Query(ctx, AuditFilter{})
	if len(entries) != 0 {
		t.Error("failed apply must not write an audit entry")
	}

	// The pre-change snapshot is retained as an orphan.
	snaps, _ := env.snaps.List(ctx, 10)
	if len(snaps) != 1 {
		t.Errorf("expected the orphaned pre-change snapshot to remain, got %d", len(snaps))
	}
}

type failingParamStore struct {
	*MemoryParamStore
}

func (s *failingParamStore) Set(context.Context, string, interface{}) error {
	return errors.New("store unavailable")
}

// ==================== YELLOW ====================

func TestYellowWithoutTokenIsPendingAndMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.RequestYellow(ctx, "leverage", 25.0, "volatility is low", "")
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", result.Status)
	}
	if result.NewValue.(float64) != 20 || !result.Clamped {
		t.Errorf("proposed 25 must clamp to the max 20, got %+v", result)
	}
	if result.ConfirmToken == "" {
		t.Error("pending result must carry a confirmation token")
	}
	if result.Prompt == "" {
		t.Error("pending result must carry a human-readable prompt")
	}

	stored, _ := env.params.Get(ctx, "leverage")
	if stored.(float64) != 5 {
		t.Errorf("no mutation may occur before confirmation, got %v", stored)
	}
	if snaps, _ := env.snaps.List(ctx, 10); len(snaps) != 0 {
		t.Error("no snapshot may be taken before confirmation")
	}
	if entries, _ := env.audit.Query(ctx, AuditFilter{}); len(entries) != 0 {
		t.Error("no audit entry may be written before confirmation")
	}
}

func TestYellowConfirmedWithTokenApplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.orch.RequestYellow(ctx, "leverage", 25.0, "volatility is low", "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.RequestYellow(ctx, "leverage", 20.0, "volatility is low", pending.ConfirmToken)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusApplied || result.Source != SourceConfirmed {
		t.Fatalf("expected applied/confirmed, got %+v", result)
	}

	stored, _ := env.params.Get(ctx, "leverage")
	if stored.(float64) != 20 {
		t.Errorf("expected 20 applied, got %v", stored)
	}

	entries, _ := env.audit.Query(ctx, AuditFilter{})
	if len(entries) != 1 || entries[0].Source != SourceConfirmed {
		t.Fatalf("expected one confirmed audit entry, got %+v", entries)
	}
}

func TestYellowTokenBoundToProposedValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.orch.RequestYellow(ctx, "leverage", 20.0, "", "")
	if err != nil {
		t.Fatal(err)
	}

	// Same parameter, different value: the reviewed change and the
	// submitted change disagree.
	_, err = env.orch.RequestYellow(ctx, "leverage", 15.0, "", pending.ConfirmToken)
	if CodeOf(err) != CodeInvalidToken {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
}

func TestYellowGarbageTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.RequestYellow(context.Background(), "leverage", 10.0, "", "not-a-token")
	if CodeOf(err) != CodeInvalidToken {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
}

// ==================== RED ====================

func TestRedWithoutApprovalIsPending(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.orch.RequestRed(context.Background(), "engine_running", false,
		"halting for maintenance", "engine stops opening positions", "")
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", result.Status)
	}
	if result.RequiredApproval != "APPROVE CHANGE ENGINE RUNNING" {
		t.Errorf("unexpected approval phrase %q", result.RequiredApproval)
	}
	if result.RiskAssessment != "engine stops opening positions" {
		t.Error("pending result must echo the caller's risk assessment")
	}
}

func TestRedApprovalIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.RequestRed(ctx, "engine_running", false,
		"halting", "engine stops", "approve change engine running")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusApplied || result.Source != SourceApproved {
		t.Fatalf("expected applied/approved, got %+v", result)
	}

	// The stop operation ran; the field was not written directly.
	running, _ := env.engine.Running(ctx)
	if running {
		t.Error("approved stop must invoke the engine stop operation")
	}
	field, _ := env.params.Get(ctx, "engine_running")
	if field.(bool) != true {
		t.Error("engine-bound parameters must not fall through to a plain field write")
	}

	entries, _ := env.audit.Query(ctx, AuditFilter{})
	if len(entries) != 1 || entries[0].Source != SourceApproved || entries[0].ApprovedBy != "user" {
		t.Fatalf("expected one approved audit entry, got %+v", entries)
	}
}

func TestRedApprovedStartInvokesEngine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.RequestRed(ctx, "engine_running", true,
		"resuming after maintenance", "trading resumes", "APPROVE CHANGE ENGINE RUNNING")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusApplied {
		t.Fatalf("expected applied, got %s", result.Status)
	}
	if result.OldValue.(bool) != false || result.NewValue.(bool) != true {
		t.Errorf("expected false -> true transition, got %v -> %v", result.OldValue, result.NewValue)
	}

	running, _ := env.engine.Running(ctx)
	if !running {
		t.Error("approved start must invoke the engine start operation")
	}
}

func TestRedApprovalMismatchRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.RequestRed(context.Background(), "engine_running", false,
		"", "", "yes please")
	if CodeOf(err) != CodeApprovalMismatch {
		t.Fatalf("expected ApprovalMismatch, got %v", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.RequiredPhrase != "APPROVE CHANGE ENGINE RUNNING" {
		t.Errorf("rejection must carry the exact required phrase, got %+v", te)
	}

	running, _ := env.engine.Running(context.Background())
	if !running {
		t.Error("rejected approval must not touch the engine")
	}
}

func TestSnapshotAfterApprovedStopKeepsEngineStopped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.orch.RequestRed(ctx, "engine_running", false,
		"halting", "engine stops", "APPROVE CHANGE ENGINE RUNNING"); err != nil {
		t.Fatal(err)
	}

	snap, err := env.orch.TakeSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Parameters["engine_running"].(bool) != false {
		t.Fatal("snapshot after an approved stop must record the engine as stopped")
	}

	if _, err := env.orch.Rollback(ctx, snap.ID); err != nil {
		t.Fatal(err)
	}
	running, _ := env.engine.Running(ctx)
	if running {
		t.Error("rolling back to a stopped-engine snapshot must not restart the engine")
	}
}

func TestRedNumericParameterWritesField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.orch.RequestRed(ctx, "max_daily_loss_percent", 5.0,
		"loosening for trending market", "larger drawdowns possible",
		"APPROVE CHANGE MAX DAILY LOSS PERCENT")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusApplied {
		t.Fatalf("expected applied, got %s", result.Status)
	}

	stored, _ := env.params.Get(ctx, "max_daily_loss_percent")
	if stored.(float64) != 5 {
		t.Errorf("expected 5 applied, got %v", stored)
	}
}

// ==================== ROLLBACK ====================

func TestRollbackWithNoSnapshots(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.Rollback(context.Background(), "")
	if CodeOf(err) != CodeNoSnapshot {
		t.Fatalf("expected NoSnapshot, got %v", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.Message != "no previous snapshot available" {
		t.Errorf("unexpected message %q", te.Message)
	}
}

func TestRollbackRestoresLatestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Apply a change; the pre-change snapshot holds rsi_oversold=30.
	applied, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.Rollback(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	if result.RestoredSnapshotID != applied.SnapshotID {
		t.Errorf("expected rollback to the pre-change snapshot %s, got %s",
			applied.SnapshotID, result.RestoredSnapshotID)
	}
	if result.PreRollbackSnapshotID == "" || result.PreRollbackSnapshotID == result.RestoredSnapshotID {
		t.Error("rollback must first take a fresh pre-rollback snapshot")
	}
	if len(result.Failed) != 0 {
		t.Errorf("unexpected failed fields: %v", result.Failed)
	}

	stored, _ := env.params.Get(ctx, "rsi_oversold")
	if stored.(float64) != 30 {
		t.Errorf("expected restored value 30, got %v", stored)
	}

	// The pre-rollback snapshot preserves the rolled-back state, so the
	// rollback itself can be undone.
	pre, err := env.snaps.GetByID(ctx, result.PreRollbackSnapshotID)
	if err != nil {
		t.Fatal(err)
	}
	if pre.Parameters["rsi_oversold"].(float64) != 25 {
		t.Errorf("pre-rollback snapshot should hold 25, got %v", pre.Parameters["rsi_oversold"])
	}

	entries, _ := env.audit.Query(ctx, AuditFilter{ParameterKey: "_rollback"})
	if len(entries) != 1 {
		t.Fatalf("expected one synthetic rollback audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Tier != TierRed {
		t.Errorf("rollback entries are RED, got %s", entry.Tier)
	}
	if entry.OldValue.(string) != result.PreRollbackSnapshotID ||
		entry.NewValue.(string) != result.RestoredSnapshotID {
		t.Error("rollback entry must link both snapshot ids")
	}
}

func TestRollbackToExplicitSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.orch.TakeSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.ApplyGreen(ctx, "min_confidence", 0.7, ""); err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.Rollback(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.RestoredSnapshotID != first.ID {
		t.Fatalf("expected restore of %s, got %s", first.ID, result.RestoredSnapshotID)
	}

	rsi, _ := env.params.Get(ctx, "rsi_oversold")
	conf, _ := env.params.Get(ctx, "min_confidence")
	if rsi.(float64) != 30 || conf.(float64) != 0.6 {
		t.Errorf("expected defaults restored, got rsi=%v conf=%v", rsi, conf)
	}
}

func TestRollbackUnknownSnapshotID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.orch.TakeSnapshot(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := env.orch.Rollback(ctx, "00000000-0000-0000-0000-000000000000")
	if CodeOf(err) != CodeNoSnapshot {
		t.Fatalf("expected NoSnapshot, got %v", err)
	}
}

// ==================== INTROSPECTION ====================

func TestListBoundsGroupsByTier(t *testing.T) {
	env := newTestEnv(t)

	grouped := env.orch.ListBounds()
	if len(grouped[TierGreen]) == 0 || len(grouped[TierYellow]) == 0 || len(grouped[TierRed]) == 0 {
		t.Fatalf("expected parameters in every tier, got %v", grouped)
	}
}

func TestAuditHistoryFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.orch.ApplyGreen(ctx, "rsi_oversold", 25.0, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.ApplyGreen(ctx, "min_confidence", 0.7, ""); err != nil {
		t.Fatal(err)
	}

	byParam, err := env.orch.AuditHistory(ctx, AuditFilter{ParameterKey: "rsi_oversold"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byParam) != 1 || byParam[0].ParameterKey != "rsi_oversold" {
		t.Errorf("parameter filter failed: %+v", byParam)
	}

	byTier, err := env.orch.AuditHistory(ctx, AuditFilter{Tier: TierGreen})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTier) != 2 {
		t.Errorf("expected two GREEN entries, got %d", len(byTier))
	}

	// Most recent first.
	if byTier[0].ParameterKey != "min_confidence" {
		t.Errorf("expected newest entry first, got %s", byTier[0].ParameterKey)
	}
}
