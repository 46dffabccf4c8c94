package tuning

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Status is the terminal state of one adjustment attempt.
type Status string

const (
	StatusApplied             Status = "applied"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusPendingApproval     Status = "pending_approval"
)

// Result is the outcome of a GREEN/YELLOW/RED workflow call.
type Result struct {
	Status    Status      `json:"status"`
	Parameter string      `json:"parameter"`
	Tier      Tier        `json:"tier"`
	OldValue  interface{} `json:"old_value,omitempty"`
	NewValue  interface{} `json:"new_value"`
	Clamped   bool        `json:"clamped,omitempty"`
	Source    Source      `json:"source,omitempty"`

	SnapshotID string `json:"snapshot_id,omitempty"`
	AuditID    string `json:"audit_id,omitempty"`

	// Pending confirmation (YELLOW without a token).
	ConfirmToken string `json:"confirm_token,omitempty"`
	Prompt       string `json:"prompt,omitempty"`

	// Pending approval (RED without approval text).
	RequiredApproval string `json:"required_approval,omitempty"`
	RiskAssessment   string `json:"risk_assessment,omitempty"`
}

// RollbackResult reports a completed rollback, including the snapshot
// taken just before it so the rollback itself can be undone.
type RollbackResult struct {
	RestoredSnapshotID    string            `json:"restored_snapshot_id"`
	PreRollbackSnapshotID string            `json:"pre_rollback_snapshot_id"`
	Restored              []string          `json:"restored"`
	Failed                map[string]string `json:"failed,omitempty"`
	AuditID               string            `json:"audit_id"`
}

// Orchestrator composes the registry, validator, cooldown tracker, token
// service, snapshot service, and audit log into the per-tier workflows.
// It is the only component callers invoke directly.
//
// Within one call, operations run strictly in sequence: validate, then
// cooldown, then snapshot, then apply, then audit. Two concurrent calls
// for the same parameter can both pass the cooldown check before either
// audit entry lands; a single logical writer is a deployment
// requirement, not something this type enforces.
type Orchestrator struct {
	registry  *Registry
	params    ParameterStore
	engine    EngineController
	audit     *AuditLog
	snapshots *SnapshotService
	cooldown  *CooldownTracker
	tokens    *TokenService
	notifier  Notifier
	logger    zerolog.Logger
}

// NewOrchestrator wires the tiered adjustment engine. A nil notifier
// disables event delivery.
func NewOrchestrator(
	registry *Registry,
	params ParameterStore,
	engine EngineController,
	audit *AuditLog,
	snapshots *SnapshotService,
	cooldown *CooldownTracker,
	tokens *TokenService,
	notifier Notifier,
	logger zerolog.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		registry:  registry,
		params:    params,
		engine:    engine,
		audit:     audit,
		snapshots: snapshots,
		cooldown:  cooldown,
		tokens:    tokens,
		notifier:  notifier,
		logger:    logger.With().Str("component", "Orchestrator").Logger(),
	}
}

// ApplyGreen applies a low-risk adjustment in a single call.
func (o *Orchestrator) ApplyGreen(ctx context.Context, parameterKey string, newValue interface{}, reasoning string) (*Result, error) {
	d, err := o.descriptorForTier(parameterKey, TierGreen)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	if err := o.checkCooldown(ctx, d); err != nil {
		return nil, o.reject(parameterKey, err)
	}
	validated, err := Validate(d, newValue)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	return o.apply(ctx, d, validated, reasoning, SourceAuto, "")
}

// RequestYellow runs the medium-risk workflow. Without a confirmation
// token it returns a pending result carrying a prompt and a fresh token;
// no mutation and no snapshot occur. With a token it verifies the token
// against the exact proposed change, then applies.
func (o *Orchestrator) RequestYellow(ctx context.Context, parameterKey string, newValue interface{}, reasoning, confirmToken string) (*Result, error) {
	d, err := o.descriptorForTier(parameterKey, TierYellow)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	validated, err := Validate(d, newValue)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	actionID := "tune_" + d.Key
	paramsHash := HashParams(d.Key, validated.Value)

	if confirmToken == "" {
		token, err := o.tokens.Generate(actionID, paramsHash)
		if err != nil {
			return nil, o.reject(parameterKey, ioError(CodeApplyFailed, "failed to issue confirmation token", err))
		}
		return &Result{
			Status:       StatusPendingConfirmation,
			Parameter:    d.Key,
			Tier:         d.Tier,
			NewValue:     validated.Value,
			Clamped:      validated.Clamped,
			ConfirmToken: token,
			Prompt: fmt.Sprintf("Confirm changing %s to %v. Resubmit with the provided token within %s.",
				d.Name, validated.Value, o.tokens.TTL()),
		}, nil
	}

	if err := o.tokens.Validate(confirmToken, actionID, paramsHash); err != nil {
		return nil, o.reject(parameterKey, err)
	}
	if err := o.checkCooldown(ctx, d); err != nil {
		return nil, o.reject(parameterKey, err)
	}
	return o.apply(ctx, d, validated, reasoning, SourceConfirmed, "")
}

// RequestRed runs the high-risk workflow. Without approval text it
// returns a pending result carrying the exact required phrase. With
// approval text it requires a case-insensitive exact match, then applies.
func (o *Orchestrator) RequestRed(ctx context.Context, parameterKey string, newValue interface{}, reasoning, riskAssessment, approvalText string) (*Result, error) {
	d, err := o.descriptorForTier(parameterKey, TierRed)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	validated, err := Validate(d, newValue)
	if err != nil {
		return nil, o.reject(parameterKey, err)
	}
	phrase := RequiredApprovalPhrase(d)

	if approvalText == "" {
		return &Result{
			Status:           StatusPendingApproval,
			Parameter:        d.Key,
			Tier:             d.Tier,
			NewValue:         validated.Value,
			Clamped:          validated.Clamped,
			RequiredApproval: phrase,
			RiskAssessment:   riskAssessment,
		}, nil
	}

	if !strings.EqualFold(strings.TrimSpace(approvalText), phrase) {
		return nil, o.reject(parameterKey, approvalMismatch(phrase))
	}
	if err := o.checkCooldown(ctx, d); err != nil {
		return nil, o.reject(parameterKey, err)
	}
	return o.apply(ctx, d, validated, reasoning, SourceApproved, "user")
}

// Rollback restores the target snapshot (the latest one when snapshotID
// is empty). A fresh pre-rollback snapshot is taken first so the
// rollback itself can be undone.
func (o *Orchestrator) Rollback(ctx context.Context, snapshotID string) (*RollbackResult, error) {
	var target *Snapshot
	var err error
	if snapshotID != "" {
		target, err = o.snapshots.GetByID(ctx, snapshotID)
	} else {
		target, err = o.snapshots.Latest(ctx)
	}
	if err != nil {
		return nil, ioError(CodeSnapshotFailed, "failed to load target snapshot", err)
	}
	if target == nil {
		if snapshotID != "" {
			return nil, &Error{Code: CodeNoSnapshot, Message: fmt.Sprintf("snapshot %q not found", snapshotID)}
		}
		return nil, &Error{Code: CodeNoSnapshot, Message: "no previous snapshot available"}
	}

	pre, err := o.snapshots.Take(ctx)
	if err != nil {
		return nil, ioError(CodeSnapshotFailed, "failed to take pre-rollback snapshot", err)
	}

	restore := o.snapshots.Restore(ctx, target)

	entry, err := o.audit.Append(ctx, AuditEntry{
		ParameterKey: "_rollback",
		Tier:         TierRed,
		OldValue:     pre.ID,
		NewValue:     target.ID,
		Reasoning:    fmt.Sprintf("rollback to snapshot %s", target.ID),
		Source:       SourceApproved,
		ApprovedBy:   "user",
		SnapshotID:   pre.ID,
	})
	if err != nil {
		return nil, ioError(CodeAuditWriteFailed, "rollback applied but audit write failed", err)
	}

	o.notifier.RollbackCompleted(target.ID, pre.ID)
	return &RollbackResult{
		RestoredSnapshotID:    target.ID,
		PreRollbackSnapshotID: pre.ID,
		Restored:              restore.Restored,
		Failed:                restore.Failed,
		AuditID:               entry.ID,
	}, nil
}

// ListBounds returns every registered parameter grouped by tier.
func (o *Orchestrator) ListBounds() map[Tier][]*ParameterDescriptor {
	return o.registry.ByTier()
}

// AuditHistory returns applied adjustments, most recent first.
func (o *Orchestrator) AuditHistory(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return o.audit.Query(ctx, filter)
}

// TakeSnapshot captures the current state on demand.
func (o *Orchestrator) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := o.snapshots.Take(ctx)
	if err != nil {
		return nil, ioError(CodeSnapshotFailed, "snapshot failed", err)
	}
	return snap, nil
}

// Snapshots lists stored snapshots, newest first.
func (o *Orchestrator) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	return o.snapshots.List(ctx, limit)
}

// RequiredApprovalPhrase derives the exact text a human must type to
// authorize a RED change to d.
func RequiredApprovalPhrase(d *ParameterDescriptor) string {
	return "APPROVE CHANGE " + strings.ToUpper(d.Name)
}

func (o *Orchestrator) descriptorForTier(key string, want Tier) (*ParameterDescriptor, error) {
	d, err := o.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if d.Tier != want {
		return nil, wrongTier(key, want, d.Tier)
	}
	return d, nil
}

func (o *Orchestrator) checkCooldown(ctx context.Context, d *ParameterDescriptor) error {
	remaining, err := o.cooldown.Remaining(ctx, d.Key, d.Cooldown)
	if err != nil {
		return ioError(CodeAuditWriteFailed, "cooldown check failed", err)
	}
	if remaining > 0 {
		return cooldownActive(d.Key, remaining)
	}
	return nil
}

// apply performs the shared snapshot -> mutate -> audit tail of every
// workflow. The snapshot strictly precedes the mutation; the audit entry
// is written only after the mutation succeeds, so a failed apply leaves
// the snapshot as the sole artifact of the attempt.
func (o *Orchestrator) apply(ctx context.Context, d *ParameterDescriptor, validated ValidationResult, reasoning string, source Source, approvedBy string) (*Result, error) {
	oldValue, err := o.currentValue(ctx, d)
	if err != nil {
		return nil, o.reject(d.Key, ioError(CodeApplyFailed, "failed to read current value", err))
	}

	snap, err := o.snapshots.Take(ctx)
	if err != nil {
		return nil, o.reject(d.Key, ioError(CodeSnapshotFailed, "pre-change snapshot failed", err))
	}

	if err := o.writeValue(ctx, d, validated.Value); err != nil {
		return nil, o.reject(d.Key, ioError(CodeApplyFailed, fmt.Sprintf("failed to apply %q", d.Key), err))
	}

	entry, err := o.audit.Append(ctx, AuditEntry{
		ParameterKey: d.Key,
		Tier:         d.Tier,
		OldValue:     oldValue,
		NewValue:     validated.Value,
		Reasoning:    reasoning,
		Source:       source,
		ApprovedBy:   approvedBy,
		SnapshotID:   snap.ID,
	})
	if err != nil {
		return nil, ioError(CodeAuditWriteFailed, "change applied but audit write failed", err)
	}

	o.logger.Info().
		Str("parameter", d.Key).
		Str("tier", string(d.Tier)).
		Str("source", string(source)).
		Bool("clamped", validated.Clamped).
		Msg("adjustment applied")
	o.notifier.AdjustmentApplied(entry)

	return &Result{
		Status:     StatusApplied,
		Parameter:  d.Key,
		Tier:       d.Tier,
		OldValue:   oldValue,
		NewValue:   validated.Value,
		Clamped:    validated.Clamped,
		Source:     source,
		SnapshotID: snap.ID,
		AuditID:    entry.ID,
	}, nil
}

func (o *Orchestrator) currentValue(ctx context.Context, d *ParameterDescriptor) (interface{}, error) {
	if d.Action == ActionEngineRun {
		return o.engine.Running(ctx)
	}
	return o.params.Get(ctx, d.StoreField)
}

func (o *Orchestrator) writeValue(ctx context.Context, d *ParameterDescriptor, value interface{}) error {
	if d.Action == ActionEngineRun {
		run, ok := value.(bool)
		if !ok {
			return fmt.Errorf("engine action expects bool, got %T", value)
		}
		if run {
			return o.engine.Start(ctx)
		}
		return o.engine.Stop(ctx)
	}
	return o.params.Set(ctx, d.StoreField, value)
}

func (o *Orchestrator) reject(parameterKey string, err error) error {
	if code := CodeOf(err); code != "" {
		o.notifier.AdjustmentRejected(parameterKey, code)
	}
	return err
}
