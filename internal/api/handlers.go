package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading-control-plane/internal/tuning"
)

// ==================== REQUEST TYPES ====================

// AdjustGreenRequest applies a low-risk adjustment
type AdjustGreenRequest struct {
	Parameter string      `json:"parameter" binding:"required"`
	Value     interface{} `json:"value" binding:"required"`
	Reasoning string      `json:"reasoning"`
}

// AdjustYellowRequest requests or confirms a medium-risk adjustment
type AdjustYellowRequest struct {
	Parameter    string      `json:"parameter" binding:"required"`
	Value        interface{} `json:"value" binding:"required"`
	Reasoning    string      `json:"reasoning"`
	ConfirmToken string      `json:"confirm_token"`
}

// AdjustRedRequest requests or approves a high-risk adjustment
type AdjustRedRequest struct {
	Parameter      string      `json:"parameter" binding:"required"`
	Value          interface{} `json:"value" binding:"required"`
	Reasoning      string      `json:"reasoning"`
	RiskAssessment string      `json:"risk_assessment"`
	ApprovalText   string      `json:"approval_text"`
}

// RollbackRequest restores a snapshot (the latest when id is empty)
type RollbackRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// ==================== HANDLERS ====================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAdjustGreen(c *gin.Context) {
	var req AdjustGreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.orchestrator.ApplyGreen(c.Request.Context(), req.Parameter, req.Value, req.Reasoning)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAdjustYellow(c *gin.Context) {
	var req AdjustYellowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.orchestrator.RequestYellow(c.Request.Context(), req.Parameter, req.Value, req.Reasoning, req.ConfirmToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if result.Status == tuning.StatusPendingConfirmation {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func (s *Server) handleAdjustRed(c *gin.Context) {
	var req AdjustRedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.orchestrator.RequestRed(c.Request.Context(), req.Parameter, req.Value, req.Reasoning, req.RiskAssessment, req.ApprovalText)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if result.Status == tuning.StatusPendingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func (s *Server) handleRollback(c *gin.Context) {
	var req RollbackRequest
	// Body is optional; an empty body means "latest snapshot".
	_ = c.ShouldBindJSON(&req)

	result, err := s.orchestrator.Rollback(c.Request.Context(), req.SnapshotID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListParameters(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.ListBounds())
}

func (s *Server) handleAuditHistory(c *gin.Context) {
	filter := tuning.AuditFilter{
		Tier:         tuning.Tier(c.Query("tier")),
		ParameterKey: c.Query("parameter"),
		Limit:        intQuery(c, "limit", 50),
	}

	entries, err := s.orchestrator.AuditHistory(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	snaps, err := s.orchestrator.Snapshots(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

func (s *Server) handleTakeSnapshot(c *gin.Context) {
	snap, err := s.orchestrator.TakeSnapshot(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// writeError maps tuning error codes onto HTTP statuses, keeping the
// code and retry context in the body.
func (s *Server) writeError(c *gin.Context, err error) {
	var te *tuning.Error
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	if code := tuning.CodeOf(err); code != "" {
		body["code"] = string(code)
		switch code {
		case tuning.CodeUnknownParameter, tuning.CodeNoSnapshot:
			status = http.StatusNotFound
		case tuning.CodeWrongTier, tuning.CodeInvalidValue:
			status = http.StatusBadRequest
		case tuning.CodeInvalidToken:
			status = http.StatusUnauthorized
		case tuning.CodeApprovalMismatch:
			status = http.StatusForbidden
		case tuning.CodeCooldownActive:
			status = http.StatusTooManyRequests
		case tuning.CodeApplyFailed, tuning.CodeSnapshotFailed, tuning.CodeAuditWriteFailed:
			status = http.StatusBadGateway
		}
	}

	if errors.As(err, &te) {
		if te.RemainingSeconds > 0 {
			body["remaining_seconds"] = te.RemainingSeconds
		}
		if te.RequiredPhrase != "" {
			body["required_approval"] = te.RequiredPhrase
		}
		if te.Code == tuning.CodeInvalidValue && te.Max != 0 {
			body["min"] = te.Min
			body["max"] = te.Max
		}
	}

	c.JSON(status, body)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
