package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/sensei/internal/chat"
	"github.com/suPer8Hu/sensei/internal/common"
	"github.com/suPer8Hu/sensei/internal/synth"
)

type tradeEntryReq struct {
	Asset string `json:"asset" binding:"required"`
	Side  string `json:"side" binding:"required"`
}

func (h *Handler) TradeEntry(c *gin.Context) {
	var req tradeEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	tip, err := h.ChatSvc.AnalyzeTradeEntry(c.Request.Context(), req.Asset, req.Side)
	if err != nil {
		h.internal(c, "trade entry", err)
		return
	}
	common.OK(c, gin.H{"feedback": tip})
}

type briefingReq struct {
	EventType string            `json:"event_type" binding:"required"`
	Payload   map[string]any    `json:"payload"`
	Metrics   chat.TradeMetrics `json:"trade_metrics"`
}

func (h *Handler) DashboardBriefing(c *gin.Context) {
	var req briefingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, err := h.ChatSvc.ProcessEvent(c.Request.Context(), synth.EventKind(req.EventType), req.Payload, req.Metrics)
	if err != nil {
		h.internal(c, "dashboard briefing", err, zap.String("event_type", req.EventType))
		return
	}
	common.OK(c, res)
}

type explainReq struct {
	HighlightedText string `json:"highlighted_text" binding:"required"`
	CurrentChapter  string `json:"current_chapter"`
}

func (h *Handler) ExplainConcept(c *gin.Context) {
	var req explainReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	text, err := h.ChatSvc.ExplainConcept(c.Request.Context(), req.HighlightedText, req.CurrentChapter)
	if err != nil {
		h.internal(c, "explain concept", err)
		return
	}
	common.OK(c, gin.H{"explanation": text})
}

type recommendReq struct {
	Trade      chat.TradeAnalysis `json:"trade"`
	Curriculum []string           `json:"curriculum" binding:"required,min=1"`
}

func (h *Handler) RecommendModule(c *gin.Context) {
	var req recommendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	rec, err := h.ChatSvc.RecommendNextModule(c.Request.Context(), req.Trade, req.Curriculum)
	if err != nil {
		h.internal(c, "recommend module", err)
		return
	}
	common.OK(c, rec)
}

type submitEventReq struct {
	UserID    string            `json:"user_id" binding:"required"`
	EventType string            `json:"event_type" binding:"required"`
	Payload   map[string]any    `json:"payload"`
	Metrics   chat.TradeMetrics `json:"trade_metrics"`
}

func (h *Handler) SubmitEvent(c *gin.Context) {
	var req submitEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	job, created, err := h.ChatSvc.SubmitEvent(c.Request.Context(), chat.EventInput{
		UserID:         req.UserID,
		Kind:           synth.EventKind(req.EventType),
		Payload:        req.Payload,
		Metrics:        req.Metrics,
		IdempotencyKey: idempoKey,
	})
	if err != nil {
		h.internal(c, "submit event", err, zap.String("user_id", req.UserID))
		return
	}

	common.OK(c, gin.H{"job_id": job.ID, "status": job.Status, "created": created})
}

func (h *Handler) GetEvent(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job id required")
		return
	}

	j, err := h.ChatSvc.GetEvent(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.internal(c, "get event", err, zap.String("job_id", jobID))
		return
	}

	common.OK(c, gin.H{"job": j})
}
