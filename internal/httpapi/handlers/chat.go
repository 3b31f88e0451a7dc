package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/chat"
	"github.com/suPer8Hu/sensei/internal/common"
	"github.com/suPer8Hu/sensei/internal/httpapi/middleware"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "operational"})
}

type chatReq struct {
	UserID    string         `json:"user_id" binding:"required"`
	Query     string         `json:"query" binding:"required"`
	UserState chat.UserState `json:"user_state"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "query required")
		return
	}

	res, err := h.ChatSvc.Chat(c.Request.Context(), req.UserID, req.Query, req.UserState)
	if err != nil {
		h.internal(c, "chat", err, zap.String("user_id", req.UserID))
		return
	}

	common.OK(c, res)
}

func (h *Handler) ChatHistory(c *gin.Context) {
	userID := c.Param("user_id")
	turns := h.ChatSvc.History(userID)
	common.OK(c, gin.H{
		"user_id": userID,
		"turns":   turns,
	})
}

func (h *Handler) internal(c *gin.Context, op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("request_id", c.GetString(middleware.RequestIDKey)), zap.Error(err))
	h.Log.Error(op+" failed", fields...)
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}
