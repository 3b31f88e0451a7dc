package handlers

import (
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/chat"
	"github.com/suPer8Hu/sensei/internal/logging"
)

type Handler struct {
	ChatSvc *chat.Service
	Log     *zap.Logger
}

func NewHandler(svc *chat.Service, log *zap.Logger) *Handler {
	return &Handler{ChatSvc: svc, Log: logging.OrNop(log)}
}
