package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/common"
	"github.com/suPer8Hu/sensei/internal/httpapi/handlers"
	"github.com/suPer8Hu/sensei/internal/httpapi/middleware"
	"github.com/suPer8Hu/sensei/internal/logging"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	log = logging.OrNop(log)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	r.POST("/chat", h.Chat)
	r.GET("/chat/:user_id/history", h.ChatHistory)

	r.POST("/trade/entry", h.TradeEntry)
	r.POST("/dashboard/briefing", h.DashboardBriefing)
	r.POST("/concepts/explain", h.ExplainConcept)
	r.POST("/modules/recommend", h.RecommendModule)

	r.POST("/events", h.SubmitEvent)
	r.GET("/events/:id", h.GetEvent)
	return r
}
