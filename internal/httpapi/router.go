package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/common"
	"github.com/pulsechat/pulsechat/internal/httpapi/handlers"
	"github.com/pulsechat/pulsechat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.POST("/chat", h.SendChat)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/suggestions/click", h.ClickSuggestion)
	api.POST("/suggestions/:id/rank", h.RankSuggestion)
	api.POST("/vitals", h.ReportVital)
	api.GET("/dashboard/metrics", h.DashboardMetrics)

	return r
}
