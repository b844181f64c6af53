package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/common"
	"github.com/pulsechat/pulsechat/internal/metrics"
	"github.com/pulsechat/pulsechat/internal/store/redisstore"
)

const defaultDashboardWindow = 24 * time.Hour

// DashboardMetrics computes the aggregate dashboard for a time window.
// Trend deltas compare against the window of equal duration immediately
// before `from`. Results are cached briefly in redis per filter triple.
func (h *Handler) DashboardMetrics(c *gin.Context) {
	userID := c.Query("userId")

	to := time.Now()
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10007, "to must be RFC3339")
			return
		}
		to = t
	}
	from := to.Add(-defaultDashboardWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10007, "from must be RFC3339")
			return
		}
		from = t
	}
	if !from.Before(to) {
		common.Fail(c, http.StatusBadRequest, 10008, "from must be before to")
		return
	}

	ctx := c.Request.Context()
	cacheKey := redisstore.DashboardKey(userID, from, to)

	if h.Redis != nil {
		if b, hit, err := h.Redis.GetDashboard(ctx, cacheKey); err != nil {
			h.Log.Warn("dashboard cache read failed", "error", err)
		} else if hit {
			common.OK(c, json.RawMessage(b))
			return
		}
	}

	window := to.Sub(from)
	prevFrom, prevTo := from.Add(-window), from

	msgs, err := h.Repo.ListMessagesWindow(ctx, userID, from, to)
	if err != nil {
		h.Log.Error("dashboard message query failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	prevMsgs, err := h.Repo.ListMessagesWindow(ctx, userID, prevFrom, prevTo)
	if err != nil {
		h.Log.Error("dashboard previous-window query failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	sessionCount, err := h.Repo.CountSessionsWindow(ctx, userID, from, to)
	if err != nil {
		h.Log.Error("dashboard session count failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	suggestions, err := h.Repo.ListAllSuggestions(ctx)
	if err != nil {
		h.Log.Error("dashboard suggestion query failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	vitalRows, err := h.Vitals.ListWindow(ctx, userID, from, to)
	if err != nil {
		h.Log.Error("dashboard vitals query failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}

	dash := metrics.Aggregate(metrics.Input{
		Messages:         msgs,
		PreviousMessages: prevMsgs,
		SessionCount:     sessionCount,
		Suggestions:      suggestions,
		Vitals:           vitalRows,
	})

	payload, err := json.Marshal(dash)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	if h.Redis != nil {
		if err := h.Redis.SetDashboard(ctx, cacheKey, payload); err != nil {
			h.Log.Warn("dashboard cache write failed", "error", err)
		}
	}

	common.OK(c, json.RawMessage(payload))
}
