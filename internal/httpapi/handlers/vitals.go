package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/common"
	"github.com/pulsechat/pulsechat/internal/store/rabbitmq"
	"github.com/pulsechat/pulsechat/internal/vitals"
)

type reportVitalReq struct {
	SessionID string     `json:"sessionId" binding:"required"`
	UserID    string     `json:"userId" binding:"required"`
	Metric    string     `json:"metric" binding:"required"`
	Value     *float64   `json:"value" binding:"required"`
	Rating    string     `json:"rating" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	PageURL   string     `json:"pageUrl"`
	UserAgent string     `json:"userAgent"`
	Device    string     `json:"device"`
}

// ReportVital accepts one Web Vitals measurement. With RabbitMQ wired the
// report is published to the ingest queue and persisted by the worker;
// without it the row is written directly.
func (h *Handler) ReportVital(c *gin.Context) {
	var req reportVitalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "sessionId, userId, metric, value and rating are required")
		return
	}
	if !vitals.ValidMetric(req.Metric) {
		common.Fail(c, http.StatusBadRequest, 10004, "unknown metric")
		return
	}
	if !vitals.ValidRating(req.Rating) {
		common.Fail(c, http.StatusBadRequest, 10005, "unknown rating")
		return
	}
	if *req.Value < 0 {
		common.Fail(c, http.StatusBadRequest, 10006, "value must be non-negative")
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	if h.Rabbit != nil {
		err := h.Rabbit.PublishVital(c.Request.Context(), rabbitmq.VitalMessage{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Metric:    req.Metric,
			Value:     *req.Value,
			Rating:    req.Rating,
			Timestamp: ts,
			PageURL:   req.PageURL,
			UserAgent: req.UserAgent,
			Device:    req.Device,
		})
		if err == nil {
			common.OK(c, gin.H{"accepted": true})
			return
		}
		// broker down: fall through to the direct path rather than lose the report
		h.Log.Warn("vital publish failed, writing directly", "error", err)
	}

	v := &vitals.Vital{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Metric:    req.Metric,
		Value:     *req.Value,
		Rating:    req.Rating,
		Timestamp: ts,
		PageURL:   req.PageURL,
	}
	if req.UserAgent != "" {
		v.UserAgent = &req.UserAgent
	}
	if req.Device != "" {
		v.Device = &req.Device
	}
	if err := h.Vitals.Insert(c.Request.Context(), v); err != nil {
		h.Log.Error("vital insert failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to record vital")
		return
	}

	common.OK(c, gin.H{"accepted": true})
}
