package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/chat"
	"github.com/pulsechat/pulsechat/internal/common"
	"github.com/pulsechat/pulsechat/internal/config"
	"github.com/pulsechat/pulsechat/internal/outbox"
	"github.com/pulsechat/pulsechat/internal/store/rabbitmq"
	"github.com/pulsechat/pulsechat/internal/store/redisstore"
	"github.com/pulsechat/pulsechat/internal/vitals"
)

// Handler carries the wired dependencies for all routes. Redis, Rabbit and
// the telemetry dispatcher are optional; handlers degrade to direct DB paths
// or skip export when they are nil.
type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	Repo    *chat.Repo
	Vitals  *vitals.Repo
	Redis   *redisstore.Store
	Rabbit  *rabbitmq.Publisher
	Log     *slog.Logger

	Dispatcher   *outbox.Dispatcher
	CollectorURL string
}

func NewHandler(cfg config.Config, svc *chat.Service, repo *chat.Repo, vr *vitals.Repo, rds *redisstore.Store, pub *rabbitmq.Publisher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Cfg:     cfg,
		ChatSvc: svc,
		Repo:    repo,
		Vitals:  vr,
		Redis:   rds,
		Rabbit:  pub,
		Log:     log,
	}
}

// SetTelemetryExport wires the outbox used to forward suggestion interaction
// events to the collector.
func (h *Handler) SetTelemetryExport(d *outbox.Dispatcher, collectorURL string) {
	h.Dispatcher = d
	h.CollectorURL = collectorURL
}

// exportInteraction forwards a click or rating event; delivery failures never
// reach the caller.
func (h *Handler) exportInteraction(ctx context.Context, body any) {
	if h.Dispatcher == nil || h.CollectorURL == "" {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := h.Dispatcher.SendOrQueue(sendCtx, h.CollectorURL+"/events/interaction", "POST", body, nil); err != nil {
		h.Log.Warn("interaction telemetry dropped", "error", err)
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}
