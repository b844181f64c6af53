package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/chat"
	"github.com/pulsechat/pulsechat/internal/common"
)

type sendChatReq struct {
	SessionID string `json:"sessionId" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

// SendChat streams one assistant turn as server-sent events. Each event is a
// single `data:` line carrying a JSON record; the stream ends after the done
// or error event, or silently when the client disconnects mid-stream.
func (h *Handler) SendChat(c *gin.Context) {
	var req sendChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "sessionId, userId and prompt are required")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "data: {\"type\":\"error\",\"message\":\"streaming not supported\"}\n\n")
		return
	}

	writeEvent := func(ev chat.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(c.Writer, "data: {\"type\":\"error\",\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	ctx := c.Request.Context()
	events := h.ChatSvc.SendPrompt(ctx, req.SessionID, req.UserID, req.Prompt)

	for ev := range events {
		writeEvent(ev)
		if ev.Type == chat.EventDone || ev.Type == chat.EventError {
			return
		}
	}
	// channel closed without a terminal event: client went away, nothing to do
}
