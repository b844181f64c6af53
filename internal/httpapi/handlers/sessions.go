package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/common"
	"gorm.io/gorm"
)

func (h *Handler) ListSessions(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "userId is required")
		return
	}

	sessions, err := h.Repo.ListSessionsByUser(c.Request.Context(), userID)
	if err != nil {
		h.Log.Error("list sessions failed", "user_id", userID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}

	common.OK(c, gin.H{"sessions": sessions})
}

// GetSession returns one session with its transcript; assistant suggestion
// texts are resolved to their canonical records so the client sees current
// click and rating counters.
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.Repo.GetSessionBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		h.Log.Error("get session failed", "session_id", sessionID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}

	msgs, suggestions, err := h.ChatSvc.ListMessagesWithSuggestions(c.Request.Context(), sessionID)
	if err != nil {
		h.Log.Error("list messages failed", "session_id", sessionID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}

	common.OK(c, gin.H{
		"session":     sess,
		"messages":    msgs,
		"suggestions": suggestions,
	})
}
