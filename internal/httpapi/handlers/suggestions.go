package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pulsechat/pulsechat/internal/common"
	"gorm.io/gorm"
)

type clickSuggestionReq struct {
	SuggestionID uint64 `json:"suggestionId" binding:"required"`
}

func (h *Handler) ClickSuggestion(c *gin.Context) {
	var req clickSuggestionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "suggestionId is required")
		return
	}

	if err := h.Repo.IncrementSuggestionClick(c.Request.Context(), req.SuggestionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "suggestion not found")
			return
		}
		h.Log.Error("click suggestion failed", "suggestion_id", req.SuggestionID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
		return
	}

	h.exportInteraction(c.Request.Context(), gin.H{
		"event":        "suggestion_click",
		"suggestionId": req.SuggestionID,
	})

	common.OK(c, gin.H{"suggestionId": req.SuggestionID})
}

type rankSuggestionReq struct {
	Rank int `json:"rank" binding:"required"`
}

func (h *Handler) RankSuggestion(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid suggestion id")
		return
	}

	var req rankSuggestionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Rank < 1 || req.Rank > 5 {
		common.Fail(c, http.StatusBadRequest, 10003, "rank must be between 1 and 5")
		return
	}

	if err := h.Repo.AddSuggestionRating(c.Request.Context(), id, req.Rank); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "suggestion not found")
			return
		}
		h.Log.Error("rank suggestion failed", "suggestion_id", id, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
		return
	}

	s, err := h.Repo.GetSuggestionByID(c.Request.Context(), id)
	if err != nil {
		h.Log.Error("reload suggestion failed", "suggestion_id", id, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
		return
	}

	h.exportInteraction(c.Request.Context(), gin.H{
		"event":        "suggestion_rank",
		"suggestionId": id,
		"rank":         req.Rank,
	})

	common.OK(c, gin.H{"suggestion": s})
}
