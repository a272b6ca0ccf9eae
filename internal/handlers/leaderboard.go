package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/leaderboard"
)

type LeaderboardHandler struct {
	view *leaderboard.View
}

func NewLeaderboardHandler(view *leaderboard.View) *LeaderboardHandler {
	return &LeaderboardHandler{view: view}
}

func (lh *LeaderboardHandler) TopN(c *gin.Context) {
	kind := domain.SubmissionKind(c.Param("kind"))
	n := 10
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	board, err := lh.view.TopN(c.Request.Context(), kind, n)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if board == nil {
		board = []leaderboard.Entry{}
	}
	RespondOK(c, gin.H{"kind": kind, "entries": board})
}
