package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/repos"
)

type StatsHandler struct {
	subs repos.SubmissionRepo
}

func NewStatsHandler(subs repos.SubmissionRepo) *StatsHandler {
	return &StatsHandler{subs: subs}
}

func (sh *StatsHandler) Get(c *gin.Context) {
	stats, err := sh.subs.CountsByKindState(dbctx.From(c.Request.Context()))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if stats == nil {
		stats = []repos.KindStat{}
	}
	RespondOK(c, gin.H{"counts": stats})
}
