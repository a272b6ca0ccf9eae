package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/lifecycle"
)

type SubmissionHandler struct {
	coord *lifecycle.Coordinator
}

func NewSubmissionHandler(coord *lifecycle.Coordinator) *SubmissionHandler {
	return &SubmissionHandler{coord: coord}
}

type createSubmissionRequest struct {
	Kind        string `json:"kind" binding:"required"`
	Submitter   string `json:"submitter" binding:"required"`
	ArtifactRef string `json:"artifact_ref" binding:"required"`
}

func (sh *SubmissionHandler) Create(c *gin.Context) {
	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	sub, err := sh.coord.Submit(c.Request.Context(),
		domain.SubmissionKind(req.Kind), req.Submitter, req.ArtifactRef)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"submission": sub})
}

func (sh *SubmissionHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (sh *SubmissionHandler) Get(c *gin.Context) {
	id, ok := sh.parseID(c)
	if !ok {
		return
	}
	sub, err := sh.coord.Get(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	out := gin.H{"submission": sub}
	// terminal submissions always surface their cause
	if sub.State.Terminal() && sub.LastError != "" {
		out["cause"] = sub.LastError
	}
	RespondOK(c, out)
}

func (sh *SubmissionHandler) Advance(c *gin.Context) {
	id, ok := sh.parseID(c)
	if !ok {
		return
	}
	sub, err := sh.coord.Advance(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"submission": sub})
}

func (sh *SubmissionHandler) Voters(c *gin.Context) {
	id, ok := sh.parseID(c)
	if !ok {
		return
	}
	voters, err := sh.coord.Voters(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if voters == nil {
		voters = []string{}
	}
	RespondOK(c, gin.H{"voters": voters})
}

func (sh *SubmissionHandler) Effects(c *gin.Context) {
	id, ok := sh.parseID(c)
	if !ok {
		return
	}
	effects, err := sh.coord.Effects(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if effects == nil {
		effects = []*domain.EffectRecord{}
	}
	RespondOK(c, gin.H{"effects": effects})
}
