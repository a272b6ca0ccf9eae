package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soulvan/soulvan-backend/internal/audit"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/repos"
)

// CorpusHandler manages the reference corpus the auditor scores against.
type CorpusHandler struct {
	auditor    *audit.Auditor
	embeddings repos.EmbeddingRepo
}

func NewCorpusHandler(auditor *audit.Auditor, embeddings repos.EmbeddingRepo) *CorpusHandler {
	return &CorpusHandler{auditor: auditor, embeddings: embeddings}
}

type indexReferenceRequest struct {
	ID          string         `json:"id" binding:"required"`
	ArtifactRef string         `json:"artifact_ref" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
}

func (ch *CorpusHandler) Index(c *gin.Context) {
	var req indexReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := c.Request.Context()

	vector, err := ch.auditor.Index(ctx, req.ID, req.ArtifactRef, req.Metadata)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if err := ch.embeddings.Upsert(dbctx.From(ctx), req.ID, vector, req.Metadata); err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID, "dim": len(vector)})
}

type removeReferencesRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (ch *CorpusHandler) Remove(c *gin.Context) {
	var req removeReferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := c.Request.Context()

	if err := ch.auditor.Remove(ctx, req.IDs); err != nil {
		RespondDomainError(c, err)
		return
	}
	if err := ch.embeddings.Remove(dbctx.From(ctx), req.IDs); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": len(req.IDs)})
}
