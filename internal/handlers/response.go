package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soulvan/soulvan-backend/internal/domain"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps the domain error taxonomy onto HTTP statuses.
func RespondDomainError(c *gin.Context, err error) {
	var partial *domain.PartialStorageError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, domain.ErrDuplicateVote):
		RespondError(c, http.StatusConflict, "duplicate_vote", err)
	case errors.Is(err, domain.ErrNotVotable):
		RespondError(c, http.StatusConflict, "not_votable", err)
	case errors.Is(err, domain.ErrAlreadySigned):
		RespondError(c, http.StatusConflict, "already_signed", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(c, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, domain.ErrInvalidArtifact):
		RespondError(c, http.StatusBadRequest, "invalid_artifact", err)
	case errors.Is(err, domain.ErrRetryBudgetExhausted):
		RespondError(c, http.StatusInternalServerError, "retry_budget_exhausted", err)
	case errors.As(err, &partial):
		RespondError(c, http.StatusBadGateway, "partial_storage", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
