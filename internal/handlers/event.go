package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soulvan/soulvan-backend/internal/lifecycle"
)

type EventHandler struct {
	coord *lifecycle.Coordinator
}

func NewEventHandler(coord *lifecycle.Coordinator) *EventHandler {
	return &EventHandler{coord: coord}
}

type recordEventRequest struct {
	Actor string `json:"actor" binding:"required"`
	Type  string `json:"type" binding:"required"`
}

func (eh *EventHandler) Record(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	switch req.Type {
	case lifecycle.EventVote, lifecycle.EventPlay, lifecycle.EventView:
	default:
		RespondError(c, http.StatusBadRequest, "bad_event_type",
			fmt.Errorf("event type must be one of vote, play, view"))
		return
	}
	sub, err := eh.coord.RecordEvent(c.Request.Context(), id, req.Actor, req.Type)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"submission": sub})
}
