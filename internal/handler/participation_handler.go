// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"context"
	"net/http"

	"parley/internal/domain/conversation"
	"parley/internal/services"
	"parley/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// ConversationReader is implemented by services.ConversationService.
type ConversationReader interface {
	GetByConversationID(ctx context.Context, conversationID string) (conversation.Conversation, error)
}

// ParticipationHandler serves routes that sit behind the identity middleware.
type ParticipationHandler struct {
	conversations ConversationReader
}

func NewParticipationHandler(conversations ConversationReader) *ParticipationHandler {
	return &ParticipationHandler{conversations: conversations}
}

// Init returns the caller's participant record together with the
// conversation summary a client needs to start participating.
func (h *ParticipationHandler) Init(c *gin.Context) {
	res, ok := services.ResolutionFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conv, err := h.conversations.GetByConversationID(c.Request.Context(), res.Identity.ConversationID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ParticipationInitResponse{
		Participant: httpdto.FromIdentity(res.Identity),
		Conversation: httpdto.ConversationSummary{
			ConversationID:   conv.ConversationID,
			UseXIDWhitelist:  conv.UseXIDWhitelist,
			ParticipantCount: conv.ParticipantCount,
		},
		Auth: httpdto.NewAuthPayload(res.Auth),
	}))
}

// Me returns the caller's participant record.
func (h *ParticipationHandler) Me(c *gin.Context) {
	res, ok := services.ResolutionFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ParticipantMeResponse{
		Participant: httpdto.FromIdentity(res.Identity),
		Auth:        httpdto.NewAuthPayload(res.Auth),
	}))
}

func writeError(c *gin.Context, err error) {
	c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(services.PublicMessage(err), services.ErrorCode(err)))
}
