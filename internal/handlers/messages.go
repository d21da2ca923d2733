package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type MessageHandler struct {
	messages *service.Messages
}

func NewMessageHandler(messages *service.Messages) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// GetInbox lists messages received by the caller, newest first.
func (h *MessageHandler) GetInbox(c *gin.Context) {
	msgs, err := h.messages.Inbox(c.Request.Context(), viewer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, msgs)
}

// GetConversation lists messages between the caller and :userId, oldest
// first.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	msgs, err := h.messages.Conversation(c.Request.Context(), viewer(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, msgs)
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	var input models.SendMessageRequest
	if !bind(c, &input) {
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Message sent", "data": msg})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	if err := h.messages.MarkRead(c.Request.Context(), viewer(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message marked as read"})
}
