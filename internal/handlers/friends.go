package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type FriendHandler struct {
	friends *service.Friends
}

func NewFriendHandler(friends *service.Friends) *FriendHandler {
	return &FriendHandler{friends: friends}
}

func (h *FriendHandler) GetFriends(c *gin.Context) {
	items, err := h.friends.List(c.Request.Context(), viewer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, items)
}

func (h *FriendHandler) SendRequest(c *gin.Context) {
	var input models.FriendRequest
	if !bind(c, &input) {
		return
	}
	f, err := h.friends.Request(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Friend request sent", "friendship": f})
}

// Respond accepts, rejects or blocks a pending request addressed to the
// caller.
func (h *FriendHandler) Respond(c *gin.Context) {
	var input models.FriendResponse
	if !bind(c, &input) {
		return
	}
	f, err := h.friends.Respond(c.Request.Context(), viewer(c), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Friend request " + string(f.Status), "friendship": f})
}

func (h *FriendHandler) Star(c *gin.Context) {
	var input struct {
		Starred bool `json:"starred"`
	}
	if !bind(c, &input) {
		return
	}
	f, err := h.friends.Star(c.Request.Context(), viewer(c), c.Param("id"), input.Starred)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Friend updated", "friendship": f})
}
