package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type CommentHandler struct {
	comments *service.Comments
}

func NewCommentHandler(comments *service.Comments) *CommentHandler {
	return &CommentHandler{comments: comments}
}

// GetComments lists a post's comments, oldest first.
func (h *CommentHandler) GetComments(c *gin.Context) {
	comments, err := h.comments.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, comments)
}

func (h *CommentHandler) CreateComment(c *gin.Context) {
	var input models.CreateCommentRequest
	if !bind(c, &input) {
		return
	}
	comment, err := h.comments.Create(c.Request.Context(), viewer(c), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Comment added", "comment": comment})
}
