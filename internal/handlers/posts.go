package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type PostHandler struct {
	posts     *service.Posts
	reactions *service.Reactions
}

func NewPostHandler(posts *service.Posts, reactions *service.Reactions) *PostHandler {
	return &PostHandler{posts: posts, reactions: reactions}
}

// GetPosts lists posts, newest first. Optional query filters: board,
// university, department.
func (h *PostHandler) GetPosts(c *gin.Context) {
	posts, err := h.posts.List(c.Request.Context(), service.PostFilter{
		Board:      models.BoardType(c.Query("board")),
		University: c.Query("university"),
		Department: c.Query("department"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, posts)
}

// GetPost returns a single post by ID
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) CreatePost(c *gin.Context) {
	var input models.CreatePostRequest
	if !bind(c, &input) {
		return
	}
	post, err := h.posts.Create(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Post created successfully", "post": post})
}

// GetReactions returns the post's counters and, when signed in, the
// caller's own reaction.
func (h *PostHandler) GetReactions(c *gin.Context) {
	ctx := c.Request.Context()
	postID := c.Param("id")
	counts, err := h.reactions.Counts(ctx, postID)
	if err != nil {
		respondError(c, err)
		return
	}
	mine, err := h.reactions.Mine(ctx, viewer(c), postID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"likes_count":    counts.Likes,
		"dislikes_count": counts.Dislikes,
		"reaction_type":  mine,
	})
}

// ReactPost toggles the caller's like or dislike on a post.
func (h *PostHandler) ReactPost(c *gin.Context) {
	var input models.ReactRequest
	if !bind(c, &input) {
		return
	}
	ctx := c.Request.Context()
	postID := c.Param("id")
	mine, err := h.reactions.Toggle(ctx, viewer(c), postID, input.ReactionType)
	if err != nil {
		respondError(c, err)
		return
	}
	counts, err := h.reactions.Counts(ctx, postID)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Reaction removed"
	if mine != models.ReactionNone {
		message = "Reaction saved"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        message,
		"reaction_type":  mine,
		"likes_count":    counts.Likes,
		"dislikes_count": counts.Dislikes,
	})
}
