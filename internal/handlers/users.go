package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type UserHandler struct {
	profiles *service.Profiles
}

func NewUserHandler(profiles *service.Profiles) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// GetUserProfile returns a user's public profile
func (h *UserHandler) GetUserProfile(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateUserProfile updates the caller's own profile. Users can only edit
// themselves.
func (h *UserHandler) UpdateUserProfile(c *gin.Context) {
	if c.Param("id") != viewer(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only update your own profile"})
		return
	}
	var input models.UpdateProfileRequest
	if !bind(c, &input) {
		return
	}
	profile, err := h.profiles.Upsert(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "profile": profile})
}
