package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type GroupHandler struct {
	groups *service.Groups
}

func NewGroupHandler(groups *service.Groups) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// GetGroups lists groups. Optional query filters: type, university,
// department.
func (h *GroupHandler) GetGroups(c *gin.Context) {
	groups, err := h.groups.List(c.Request.Context(), service.GroupFilter{
		Type:       models.GroupType(c.Query("type")),
		University: c.Query("university"),
		Department: c.Query("department"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, groups)
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	g, err := h.groups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) GetMembers(c *gin.Context) {
	members, err := h.groups.Members(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	list(c, members)
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var input models.CreateGroupRequest
	if !bind(c, &input) {
		return
	}
	g, err := h.groups.Create(c.Request.Context(), viewer(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Group created", "group": g})
}

// JoinGroup joins the caller to a group. Conditional groups need an
// application note.
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	var input struct {
		Note string `json:"note"`
	}
	// The body is optional for open groups.
	if c.Request.ContentLength != 0 && !bind(c, &input) {
		return
	}
	m, err := h.groups.Join(c.Request.Context(), viewer(c), c.Param("id"), input.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Joined group", "member": m})
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	if err := h.groups.Leave(c.Request.Context(), viewer(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left group"})
}
