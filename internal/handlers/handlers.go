package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/auth"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/media"
	"github.com/emilythestrangee/campusnet/backend/internal/middleware"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Auth     *auth.Service
	Services *service.Services
	Client   backend.Client
	Media    media.Store
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Handler combines all handler types
type Handler struct {
	Auth         *AuthHandler
	Post         *PostHandler
	Comment      *CommentHandler
	User         *UserHandler
	Message      *MessageHandler
	Schedule     *ScheduleHandler
	Notification *NotificationHandler
	Friend       *FriendHandler
	Group        *GroupHandler
	Upload       *UploadHandler
	Realtime     *RealtimeHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := d.Services
	return &Handler{
		Auth:         NewAuthHandler(d.Auth),
		Post:         NewPostHandler(s.Posts, s.Reactions),
		Comment:      NewCommentHandler(s.Comments),
		User:         NewUserHandler(s.Profiles),
		Message:      NewMessageHandler(s.Messages),
		Schedule:     NewScheduleHandler(s.Schedules),
		Notification: NewNotificationHandler(s.Notifications),
		Friend:       NewFriendHandler(s.Friends),
		Group:        NewGroupHandler(s.Groups),
		Upload:       NewUploadHandler(d.Media),
		Realtime:     NewRealtimeHandler(d),
	}
}

// respondError writes err as {"error": ...}, adding per-field messages for
// validation failures.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": apperr.Message(err)}
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		body["fields"] = fields
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}

// bind decodes the JSON body into v and answers 400 on malformed input.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

// list writes items as a JSON array, never null.
func list[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, items)
}

func viewer(c *gin.Context) string {
	return middleware.UserID(c)
}
