package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/emilythestrangee/campusnet/backend/internal/auth"
	"github.com/emilythestrangee/campusnet/backend/internal/config"
	"github.com/emilythestrangee/campusnet/backend/internal/handlers"
	"github.com/emilythestrangee/campusnet/backend/internal/middleware"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
)

const serviceName = "campusnet-api"

type Options struct {
	Config  *config.Config
	Handler *handlers.Handler
	Tokens  *auth.Tokens
	Metrics *observability.Metrics
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	// Health reports backend status on /health. Nil reports only the
	// process itself.
	Health func(context.Context) map[string]string
	Logger *slog.Logger
}

type Server struct {
	cfg      *config.Config
	handler  *handlers.Handler
	tokens   *auth.Tokens
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	health   func(context.Context) map[string]string
	log      *slog.Logger
}

func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		handler:  opts.Handler,
		tokens:   opts.Tokens,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		health:   opts.Health,
		log:      opts.Logger,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// NewServer creates and configures a new server
func NewServer(opts Options) *http.Server {
	s := New(opts)
	router := s.RegisterRoutes()

	s.log.Info("server configured", "port", s.cfg.Port, "env", s.cfg.Env)
	return &http.Server{
		Addr:         "0.0.0.0:" + s.cfg.Port,
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	if s.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	if s.cfg.Tracing {
		r.Use(otelgin.Middleware(serviceName))
	}

	// Credentialed CORS cannot use a wildcard origin.
	origins := s.cfg.HTTP.AllowOrigins
	wildcard := len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if wildcard {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))
	r.Use(middleware.Metrics(s.metrics))

	// Health check endpoint
	r.GET("/health", s.healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	if m := s.cfg.Media; m.Type == "filesystem" && strings.HasPrefix(m.BaseURL, "/") {
		r.Static(m.BaseURL, m.Dir)
	}

	var limiter *middleware.RateLimiter
	if s.cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(s.cfg.HTTP.RateLimit, s.cfg.HTTP.RateBurst)
	}

	h := s.handler
	api := r.Group("/api")
	api.Use(limiter.Middleware(), middleware.OptionalAuth(s.tokens))
	{
		// Auth routes (public)
		api.POST("/register", h.Auth.Register)
		api.POST("/login", h.Auth.Login)

		// Public reads
		api.GET("/posts", h.Post.GetPosts)
		api.GET("/posts/:id", h.Post.GetPost)
		api.GET("/posts/:id/comments", h.Comment.GetComments)
		api.GET("/posts/:id/reactions", h.Post.GetReactions)
		api.GET("/users/:id", h.User.GetUserProfile)
		api.GET("/groups", h.Group.GetGroups)
		api.GET("/groups/:id", h.Group.GetGroup)
		api.GET("/groups/:id/members", h.Group.GetMembers)

		// Realtime gateway; signed-out connections are read-only
		api.GET("/realtime", h.Realtime.Connect)

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(s.tokens))
		{
			protected.GET("/me", h.Auth.GetMe)

			protected.POST("/posts", h.Post.CreatePost)
			protected.POST("/posts/:id/react", h.Post.ReactPost)
			protected.POST("/posts/:id/comments", h.Comment.CreateComment)

			protected.PUT("/users/:id", h.User.UpdateUserProfile)

			protected.GET("/messages", h.Message.GetInbox)
			protected.POST("/messages", h.Message.SendMessage)
			protected.PUT("/messages/:id/read", h.Message.MarkRead)
			protected.GET("/conversations/:userId", h.Message.GetConversation)

			protected.GET("/schedules", h.Schedule.GetSchedules)
			protected.POST("/schedules", h.Schedule.CreateSchedule)
			protected.PUT("/schedules/:id", h.Schedule.UpdateSchedule)
			protected.DELETE("/schedules/:id", h.Schedule.DeleteSchedule)

			protected.GET("/notifications", h.Notification.GetNotifications)
			protected.PUT("/notifications/:id/read", h.Notification.MarkRead)
			protected.POST("/notifications/read-all", h.Notification.MarkAllRead)

			protected.GET("/friends", h.Friend.GetFriends)
			protected.POST("/friends", h.Friend.SendRequest)
			protected.PUT("/friends/:id", h.Friend.Respond)
			protected.PUT("/friends/:id/star", h.Friend.Star)

			protected.POST("/groups", h.Group.CreateGroup)
			protected.POST("/groups/:id/join", h.Group.JoinGroup)
			protected.DELETE("/groups/:id/join", h.Group.LeaveGroup)

			protected.POST("/uploads", h.Upload.UploadImage)
		}
	}

	return r
}

func (s *Server) healthCheck(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	stats := s.health(c.Request.Context())
	if stats["status"] == "down" {
		c.JSON(http.StatusServiceUnavailable, stats)
		return
	}
	c.JSON(http.StatusOK, stats)
}
