package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/auth"
	"github.com/emilythestrangee/campusnet/backend/internal/middleware"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/realtime"
	"github.com/emilythestrangee/campusnet/backend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	outboxSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientFrame is a request sent by a websocket client. ID is echoed back in
// the matching result frame.
type ClientFrame struct {
	ID          string                     `json:"id,omitempty"`
	Type        string                     `json:"type"`
	Topic       string                     `json:"topic,omitempty"`
	Key         string                     `json:"key,omitempty"`
	Content     string                     `json:"content,omitempty"`
	IsAnonymous bool                       `json:"is_anonymous,omitempty"`
	Reaction    models.ReactionKind        `json:"reaction_type,omitempty"`
	Message     *models.SendMessageRequest `json:"message,omitempty"`
	TargetID    string                     `json:"target_id,omitempty"`
}

// ServerFrame is pushed to the client: "session" once on connect and after
// sign-out, "snapshot" after every local change of an open handle and
// "result" once per client frame.
type ServerFrame struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Topic   string            `json:"topic,omitempty"`
	Key     string            `json:"key,omitempty"`
	State   string            `json:"state,omitempty"`
	Payload any               `json:"payload,omitempty"`
	User    *session.User     `json:"user,omitempty"`
	OK      bool              `json:"ok,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type RealtimeHandler struct {
	deps Deps
}

func NewRealtimeHandler(d Deps) *RealtimeHandler {
	return &RealtimeHandler{deps: d}
}

// Connect upgrades to a websocket. The token is optional: without one the
// connection is signed out and can only read.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	var tokens *auth.Tokens
	if h.deps.Auth != nil {
		tokens = h.deps.Auth.Tokens()
	}
	raw := middleware.BearerToken(c)
	switch {
	case tokens == nil:
		raw = ""
	case raw != "":
		if _, err := tokens.Parse(raw); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	id := uuid.New().String()
	log := h.deps.Logger.With("component", "realtime", "connection", id)
	sess := session.New(auth.NewTokenProvider(tokens, raw))
	if err := sess.Resolve(ctx); err != nil {
		log.Warn("session resolve failed", "error", err)
	}

	conn := &wsConn{
		ws:     ws,
		out:    make(chan ServerFrame, outboxSize),
		ctx:    ctx,
		cancel: cancel,
		sess:   sess,
		reg:    realtime.NewRegistry(),
		log:    log,
		rt: realtime.Deps{
			Client:   h.deps.Client,
			Services: h.deps.Services,
			Session:  sess,
			Metrics:  h.deps.Metrics,
			Logger:   log,
		},
	}
	h.deps.Metrics.ConnectionOpened()
	log.Info("websocket client connected", "user_id", sess.UserID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.writeLoop()
	}()

	conn.sendSession()
	conn.readLoop()

	conn.reg.CloseAll()
	sess.Close()
	cancel()
	<-done
	ws.Close()
	h.deps.Metrics.ConnectionClosed()
	log.Info("websocket client disconnected")
}

// wsConn is one websocket client. The registry and session are only touched
// from the read loop; frames leave through out and the writer goroutine.
type wsConn struct {
	ws     *websocket.Conn
	out    chan ServerFrame
	ctx    context.Context
	cancel context.CancelFunc
	sess   *session.Session
	reg    *realtime.Registry
	rt     realtime.Deps
	log    *slog.Logger
}

func (c *wsConn) send(f ServerFrame) {
	select {
	case c.out <- f:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Warn("failed to write websocket frame", "error", err)
				c.cancel()
				c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				c.ws.Close()
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) readLoop() {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f ClientFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("websocket read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		message, err := c.dispatch(f)
		c.result(f, message, err)
	}
}

func (c *wsConn) result(f ClientFrame, message string, err error) {
	r := ServerFrame{Type: "result", ID: f.ID, Topic: f.Topic, Key: f.Key}
	if err != nil {
		r.Error = apperr.Message(err)
		r.Fields = apperr.FieldsOf(err)
		if apperr.KindOf(err) == apperr.KindUnknown {
			c.log.Error("frame failed", "type", f.Type, "error", err)
		}
	} else {
		r.OK = true
		r.Message = message
	}
	c.send(r)
}

func (c *wsConn) sendSession() {
	st := c.sess.State()
	c.send(ServerFrame{Type: "session", State: st.Status.String(), User: st.User})
}

func (c *wsConn) snapshot(h realtime.Handle) {
	f := ServerFrame{
		Type:    "snapshot",
		Topic:   h.Topic(),
		Key:     h.Key(),
		State:   h.State().String(),
		Payload: h.Snapshot(),
	}
	if err := h.Err(); err != nil {
		f.Error = apperr.Message(err)
	}
	c.send(f)
}

// key returns the scope key for topic; per-user topics are always keyed by
// the signed-in user.
func (c *wsConn) key(topic, key string) string {
	switch topic {
	case realtime.TopicInbox, realtime.TopicNotifications:
		return c.sess.UserID()
	}
	return key
}

func (c *wsConn) dispatch(f ClientFrame) (string, error) {
	switch f.Type {
	case "open":
		return "Subscribed", c.open(f.Topic, c.key(f.Topic, f.Key))
	case "close":
		c.reg.Close(f.Topic, c.key(f.Topic, f.Key))
		return "Unsubscribed", nil
	case "add_comment":
		h, err := lookup[*realtime.Comments](c, realtime.TopicComments, f.Key)
		if err != nil {
			return "", err
		}
		_, err = h.Add(c.ctx, f.Content, f.IsAnonymous)
		return "Comment added", err
	case "toggle_reaction":
		h, err := lookup[*realtime.Reactions](c, realtime.TopicReactions, f.Key)
		if err != nil {
			return "", err
		}
		mine, err := h.Toggle(c.ctx, f.Reaction)
		if mine == models.ReactionNone {
			return "Reaction removed", err
		}
		return "Reaction saved", err
	case "send_message":
		h, err := lookup[*realtime.Messages](c, f.Topic, c.key(f.Topic, f.Key))
		if err != nil {
			return "", err
		}
		if f.Message == nil {
			return "", apperr.Validation("message", "is required")
		}
		_, err = h.Send(c.ctx, *f.Message)
		return "Message sent", err
	case "mark_read":
		if f.Topic == realtime.TopicNotifications {
			h, err := lookup[*realtime.Notifications](c, f.Topic, c.key(f.Topic, f.Key))
			if err != nil {
				return "", err
			}
			return "Notification marked as read", h.MarkRead(c.ctx, f.TargetID)
		}
		h, err := lookup[*realtime.Messages](c, f.Topic, c.key(f.Topic, f.Key))
		if err != nil {
			return "", err
		}
		return "Message marked as read", h.MarkRead(c.ctx, f.TargetID)
	case "mark_all_read":
		h, err := lookup[*realtime.Notifications](c, realtime.TopicNotifications, c.sess.UserID())
		if err != nil {
			return "", err
		}
		_, err = h.MarkAllRead(c.ctx)
		return "All notifications marked as read", err
	case "sign_out":
		err := c.sess.SignOut(c.ctx)
		c.reg.CloseAll()
		c.reg = realtime.NewRegistry()
		c.sendSession()
		return "Signed out", err
	}
	return "", apperr.Validation("type", "is not supported")
}

func (c *wsConn) open(topic, key string) error {
	h, err := c.reg.Open(topic, key, func() (realtime.Handle, error) {
		switch topic {
		case realtime.TopicComments:
			return realtime.OpenComments(c.ctx, c.rt, key)
		case realtime.TopicReactions:
			return realtime.OpenReactions(c.ctx, c.rt, key)
		case realtime.TopicConversation:
			return realtime.OpenConversation(c.ctx, c.rt, key)
		case realtime.TopicInbox:
			return realtime.OpenInbox(c.ctx, c.rt, key)
		case realtime.TopicNotifications:
			return realtime.OpenNotifications(c.ctx, c.rt, key)
		}
		return nil, apperr.Validation("topic", "is not supported")
	})
	if h == nil {
		return err
	}
	h.OnChange(func() { c.snapshot(h) })
	c.snapshot(h)
	return err
}

// lookup returns the open handle for (topic, key) as a T.
func lookup[T realtime.Handle](c *wsConn, topic, key string) (T, error) {
	var zero T
	h, ok := c.reg.Get(topic, key)
	if !ok {
		return zero, apperr.Validation("topic", "is not open")
	}
	t, ok := h.(T)
	if !ok {
		return zero, apperr.Validation("topic", "does not support this action")
	}
	return t, nil
}
