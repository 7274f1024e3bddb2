package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/auth"
	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/profile"
	"github.com/huddleapp/huddle/pkg/room"
	"github.com/huddleapp/huddle/pkg/session"
	"github.com/huddleapp/huddle/pkg/store"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Gateway holds the shared backends every connection uses.
type Gateway struct {
	tokens   *auth.Tokens
	store    *store.Scylla
	registry *room.Registry
	bus      liveBus
	profiles *profile.Store
	presence *redis.Client
}

// inbound is a frame from the peer. "message" carries content, "join"
// switches rooms.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Room    string `json:"room"`
}

// outbound is a frame to the peer. "history" replaces the peer's whole view,
// "message" appends one entry, "error" reports a rejected action.
type outbound struct {
	Type     string          `json:"type"`
	Message  *model.Message  `json:"message,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	Room     string          `json:"room,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// conn is one websocket peer and its room session.
type conn struct {
	gw      *Gateway
	ws      *websocket.Conn
	session *session.RoomSession
	send    chan []byte
	userID  string
}

// ServeWS upgrades the request and attaches the caller to their room.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Query param fallback for browser websocket clients, which cannot
		// set headers.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	claims, err := g.tokens.Validate(tokenString)
	if err != nil {
		zap.L().Debug("websocket auth rejected", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomKey := r.URL.Query().Get("room")
	if roomKey == "" {
		p, err := g.profiles.Get(r.Context(), claims.UserID)
		if err == nil {
			roomKey = p.Room
		} else {
			roomKey = profile.DefaultRoom
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		gw:      g,
		ws:      ws,
		session: session.New(g.store, g.registry, g.bus),
		send:    make(chan []byte, 256),
		userID:  claims.UserID,
	}
	c.session.OnEvent(c.push)

	if err := c.session.Join(r.Context(), roomKey, claims.DisplayName); err != nil {
		zap.L().Error("room join failed",
			zap.String("room", roomKey),
			zap.String("user", claims.UserID),
			zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "join failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	c.enterRoom(roomKey)

	zap.L().Info("client connected",
		zap.String("user", claims.UserID),
		zap.String("room", roomKey))

	go c.writePump()
	go c.readPump()
}

// push translates session events into frames. It runs under the session's
// lock, so it only enqueues; a slow peer loses frames rather than stalling
// the live feed, and the next history frame makes it whole again.
func (c *conn) push(ev session.Event) {
	var frame outbound
	switch ev.Kind {
	case session.Appended:
		m := ev.Message
		frame = outbound{Type: "message", Message: &m}
	default: // Seeded, Resynced
		frame = outbound{Type: "history", Messages: ev.Log, Room: c.session.Room()}
	}
	c.enqueue(frame)
}

func (c *conn) enqueue(frame outbound) {
	payload, err := json.Marshal(frame)
	if err != nil {
		zap.L().Error("failed to marshal frame", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		zap.L().Warn("dropping frame for slow peer", zap.String("user", c.userID))
	}
}

func (c *conn) enterRoom(roomKey string) {
	if err := c.gw.presence.SAdd(context.Background(), "room:"+roomKey+":users", c.userID).Err(); err != nil {
		zap.L().Warn("failed to record presence", zap.String("room", roomKey), zap.Error(err))
	}
}

func (c *conn) exitRoom(roomKey string) {
	if roomKey == "" {
		return
	}
	if err := c.gw.presence.SRem(context.Background(), "room:"+roomKey+":users", c.userID).Err(); err != nil {
		zap.L().Warn("failed to clear presence", zap.String("room", roomKey), zap.Error(err))
	}
}

// readPump consumes frames from the peer until the connection dies.
func (c *conn) readPump() {
	defer func() {
		c.exitRoom(c.session.Room())
		c.session.Leave()
		close(c.send)
		_ = c.ws.Close()
		zap.L().Info("client disconnected", zap.String("user", c.userID))
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame inbound
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Bare text is treated as message content.
			frame = inbound{Type: "message", Content: string(raw)}
		}

		switch frame.Type {
		case "join":
			c.switchRoom(frame.Room)
		case "message", "":
			if err := c.session.Send(context.Background(), frame.Content); err != nil {
				c.enqueue(outbound{Type: "error", Error: sendError(err)})
			}
		default:
			c.enqueue(outbound{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (c *conn) switchRoom(roomKey string) {
	roomKey = strings.TrimSpace(roomKey)
	if roomKey == "" {
		c.enqueue(outbound{Type: "error", Error: "room is required"})
		return
	}
	prev := c.session.Room()
	if roomKey == prev {
		return
	}

	name := c.session.DisplayName()
	if err := c.session.Join(context.Background(), roomKey, name); err != nil {
		zap.L().Error("room switch failed",
			zap.String("room", roomKey),
			zap.String("user", c.userID),
			zap.Error(err))
		c.enqueue(outbound{Type: "error", Error: "could not join " + roomKey})
		return
	}

	c.exitRoom(prev)
	c.enterRoom(roomKey)

	// Remember the room so the next login lands here.
	p, err := c.gw.profiles.Get(context.Background(), c.userID)
	if err == nil {
		p.Room = roomKey
		if err := c.gw.profiles.Put(context.Background(), p); err != nil {
			zap.L().Warn("failed to persist room choice", zap.Error(err))
		}
	}
}

func sendError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrEmptyContent):
		return "message content is empty"
	case errors.Is(err, session.ErrNotJoined):
		return "not joined to a room"
	default:
		return "failed to send message"
	}
}

// writePump pushes queued frames and keeps the connection alive with pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
