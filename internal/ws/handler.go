package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/lifecycle"
	"koi-service/internal/service/reconnect"
	pkgAuth "koi-service/pkg/auth"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const outboundBuffer = 64

type Handler struct {
	events    *dispatch.Dispatcher
	flow      *flow.Controller
	lifecycle *lifecycle.Coordinator
	reconnect *reconnect.Service
}

func NewHandler(events *dispatch.Dispatcher, fc *flow.Controller, coord *lifecycle.Coordinator, rec *reconnect.Service) *Handler {
	return &Handler{events: events, flow: fc, lifecycle: coord, reconnect: rec}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleSessionWS attaches a player to their session's event stream. The
// connection is first fed a full snapshot (via Resume), then live events;
// losing it starts the disconnect grace.
func (h *Handler) HandleSessionWS(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	token, err := getTokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := pkgAuth.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	playerID := claims.PlayerID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection",
		zap.String("sessionID", sessionID),
		zap.String("playerID", playerID),
	)

	client := newClient(conn, playerID, sessionID, h)
	client.run(c)
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", errors.New("missing token")
}

type client struct {
	conn      *websocket.Conn
	playerID  string
	sessionID string
	h         *Handler
	outbound  chan model.SessionEvent
	unsub     func()
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, playerID, sessionID string, h *Handler) *client {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	cl := &client{
		conn:      conn,
		playerID:  playerID,
		sessionID: sessionID,
		h:         h,
		outbound:  make(chan model.SessionEvent, outboundBuffer),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
	cl.unsub = h.events.Subscribe(sessionID, cl.deliver)
	return cl
}

// deliver forwards broadcast and own-scoped events to the write pump. A
// slow consumer overflowing the buffer loses the event; the snapshot path
// recovers them on the next resume.
func (c *client) deliver(ev model.SessionEvent) {
	if ev.PlayerID != "" && ev.PlayerID != c.playerID {
		return
	}
	select {
	case c.outbound <- ev:
	default:
		logger.Log.Warn("WS outbound buffer full, dropping event",
			zap.String("sessionID", c.sessionID),
			zap.String("playerID", c.playerID),
			zap.String("event", string(ev.Type)),
		)
	}
}

func (c *client) run(g *gin.Context) {
	if _, err := c.h.reconnect.Resume(g.Request.Context(), c.sessionID, c.playerID); err != nil {
		logger.Log.Info("WS resume rejected",
			zap.String("sessionID", c.sessionID),
			zap.String("playerID", c.playerID),
			zap.Error(err),
		)
		c.safeWrite(model.SessionEvent{
			Type:      "error",
			SessionID: c.sessionID,
			Data:      gin.H{"message": err.Error()},
		})
		c.unsub()
		c.conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.unsub()
		c.conn.Close()
		c.h.reconnect.HandleDisconnect(c.sessionID, c.playerID)
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.String("playerID", c.playerID), zap.String("sessionID", c.sessionID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.sendError("invalid payload")
			continue
		}
		if incoming.Type == "" {
			continue
		}

		if err := c.handleCommand(incoming.Type, incoming.Data); err != nil {
			c.sendError(fmt.Sprintf("action failed: %v", err))
		}
	}
}

type cardRef struct {
	Month int `json:"month"`
	Index int `json:"index"`
}

func (c *client) handleCommand(cmdType string, data json.RawMessage) error {
	ctx := context.Background()
	switch cmdType {
	case "play":
		var body cardRef
		if err := json.Unmarshal(data, &body); err != nil {
			return appErr.ErrInvalidSelection
		}
		return c.h.flow.PlayHandCard(ctx, c.sessionID, c.playerID, body.Month, body.Index)
	case "select":
		var body cardRef
		if err := json.Unmarshal(data, &body); err != nil {
			return appErr.ErrInvalidSelection
		}
		return c.h.flow.SelectTarget(ctx, c.sessionID, c.playerID, body.Month, body.Index)
	case "decision":
		var body struct {
			Continue bool `json:"continue"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return appErr.ErrInvalidState
		}
		return c.h.flow.MakeDecision(ctx, c.sessionID, c.playerID, body.Continue)
	case "confirm":
		return c.h.flow.ConfirmContinue(ctx, c.sessionID, c.playerID)
	case "leave":
		return c.h.lifecycle.LeaveSession(ctx, c.sessionID, c.playerID)
	default:
		return fmt.Errorf("unknown command %q", cmdType)
	}
}

// sendError queues an error reply for the write pump. The connection has a
// single writer; replies never go to the socket from the read side.
func (c *client) sendError(msg string) {
	ev := model.SessionEvent{
		Type:      "error",
		SessionID: c.sessionID,
		Data:      gin.H{"message": msg},
	}
	select {
	case c.outbound <- ev:
	default:
		logger.Log.Warn("WS outbound buffer full, dropping error reply",
			zap.String("sessionID", c.sessionID),
			zap.String("playerID", c.playerID),
		)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.outbound:
			if err := c.conn.WriteJSON(ev); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.String("playerID", c.playerID), zap.String("sessionID", c.sessionID))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) safeWrite(ev model.SessionEvent) {
	if err := c.conn.WriteJSON(ev); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.String("playerID", c.playerID), zap.String("sessionID", c.sessionID))
	}
}
