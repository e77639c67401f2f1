package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storm-arena/internal/service/queue"
	pkgAuth "storm-arena/pkg/auth"
	"storm-arena/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler pushes queue status over a websocket so clients do not have
// to poll the REST endpoint while waiting for a lobby.
type Handler struct {
	queueSvc *queue.Service
}

func NewHandler(queueSvc *queue.Service) *Handler {
	return &Handler{queueSvc: queueSvc}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

type outgoingMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func (h *Handler) HandleQueueWS(c *gin.Context) {
	token, err := getTokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.SubjectID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New queue WebSocket connection", zap.Int64("userID", userID))

	client := newClient(conn, userID, h.queueSvc)
	client.run()
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
	userID    int64
	queueSvc  *queue.Service
	done      chan struct{}
	pingEvery time.Duration
	pollEvery time.Duration
}

func newClient(conn *websocket.Conn, userID int64, queueSvc *queue.Service) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		userID:    userID,
		queueSvc:  queueSvc,
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
		pollEvery: 2 * time.Second,
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound frames so pings and close frames are
// processed. The only client command accepted is "leave".
func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", c.userID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.safeWrite(outgoingMessage{Type: "error", Data: gin.H{"message": "invalid payload"}})
			continue
		}
		if incoming.Type == "leave" {
			c.queueSvc.Leave(context.Background(), c.userID)
		}
	}
}

func (c *client) writePump() {
	poll := time.NewTicker(c.pollEvery)
	ping := time.NewTicker(c.pingEvery)
	defer func() {
		poll.Stop()
		ping.Stop()
		c.conn.Close()
	}()

	var lastMatched int64
	for {
		select {
		case <-poll.C:
			status, err := c.queueSvc.Status(context.Background(), c.userID)
			if err != nil {
				logger.Log.Warn("queue status lookup failed", zap.Error(err), zap.Int64("userID", c.userID))
				continue
			}
			if status.MatchedMatchID != nil && *status.MatchedMatchID != lastMatched {
				lastMatched = *status.MatchedMatchID
				if err := c.conn.WriteJSON(outgoingMessage{Type: "matched", Data: status}); err != nil {
					return
				}
				continue
			}
			if err := c.conn.WriteJSON(outgoingMessage{Type: "queue_status", Data: status}); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID))
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) safeWrite(msg outgoingMessage) {
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID))
	}
}
