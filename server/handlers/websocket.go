package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	runner   ComparisonRunner
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type clientMessage struct {
	Type   string `json:"type"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// wsConn serializes writes: the ping routine and the event stream share one
// connection.
type wsConn struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) writePing() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func NewWebSocketHandler(runner ComparisonRunner, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		runner: runner,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("websocket client connected", zap.String("client_ip", clientIP))

	conn.SetReadLimit(32 * 1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ws := &wsConn{conn: conn}
	done := make(chan struct{})
	defer close(done)

	go h.pingRoutine(ws, done)

	for {
		var message clientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}
		h.handleMessage(c, ws, &message)
	}
}

func (h *WebSocketHandler) handleMessage(c *gin.Context, ws *wsConn, message *clientMessage) {
	switch message.Type {
	case "compare":
		h.runComparison(c, ws, message)
	case "ping":
		ws.writeJSON(map[string]any{"type": "pong", "timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("unknown websocket message type", zap.String("type", message.Type))
		ws.writeJSON(models.ErrorEvent("unknown message type: " + message.Type))
	}
}

// runComparison streams the same frames as the HTTP endpoint, one JSON
// message per event. Runs on the read goroutine so frames for one comparison
// are never interleaved with another.
func (h *WebSocketHandler) runComparison(c *gin.Context, ws *wsConn, message *clientMessage) {
	before, err := extractImageData(message.Before)
	if err != nil {
		ws.writeJSON(models.ErrorEvent("invalid before image: " + err.Error()))
		return
	}
	after, err := extractImageData(message.After)
	if err != nil {
		ws.writeJSON(models.ErrorEvent("invalid after image: " + err.Error()))
		return
	}

	request := &models.CompareRequest{Before: before, After: after}
	h.runner.Run(c.Request.Context(), request, func(ev models.Event) {
		if err := ws.writeJSON(ev); err != nil {
			h.logger.Warn("failed to write websocket frame", zap.Error(err))
		}
	})
}

func (h *WebSocketHandler) pingRoutine(ws *wsConn, done chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.writePing(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
