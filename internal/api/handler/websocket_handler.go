package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"parking_ledger/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const broadcastBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionEventMessage is what dashboards receive for every committed event.
type SessionEventMessage struct {
	Type    domain.EventKind       `json:"type"`
	Session *domain.ParkingSession `json:"session"`
	Amount  int64                  `json:"amount"`
}

// WebSocketManager fans committed session events out to connected dashboards.
// All writes to client connections happen on the Start goroutine.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.Logger
}

func NewWebSocketManager(logger *zap.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start runs the hub until ctx is cancelled, then closes every client.
func (wsm *WebSocketManager) Start(ctx context.Context) {
	defer close(wsm.done)
	for {
		select {
		case <-ctx.Done():
			wsm.mutex.Lock()
			for client := range wsm.clients {
				client.Close()
				delete(wsm.clients, client)
			}
			wsm.mutex.Unlock()
			return

		case client := <-wsm.register:
			wsm.mutex.Lock()
			wsm.clients[client] = true
			total := len(wsm.clients)
			wsm.mutex.Unlock()
			wsm.logger.Info("websocket client connected", zap.Int("clients", total))

		case client := <-wsm.unregister:
			wsm.mutex.Lock()
			if _, ok := wsm.clients[client]; ok {
				delete(wsm.clients, client)
				client.Close()
			}
			total := len(wsm.clients)
			wsm.mutex.Unlock()
			wsm.logger.Info("websocket client disconnected", zap.Int("clients", total))

		case message := <-wsm.broadcast:
			wsm.mutex.Lock()
			for client := range wsm.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					wsm.logger.Warn("websocket write failed, dropping client", zap.Error(err))
					client.Close()
					delete(wsm.clients, client)
				}
			}
			wsm.mutex.Unlock()
		}
	}
}

func (wsm *WebSocketManager) ClientCount() int {
	wsm.mutex.RLock()
	defer wsm.mutex.RUnlock()
	return len(wsm.clients)
}

// PublishSessionEvent queues an event for broadcast, dropping it if the hub is backed up.
func (wsm *WebSocketManager) PublishSessionEvent(result *domain.EventResult) {
	message, err := json.Marshal(SessionEventMessage{
		Type:    result.Kind,
		Session: result.Session,
		Amount:  result.Amount,
	})
	if err != nil {
		wsm.logger.Error("marshal session event", zap.Error(err))
		return
	}

	select {
	case wsm.broadcast <- message:
	default:
		wsm.logger.Warn("broadcast channel is full, dropping message", zap.String("type", string(result.Kind)))
	}
}

type WebSocketHandler struct {
	wsManager *WebSocketManager
	logger    *zap.Logger
}

func NewWebSocketHandler(wsManager *WebSocketManager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{wsManager: wsManager, logger: logger}
}

// GET /ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	select {
	case h.wsManager.register <- conn:
	case <-h.wsManager.done:
		conn.Close()
		return
	}

	// Reads only detect disconnects; dashboards never send anything.
	go func() {
		defer func() {
			select {
			case h.wsManager.unregister <- conn:
			case <-h.wsManager.done:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()
}
