package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type stateMessage struct {
	Type             string          `json:"type"`
	Room             domain.RoomName `json:"room"`
	IsLive           bool            `json:"is_live"`
	ParticipantCount int             `json:"participant_count"`
	ChangedAt        int64           `json:"changed_at"`
}

type client struct {
	conn *websocket.Conn
	room domain.RoomName // empty subscribes to every room
	send chan stateMessage
}

// Hub fans room-state changes out to websocket subscribers. Go-live events
// must reach waiting viewers through here before their join retries proceed,
// so BroadcastRoomState enqueues synchronously and only the per-client
// delivery is asynchronous.
type Hub struct {
	clients map[*client]struct{}
	mu      sync.RWMutex

	publish func(domain.RoomState) // cross-node relay, optional

	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration

	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:      make(map[*client]struct{}),
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		readTimeout:  60 * time.Second,
		logger:       logger,
	}
}

var _ ports.RoomNotifier = (*Hub)(nil)

// SetRelay installs the cross-node publish hook (redis pub/sub).
func (h *Hub) SetRelay(publish func(domain.RoomState)) {
	h.publish = publish
}

func (h *Hub) BroadcastRoomState(state domain.RoomState) {
	h.deliver(state)
	if h.publish != nil {
		h.publish(state)
	}
}

// DeliverLocal fans out without re-publishing; the watcher uses it for
// states that arrived from other nodes.
func (h *Hub) DeliverLocal(state domain.RoomState) {
	h.deliver(state)
}

func (h *Hub) deliver(state domain.RoomState) {
	msg := stateMessage{
		Type:             "room_state",
		Room:             state.Name,
		IsLive:           state.IsLive,
		ParticipantCount: state.ParticipantCount,
		ChangedAt:        state.ChangedAt.Unix(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.room != "" && c.room != state.Name {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer. Drop the update; the next one supersedes it.
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams room-state changes. The
// optional "room" query parameter narrows the subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		room: domain.RoomName(r.URL.Query().Get("room")),
		send: make(chan stateMessage, 16),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Infow("room-state subscriber connected",
		"room", c.room, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	for {
		// Subscribers do not send payloads; the read loop only services
		// control frames and detects the close.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("subscriber read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
