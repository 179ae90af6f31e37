package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"spacecast/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Signaling message types exchanged with the media server.
const (
	msgJoin            = "join"
	msgJoined          = "joined"
	msgOffer           = "offer"
	msgAnswer          = "answer"
	msgICECandidate    = "ice_candidate"
	msgPublish         = "publish"
	msgPublished       = "published"
	msgUnpublish       = "unpublish"
	msgMute            = "mute"
	msgParticipantJoin = "participant_joined"
	msgParticipantLeft = "participant_left"
	msgMetadataChanged = "metadata_changed"
	msgTrackPublished  = "track_published"
	msgTrackUnpublish  = "track_unpublished"
	msgTrackMuted      = "track_muted"
	msgError           = "error"
)

type wireParticipant struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	Metadata string `json:"metadata,omitempty"`
}

type wireTrack struct {
	SID    string `json:"sid"`
	Source string `json:"source"`
	Muted  bool   `json:"muted"`
}

type signalMessage struct {
	Type        string           `json:"type"`
	RequestID   string           `json:"request_id,omitempty"`
	Token       string           `json:"token,omitempty"`
	SDP         string           `json:"sdp,omitempty"`
	Candidate   string           `json:"candidate,omitempty"`
	Source      string           `json:"source,omitempty"`
	SID         string           `json:"sid,omitempty"`
	Muted       bool             `json:"muted"`
	Participant *wireParticipant `json:"participant,omitempty"`
	Track       *wireTrack       `json:"track,omitempty"`
	Roster      []wireParticipant `json:"roster,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func (p wireParticipant) toDomain() domain.TransportIdentity {
	return domain.TransportIdentity{SID: p.SID, Identity: p.Identity, Metadata: p.Metadata}
}

// signalClient is the websocket signaling channel to the media server. One
// writer goroutine owns the socket; callers send through the outbound queue.
// Request/response pairs (join, publish) are correlated by request id.
type signalClient struct {
	url    string
	token  string
	logger *zap.SugaredLogger

	conn   *websocket.Conn
	connMu sync.Mutex

	outbound chan signalMessage

	pendingMu sync.Mutex
	pending   map[string]chan signalMessage

	onMessage func(signalMessage)
	onClosed  func(error)

	closed chan struct{}
	once   sync.Once
}

func newSignalClient(url, token string, logger *zap.SugaredLogger) *signalClient {
	return &signalClient{
		url:      url,
		token:    token,
		logger:   logger,
		outbound: make(chan signalMessage, 32),
		pending:  make(map[string]chan signalMessage),
		closed:   make(chan struct{}),
	}
}

func (c *signalClient) dial() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial signaling server: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *signalClient) readPump() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("signaling read failed: %w", err))
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warnw("dropping malformed signaling message", "error", err)
			continue
		}

		if msg.RequestID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.RequestID]
			if ok {
				delete(c.pending, msg.RequestID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
				continue
			}
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *signalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbound:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.fail(fmt.Errorf("signaling write failed: %w", err))
				return
			}
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("signaling ping failed: %w", err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *signalClient) send(msg signalMessage) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.closed:
		return fmt.Errorf("signaling channel closed")
	default:
		return fmt.Errorf("signaling send queue full")
	}
}

// request sends msg and waits for the correlated response or timeout.
func (c *signalClient) request(msg signalMessage, requestID string, timeout time.Duration) (signalMessage, error) {
	respCh := make(chan signalMessage, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = respCh
	c.pendingMu.Unlock()

	msg.RequestID = requestID
	if err := c.send(msg); err != nil {
		c.dropPending(requestID)
		return signalMessage{}, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == msgError {
			return signalMessage{}, fmt.Errorf("signaling error: %s", resp.Error)
		}
		return resp, nil
	case <-time.After(timeout):
		c.dropPending(requestID)
		return signalMessage{}, fmt.Errorf("signaling request %s timed out", msg.Type)
	case <-c.closed:
		return signalMessage{}, fmt.Errorf("signaling channel closed")
	}
}

func (c *signalClient) dropPending(requestID string) {
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

func (c *signalClient) fail(err error) {
	c.once.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
		if c.onClosed != nil {
			c.onClosed(err)
		}
	})
}

func (c *signalClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
}
