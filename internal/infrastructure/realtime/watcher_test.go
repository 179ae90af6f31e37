package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/services"
	"spacecast/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, hub.SubscriberCount())
	return conn
}

func TestPollOnce_DeliversGoLiveOnOldRoom(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	repo := memory.NewMemoryRoomRepository()
	hub := NewHub(log)

	// The room predates the subscription outage.
	host := domain.WalletAddress("0x1234567890abcdef1234567890abcdef12345678")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &domain.Room{
		Name:       "old-room",
		SID:        "RM_old",
		HostWallet: host,
		Title:      "Old Room",
		Visibility: domain.VisibilityPublic,
		InviteMode: domain.InviteOpen,
		CreatedAt:  past,
		UpdatedAt:  past,
	}))

	w := NewWatcher(nil, hub, repo, 10*time.Millisecond, log)
	w.lastGood = time.Now().Add(-time.Minute)

	conn := dialHub(t, hub)

	// The flip happens while pub/sub is down; only the poll can deliver it.
	rooms := services.NewRoomService(repo, nil, nil, services.NewMetricsService(), log)
	require.NoError(t, rooms.GoLive(ctx, "old-room", host))

	w.pollOnce(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg stateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, domain.RoomName("old-room"), msg.Room)
	assert.True(t, msg.IsLive)
}

func TestPollOnce_SkipsUnchangedRooms(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	repo := memory.NewMemoryRoomRepository()
	hub := NewHub(log)

	// Live since before the last delivered event; the subscriber already saw it.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &domain.Room{
		Name:       "steady-room",
		SID:        "RM_steady",
		HostWallet: "0x1234567890abcdef1234567890abcdef12345678",
		IsLive:     true,
		Visibility: domain.VisibilityPublic,
		InviteMode: domain.InviteOpen,
		CreatedAt:  past,
		UpdatedAt:  past,
	}))

	w := NewWatcher(nil, hub, repo, 10*time.Millisecond, log)
	w.lastGood = time.Now().Add(-time.Minute)

	conn := dialHub(t, hub)
	w.pollOnce(ctx)

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "an unchanged room must not be replayed")
}
