package realtime

import (
	"context"
	"encoding/json"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const stateChannel = "spacecast:room_state"

// Watcher bridges room-state events across nodes over redis pub/sub. When
// the subscription drops it switches to a bounded-interval pull of live
// rooms changed since the last delivered event, and cancels the pull loop
// once the subscription re-establishes.
type Watcher struct {
	client *redis.Client
	hub    *Hub
	rooms  ports.RoomRepository
	logger *zap.SugaredLogger

	pollInterval time.Duration
	lastGood     time.Time
}

func NewWatcher(
	client *redis.Client,
	hub *Hub,
	rooms ports.RoomRepository,
	pollInterval time.Duration,
	logger *zap.SugaredLogger,
) *Watcher {
	w := &Watcher{
		client:       client,
		hub:          hub,
		rooms:        rooms,
		logger:       logger,
		pollInterval: pollInterval,
		lastGood:     time.Now(),
	}
	hub.SetRelay(w.relay)
	return w
}

// relay publishes a locally produced state change for the other nodes.
func (w *Watcher) relay(state domain.RoomState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.client.Publish(ctx, stateChannel, data).Err(); err != nil {
		w.logger.Warnw("failed to publish room state", "error", err)
	}
}

// Run blocks until ctx is cancelled, alternating between the push
// subscription and the polling fallback.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.subscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnw("room-state subscription lost, polling", "error", err)
			if done := w.pollUntilRestored(ctx); done {
				return
			}
		}
	}
}

func (w *Watcher) subscribe(ctx context.Context) error {
	sub := w.client.Subscribe(ctx, stateChannel)
	defer sub.Close()

	// Confirm the subscription before trusting the channel.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	w.logger.Infow("room-state subscription established", "channel", stateChannel)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			var state domain.RoomState
			if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
				w.logger.Warnw("dropping malformed room-state event", "error", err)
				continue
			}
			w.lastGood = time.Now()
			w.hub.DeliverLocal(state)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pollUntilRestored pulls changes at a bounded interval until the pub/sub
// channel answers a ping again. Returns true when ctx ended.
func (w *Watcher) pollUntilRestored(ctx context.Context) bool {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.pollOnce(ctx)
			if w.client.Ping(ctx).Err() == nil {
				w.logger.Info("room-state channel restored, leaving polling mode")
				return false
			}
		case <-ctx.Done():
			return true
		}
	}
}

// pollOnce replays live rooms changed since the last delivered event. The
// updated-at stamp, not the creation time, decides staleness: a go-live flip
// on an old room is exactly the event waiting viewers need.
func (w *Watcher) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rooms, err := w.rooms.ListLive(pollCtx)
	if err != nil {
		w.logger.Warnw("room-state poll failed", "error", err)
		return
	}

	since := w.lastGood
	now := time.Now()
	for _, room := range rooms {
		changed := room.UpdatedAt
		if changed.IsZero() {
			changed = room.CreatedAt
		}
		if changed.After(since) {
			w.hub.DeliverLocal(domain.RoomState{
				Name:             room.Name,
				IsLive:           room.IsLive,
				ParticipantCount: room.ParticipantCount,
				ChangedAt:        now,
			})
		}
	}
	w.lastGood = now
}
