package services

import (
	"context"
	"fmt"
	"sync"

	"spacecast/internal/core/domain"

	"go.uber.org/zap"
)

// ScreenShareArbiter serializes screen-share toggles for the local
// participant. At most one transport call is outstanding at a time; a toggle
// arriving while one is in flight replaces the pending target state instead
// of issuing a second call, so the latest requested end state wins.
type ScreenShareArbiter struct {
	session *SessionManager
	metrics *MetricsService
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	inFlight bool
	pending  *bool
	active   bool
}

func newScreenShareArbiter(session *SessionManager, metrics *MetricsService, logger *zap.SugaredLogger) *ScreenShareArbiter {
	return &ScreenShareArbiter{
		session: session,
		metrics: metrics,
		logger:  logger,
	}
}

func (a *ScreenShareArbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// SetScreenShare applies the requested end state. Not-connected is an
// explicit error, never a silent queue.
func (a *ScreenShareArbiter) SetScreenShare(ctx context.Context, enabled bool) error {
	if a.session.State() != StateConnected {
		return domain.ErrNotConnected
	}

	a.mu.Lock()
	if a.inFlight {
		a.pending = &enabled
		a.mu.Unlock()
		return nil
	}
	if a.active == enabled {
		a.mu.Unlock()
		return nil
	}
	a.inFlight = true
	a.mu.Unlock()

	target := enabled
	var firstErr error
	for {
		err := a.apply(ctx, target)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		a.mu.Lock()
		if a.pending == nil {
			a.inFlight = false
			a.mu.Unlock()
			return firstErr
		}
		// Drain the coalesced target. Skip the transport call when the state
		// already matches.
		target = *a.pending
		a.pending = nil
		if a.active == target {
			a.inFlight = false
			a.mu.Unlock()
			return firstErr
		}
		a.mu.Unlock()
	}
}

func (a *ScreenShareArbiter) apply(ctx context.Context, enabled bool) error {
	var err error
	if enabled {
		err = a.session.publishLocal(ctx, domain.TrackScreenShare)
	} else {
		err = a.session.unpublishLocal(ctx, domain.TrackScreenShare)
	}
	if err != nil {
		a.logger.Warnw("screen share toggle failed",
			"room", a.session.room, "enabled", enabled, "error", err)
		return fmt.Errorf("screen share toggle failed: %w", err)
	}

	a.mu.Lock()
	a.active = enabled
	a.mu.Unlock()

	a.metrics.RecordScreenShareToggle(a.session.room)
	a.logger.Infow("screen share toggled",
		"room", a.session.room, "enabled", enabled)
	return nil
}

// reassert republishes the screen share after a reconnect when it was active
// before the drop.
func (a *ScreenShareArbiter) reassert(ctx context.Context) {
	a.mu.Lock()
	wasActive := a.active
	a.active = false
	a.pending = nil
	a.mu.Unlock()

	if !wasActive {
		return
	}
	if err := a.apply(ctx, true); err != nil {
		a.logger.Warnw("failed to republish screen share after reconnect",
			"room", a.session.room, "error", err)
	}
}

// reset drops all arbiter state on disconnect.
func (a *ScreenShareArbiter) reset() {
	a.mu.Lock()
	a.inFlight = false
	a.pending = nil
	a.active = false
	a.mu.Unlock()
}
