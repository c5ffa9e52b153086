// Package syncer keeps the client's render state in step with the
// host-authoritative volume. It owns the only mutable state in the
// client and exposes it to presentation through an observer callback.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltray/voltray/internal/display"
)

// PulseDuration is how long a directional indicator stays active
// before presentation reverts it. Cosmetic only.
const PulseDuration = 300 * time.Millisecond

// Direction tags a successful mutation with the way the volume moved.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// VolumeClient is the subset of the IPC client the synchronizer needs.
type VolumeClient interface {
	VolumeUp(ctx context.Context) (float64, error)
	VolumeDown(ctx context.Context) (float64, error)
	GetVolume(ctx context.Context) (float64, error)
}

// RenderState is the derived view driving presentation: the last known
// display percentage and, when set, an error message that takes
// precedence over status text. An error never blanks the percentage.
type RenderState struct {
	Percent    int
	ErrMessage string
}

// Update carries a state snapshot to the observer, plus the transient
// pulse direction for successful mutations.
type Update struct {
	State RenderState
	Pulse Direction
}

// Synchronizer applies IPC results and volume-changed notifications to
// RenderState. It is safe for concurrent use; results are applied in
// resolution order, so the visible state reflects whichever in-flight
// operation resolved last.
type Synchronizer struct {
	logger *zap.Logger
	client VolumeClient
	events <-chan struct{}
	notify func(Update)

	mu    sync.Mutex
	state RenderState
}

// New creates a Synchronizer. events is the volume-changed
// subscription; notify receives every state change and may be nil.
func New(logger *zap.Logger, client VolumeClient, events <-chan struct{}, notify func(Update)) *Synchronizer {
	return &Synchronizer{
		logger: logger,
		client: client,
		events: events,
		notify: notify,
	}
}

// State returns the current render state.
func (s *Synchronizer) State() RenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Increase requests one volume step up and applies the result.
func (s *Synchronizer) Increase(ctx context.Context) {
	v, err := s.client.VolumeUp(ctx)
	s.apply(v, err, DirectionUp)
}

// Decrease requests one volume step down and applies the result.
func (s *Synchronizer) Decrease(ctx context.Context) {
	v, err := s.client.VolumeDown(ctx)
	s.apply(v, err, DirectionDown)
}

// Refresh queries the current volume and applies the result, with no
// directional pulse. Called at startup and after every volume-changed
// notification, so the rendered percentage is always a function of a
// freshly observed volume rather than a notification payload.
func (s *Synchronizer) Refresh(ctx context.Context) {
	v, err := s.client.GetVolume(ctx)
	s.apply(v, err, DirectionNone)
}

// Run performs the startup query, then re-queries once per
// volume-changed signal until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	s.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.events:
			if !ok {
				return
			}
			s.Refresh(ctx)
		}
	}
}

// apply folds one operation result into RenderState. Success updates
// the percentage and clears the error; failure records the message and
// leaves the percentage untouched. Failures never wedge the
// synchronizer; the next action or notification retries naturally.
func (s *Synchronizer) apply(volume float64, err error, pulse Direction) {
	s.mu.Lock()
	if err != nil {
		s.state.ErrMessage = err.Error()
		pulse = DirectionNone
	} else {
		s.state.Percent = display.ToPercent(volume)
		s.state.ErrMessage = ""
	}
	snapshot := s.state
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("volume operation failed", zap.Error(err))
	}
	if s.notify != nil {
		s.notify(Update{State: snapshot, Pulse: pulse})
	}
}
