// Package audio owns the system output volume on behalf of the daemon.
// A single worker goroutine holds the platform device and serializes
// all operations through a command channel, so platform calls never
// race with each other.
package audio

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"
)

// DefaultStep is the volume change applied by one up or down operation
// when no step is configured.
const DefaultStep = 0.05

// ErrClosed is returned for operations issued after Close.
var ErrClosed = errors.New("audio controller closed")

// device abstracts the platform volume backend. Volumes are in
// [0.0, 1.0].
type device interface {
	get() (float64, error)
	set(volume float64) error
}

type commandKind int

const (
	getCmd commandKind = iota
	setCmd
	upCmd
	downCmd
)

type result struct {
	volume float64
	err    error
}

type command struct {
	kind  commandKind
	level float64
	reply chan result
}

// Controller provides serialized access to the system volume.
type Controller struct {
	logger *zap.Logger
	step   float64
	cmds   chan command

	closeOnce sync.Once
	done      chan struct{}
}

// NewController starts the worker goroutine against the platform
// device. step is the up/down increment; zero or negative falls back
// to DefaultStep.
func NewController(logger *zap.Logger, step float64) *Controller {
	return newController(logger, systemDevice{}, step)
}

func newController(logger *zap.Logger, dev device, step float64) *Controller {
	if step <= 0 {
		step = DefaultStep
	}
	c := &Controller{
		logger: logger,
		step:   step,
		cmds:   make(chan command),
		done:   make(chan struct{}),
	}
	go c.worker(dev)
	return c
}

// Get returns the current volume.
func (c *Controller) Get(ctx context.Context) (float64, error) {
	return c.send(ctx, command{kind: getCmd})
}

// Set applies the given volume, clamped to [0.0, 1.0], and returns the
// volume actually applied.
func (c *Controller) Set(ctx context.Context, volume float64) (float64, error) {
	return c.send(ctx, command{kind: setCmd, level: volume})
}

// Up raises the volume by one step, clamped to the range.
func (c *Controller) Up(ctx context.Context) (float64, error) {
	return c.send(ctx, command{kind: upCmd})
}

// Down lowers the volume by one step, clamped to the range.
func (c *Controller) Down(ctx context.Context) (float64, error) {
	return c.send(ctx, command{kind: downCmd})
}

// Close stops the worker. Pending and later operations fail with
// ErrClosed.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Controller) send(ctx context.Context, cmd command) (float64, error) {
	cmd.reply = make(chan result, 1)

	select {
	case c.cmds <- cmd:
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.volume, res.err
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Controller) worker(dev device) {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.cmds:
			res := c.execute(dev, cmd)
			if res.err != nil {
				c.logger.Warn("device operation failed", zap.Error(res.err))
			}
			cmd.reply <- res
		}
	}
}

func (c *Controller) execute(dev device, cmd command) result {
	switch cmd.kind {
	case getCmd:
		v, err := dev.get()
		return result{volume: v, err: err}

	case setCmd:
		level := clamp(cmd.level)
		if err := dev.set(level); err != nil {
			return result{err: err}
		}
		return result{volume: level}

	case upCmd:
		return c.adjust(dev, c.step)

	case downCmd:
		return c.adjust(dev, -c.step)

	default:
		return result{err: errors.New("unknown command")}
	}
}

func (c *Controller) adjust(dev device, delta float64) result {
	current, err := dev.get()
	if err != nil {
		return result{err: err}
	}
	level := clamp(current + delta)
	if err := dev.set(level); err != nil {
		return result{err: err}
	}
	return result{volume: level}
}

func clamp(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
