// Package lifecycle wires the rig hardware to the sequencer and exposes
// the outward control surface: start, shutdown request, and the status
// query.
package lifecycle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/lights"
	"github.com/mechanaut/sweeprig/pkg/monitor"
	"github.com/mechanaut/sweeprig/pkg/rig"
	"github.com/mechanaut/sweeprig/pkg/sequencer"
)

// Controller orchestrates power-up and power-down of the rig.
type Controller struct {
	b       *board.Board
	mon     *monitor.Monitor
	seq     *sequencer.Sequencer
	started atomic.Bool
}

// New builds the monitor, illumination mapper, and sequencer on top of
// the given hardware context.
func New(b *board.Board, cfg *rig.Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mapper, err := lights.NewMapper(cfg.Palette)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(b, cfg.ReadTimeout())
	seq := sequencer.New(b, mon, mapper, cfg.RigSteps(), sequencer.Config{
		SettleDelay: cfg.SettleDelay(),
		TickPeriod:  cfg.TickPeriod(),
	})

	return &Controller{
		b:   b,
		mon: mon,
		seq: seq,
	}, nil
}

// Start homes the rig and runs the choreography until it halts or ctx is
// cancelled. Calling Start again once homing has begun fails with a
// StateError.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return &sequencer.StateError{Op: "start", State: c.seq.State()}
	}

	err := c.seq.Run(ctx)

	// Whatever happened, leave the servos unpowered. The run context may
	// already be gone.
	if derr := c.b.Disable(context.Background()); derr != nil && err == nil {
		err = derr
	}
	return err
}

// RequestShutdown queues a graceful shutdown: the sequencer cycles back
// to the home pose before halting.
func (c *Controller) RequestShutdown() error {
	return c.seq.RequestShutdown()
}

// ResetChannel returns a degraded channel to service.
func (c *Controller) ResetChannel(channel int) error {
	return c.seq.ResetChannel(channel)
}

// Status returns the sequencer's read-only snapshot.
func (c *Controller) Status() sequencer.Status {
	return c.seq.Status()
}

// States returns the snapshot stream for dashboards.
func (c *Controller) States() <-chan sequencer.Status {
	return c.seq.States()
}

// Logs returns the controller's log stream.
func (c *Controller) Logs() <-chan string {
	return c.seq.Logs()
}

// Close closes the hardware handles.
func (c *Controller) Close() error {
	return c.b.Close()
}
