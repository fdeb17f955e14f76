// Package board is the hardware boundary of the rig: the servo bus, the
// current sense bridge, and the indicator strip, behind interfaces the
// rest of the system consumes. There is no ambient hardware state; the
// Board is an explicit context object handed to the lifecycle controller.
package board

import (
	"context"
	"fmt"

	"github.com/mechanaut/sweeprig/pkg/rig"
)

// Actuator commands servo positions. Implementations do not retry;
// callers decide retry policy.
type Actuator interface {
	SetAngle(ctx context.Context, channel int, angle float64) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Close() error
}

// CurrentSensor reads per-channel load current in amperes.
type CurrentSensor interface {
	ReadCurrent(ctx context.Context, channel int) (float64, error)
	Close() error
}

// PixelStrip drives the addressable RGB indicators. SetPixel stages a
// color; Flush pushes the staged frame to the hardware.
type PixelStrip interface {
	SetPixel(index int, c rig.RGB) error
	Flush() error
	Close() error
}

// Board bundles the rig's hardware handles with the channel topology.
// It enforces safe angle bounds before anything reaches the bus.
type Board struct {
	servos   Actuator
	sensor   CurrentSensor
	pixels   PixelStrip
	channels []rig.Channel
}

// New creates a Board from hardware handles and the channel topology.
func New(servos Actuator, sensor CurrentSensor, pixels PixelStrip, channels []rig.Channel) *Board {
	return &Board{
		servos:   servos,
		sensor:   sensor,
		pixels:   pixels,
		channels: channels,
	}
}

// Channels returns the channel topology.
func (b *Board) Channels() []rig.Channel {
	return b.channels
}

// SetAngle commands a channel's servo. It fails with a RangeError before
// touching hardware if angle is outside the channel's safe bounds.
func (b *Board) SetAngle(ctx context.Context, channel int, angle float64) error {
	if channel < 0 || channel >= len(b.channels) {
		return fmt.Errorf("channel %d not configured", channel)
	}
	ch := b.channels[channel]
	if !ch.InRange(angle) {
		return &RangeError{Channel: channel, Angle: angle, Min: ch.MinAngle, Max: ch.MaxAngle}
	}
	return b.servos.SetAngle(ctx, channel, angle)
}

// ReadCurrent samples a channel's load current. A negative reading means
// the sense hardware is lying and is reported as a HardwareError.
func (b *Board) ReadCurrent(ctx context.Context, channel int) (float64, error) {
	if channel < 0 || channel >= len(b.channels) {
		return 0, fmt.Errorf("channel %d not configured", channel)
	}
	amps, err := b.sensor.ReadCurrent(ctx, channel)
	if err != nil {
		return 0, err
	}
	if amps < 0 {
		return 0, &HardwareError{Op: "read current", Channel: channel,
			Err: fmt.Errorf("negative reading %.3fA", amps)}
	}
	return amps, nil
}

// SetPixel stages one indicator's color.
func (b *Board) SetPixel(index int, c rig.RGB) error {
	return b.pixels.SetPixel(index, c)
}

// Flush pushes staged indicator colors to the strip.
func (b *Board) Flush() error {
	return b.pixels.Flush()
}

// Enable powers servo torque on all channels.
func (b *Board) Enable(ctx context.Context) error {
	return b.servos.Enable(ctx)
}

// Disable releases servo torque on all channels.
func (b *Board) Disable(ctx context.Context) error {
	return b.servos.Disable(ctx)
}

// Close closes all hardware handles.
func (b *Board) Close() error {
	var errs []error
	if err := b.servos.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.sensor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.pixels.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
