package board

import (
	"context"
	"fmt"
	"math"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

const (
	busBaudRate = 1_000_000

	// STS servos resolve one revolution into 4096 counts.
	countsPerRev = 4096
)

// FeetechActuator drives the rig's servos over a feetech STS serial bus.
type FeetechActuator struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	ids   []int // bus servo ID per channel index
}

// NewFeetechActuator opens the servo bus and addresses one servo per
// channel, in channel order.
func NewFeetechActuator(port string, ids []int) (*FeetechActuator, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: busBaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open servo bus: %w", err)
	}

	group := feetech.NewServoGroupByIDs(bus, ids...)

	return &FeetechActuator{
		bus:   bus,
		group: group,
		ids:   ids,
	}, nil
}

// SetAngle commands one servo to the given angle in degrees.
func (a *FeetechActuator) SetAngle(ctx context.Context, channel int, angle float64) error {
	if channel < 0 || channel >= len(a.ids) {
		return fmt.Errorf("channel %d not on bus", channel)
	}
	positions := feetech.PositionMap{a.ids[channel]: angleToCount(angle)}
	if err := a.group.SetPositions(ctx, positions); err != nil {
		return &HardwareError{Op: "set angle", Channel: channel, Err: err}
	}
	return nil
}

// Enable powers torque on all servos.
func (a *FeetechActuator) Enable(ctx context.Context) error {
	if err := a.group.EnableAll(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	return nil
}

// Disable releases torque on all servos.
func (a *FeetechActuator) Disable(ctx context.Context) error {
	if err := a.group.DisableAll(ctx); err != nil {
		return fmt.Errorf("disable torque: %w", err)
	}
	return nil
}

// Close closes the bus connection.
func (a *FeetechActuator) Close() error {
	return a.bus.Close()
}

// angleToCount converts degrees to raw servo counts.
func angleToCount(angle float64) int {
	count := int(math.Round(angle / 360 * (countsPerRev - 1)))
	if count < 0 {
		count = 0
	}
	if count > countsPerRev-1 {
		count = countsPerRev - 1
	}
	return count
}
