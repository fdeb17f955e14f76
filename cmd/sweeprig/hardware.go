package main

import (
	"fmt"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/rig"
)

// openBoard opens all three hardware handles from the config.
func openBoard(cfg *rig.Config) (*board.Board, error) {
	servos, err := board.NewFeetechActuator(cfg.ServoPort, cfg.ChannelServoIDs())
	if err != nil {
		return nil, err
	}

	sensor, err := board.NewSerialCurrentSensor(cfg.SensorPort)
	if err != nil {
		servos.Close()
		return nil, err
	}

	strip, err := board.NewOPCStrip(cfg.OPCAddress, len(cfg.Channels)/rig.ChannelsPerGroup)
	if err != nil {
		servos.Close()
		sensor.Close()
		return nil, fmt.Errorf("open indicator strip: %w", err)
	}

	return board.New(servos, sensor, strip, cfg.RigChannels()), nil
}
