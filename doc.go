// Package sweeprig drives a rig of hobby servos through a cyclic
// choreography while watching per-channel load current and reflecting
// channel health on addressable RGB indicators.
//
// The rig homes into an alternating low/high pose on startup, settles,
// then loops through a configured step table. Every tick the sequencer
// commands the next step's angles, samples current on all channels, and
// recolors the indicators. Channels that trip the fault threshold or keep
// failing their hardware commands are isolated rather than stopping the
// whole rig.
//
// # Usage
//
// Verify the hardware and configuration:
//
//	sweeprig check
//
// Home the rig and run the choreography:
//
//	sweeprig run
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/sweeprig: CLI with run and check commands
//   - pkg/rig: static topology, step table, and configuration
//   - pkg/board: hardware boundary (servo bus, current sense, pixels)
//   - pkg/monitor: per-channel current sampling and classification
//   - pkg/lights: step and health driven indicator colors
//   - pkg/sequencer: the choreography state machine and tick loop
//   - pkg/lifecycle: startup, shutdown, and the outward control surface
package sweeprig
