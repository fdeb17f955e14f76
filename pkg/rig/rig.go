// Package rig describes the static topology of the sweeper rig: servo
// channels and their safe angle ranges, current thresholds, the
// choreography step table, and the indicator groups that visualize
// channel health.
package rig

import "time"

// ChannelsPerGroup is the number of consecutive channels represented by
// one RGB indicator.
const ChannelsPerGroup = 3

// MaxChannels is the number of servo outputs on the board.
const MaxChannels = 18

// Thresholds holds the current cutoffs for one channel, in amperes.
type Thresholds struct {
	Elevated float64
	Fault    float64
}

// Classification is the safety band of a current reading.
type Classification int

const (
	Normal Classification = iota
	Elevated
	Fault
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Classify maps a current reading onto its safety band. It is a pure
// function of the reading and the thresholds; readings exactly on a
// boundary classify into the higher band.
func Classify(amps float64, t Thresholds) Classification {
	switch {
	case amps >= t.Fault:
		return Fault
	case amps >= t.Elevated:
		return Elevated
	default:
		return Normal
	}
}

// Channel is one servo output plus its associated current sense input.
type Channel struct {
	Index      int
	MinAngle   float64
	MaxAngle   float64
	Thresholds Thresholds
}

// Home returns the channel's home angle. Even channels home at their low
// bound and odd channels at their high bound, the alternating pose the
// mechanical assembly requires.
func (c Channel) Home() float64 {
	if c.Index%2 == 0 {
		return c.MinAngle
	}
	return c.MaxAngle
}

// InRange reports whether angle is within the channel's safe bounds.
func (c Channel) InRange(angle float64) bool {
	return angle >= c.MinAngle && angle <= c.MaxAngle
}

// Step is one entry in the cyclic choreography table. Angles maps every
// active channel index to its target angle for the step.
type Step struct {
	Index     int
	Angles    map[int]float64
	ColorHint string
	Duration  time.Duration
}

// IsHome reports whether the step leaves every channel at its home angle.
func (s Step) IsHome(channels []Channel) bool {
	for _, ch := range channels {
		angle, ok := s.Angles[ch.Index]
		if !ok || angle != ch.Home() {
			return false
		}
	}
	return true
}

// HomeStep returns the index of the first step equal to the home pose,
// or -1 if the table has no home-equivalent step.
func HomeStep(steps []Step, channels []Channel) int {
	for _, s := range steps {
		if s.IsHome(channels) {
			return s.Index
		}
	}
	return -1
}

// RGB is the color displayed by one indicator.
type RGB struct {
	R, G, B uint8
}

// IndicatorGroup is one RGB indicator and the channels it represents.
type IndicatorGroup struct {
	Index    int
	Channels [ChannelsPerGroup]int
}

// Groups partitions n channels into fixed groups of three consecutive
// channels. Group g owns channels 3g, 3g+1, 3g+2.
func Groups(n int) []IndicatorGroup {
	groups := make([]IndicatorGroup, n/ChannelsPerGroup)
	for g := range groups {
		groups[g].Index = g
		for i := 0; i < ChannelsPerGroup; i++ {
			groups[g].Channels[i] = g*ChannelsPerGroup + i
		}
	}
	return groups
}
