package rig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

const DefaultConfigFile = "sweeprig.json"

// Defaults applied when the config leaves a duration at zero.
const (
	DefaultSettleMs      = 3000
	DefaultTickMs        = 5000
	DefaultReadTimeoutMs = 250
)

// Config holds the rig configuration. It is loaded once at startup and
// never written back; the rig re-homes on every start instead of
// persisting state.
type Config struct {
	ServoPort  string `json:"servo_port"`
	SensorPort string `json:"sensor_port"`
	OPCAddress string `json:"opc_address"`

	// ServoIDs maps channel index to bus servo ID. Empty means channel
	// index + 1.
	ServoIDs []int `json:"servo_ids,omitempty"`

	SettleMs      int `json:"settle_ms,omitempty"`
	TickMs        int `json:"tick_ms,omitempty"`
	ReadTimeoutMs int `json:"read_timeout_ms,omitempty"`

	// Palette overrides the default step palette, as hex colors.
	Palette []string `json:"palette,omitempty"`

	Channels []ChannelConfig `json:"channels"`
	Steps    []StepConfig    `json:"steps"`
}

// ChannelConfig configures one servo channel.
type ChannelConfig struct {
	Index        int     `json:"index"`
	MinAngle     float64 `json:"min_angle"`
	MaxAngle     float64 `json:"max_angle"`
	ElevatedAmps float64 `json:"elevated_amps"`
	FaultAmps    float64 `json:"fault_amps"`
}

// StepConfig configures one choreography step. Angle keys are channel
// indices (JSON object keys are strings).
type StepConfig struct {
	Angles     map[string]float64 `json:"angles"`
	Color      string             `json:"color,omitempty"`
	DurationMs int                `json:"duration_ms,omitempty"`
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom loads configuration from a specific file.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency. It does
// not touch hardware.
func (c *Config) Validate() error {
	n := len(c.Channels)
	if n == 0 {
		return fmt.Errorf("no channels configured")
	}
	if n > MaxChannels {
		return fmt.Errorf("%d channels configured, board has %d outputs", n, MaxChannels)
	}
	if n%ChannelsPerGroup != 0 {
		return fmt.Errorf("channel count %d is not a multiple of %d", n, ChannelsPerGroup)
	}
	for i, ch := range c.Channels {
		if ch.Index != i {
			return fmt.Errorf("channel %d: index %d out of order, expected %d", i, ch.Index, i)
		}
		if ch.MinAngle >= ch.MaxAngle {
			return fmt.Errorf("channel %d: min angle %.1f not below max angle %.1f", i, ch.MinAngle, ch.MaxAngle)
		}
		if ch.MinAngle < 0 || ch.MaxAngle > 360 {
			return fmt.Errorf("channel %d: angle range [%.1f, %.1f] outside 0-360", i, ch.MinAngle, ch.MaxAngle)
		}
		if ch.ElevatedAmps <= 0 || ch.ElevatedAmps >= ch.FaultAmps {
			return fmt.Errorf("channel %d: thresholds must satisfy 0 < elevated < fault, got %.2f/%.2f",
				i, ch.ElevatedAmps, ch.FaultAmps)
		}
	}
	if len(c.ServoIDs) != 0 && len(c.ServoIDs) != n {
		return fmt.Errorf("servo_ids has %d entries for %d channels", len(c.ServoIDs), n)
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("no steps configured")
	}
	for si, step := range c.Steps {
		if len(step.Angles) != n {
			return fmt.Errorf("step %d: covers %d channels, expected %d", si, len(step.Angles), n)
		}
		for key, angle := range step.Angles {
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= n {
				return fmt.Errorf("step %d: invalid channel key %q", si, key)
			}
			ch := c.Channels[idx]
			if angle < ch.MinAngle || angle > ch.MaxAngle {
				return fmt.Errorf("step %d: channel %d angle %.1f outside safe range [%.1f, %.1f]",
					si, idx, angle, ch.MinAngle, ch.MaxAngle)
			}
		}
		if step.Color != "" {
			if _, err := colorful.Hex(step.Color); err != nil {
				return fmt.Errorf("step %d: invalid color %q", si, step.Color)
			}
		}
		if step.DurationMs < 0 {
			return fmt.Errorf("step %d: negative duration", si)
		}
	}
	for i, hex := range c.Palette {
		if _, err := colorful.Hex(hex); err != nil {
			return fmt.Errorf("palette entry %d: invalid color %q", i, hex)
		}
	}
	return nil
}

// SettleDelay returns the post-homing settle delay.
func (c *Config) SettleDelay() time.Duration {
	return msOrDefault(c.SettleMs, DefaultSettleMs)
}

// TickPeriod returns the fallback tick period for steps without their
// own duration.
func (c *Config) TickPeriod() time.Duration {
	return msOrDefault(c.TickMs, DefaultTickMs)
}

// ReadTimeout returns the per-channel current read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return msOrDefault(c.ReadTimeoutMs, DefaultReadTimeoutMs)
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// RigChannels converts the channel configuration to the runtime topology.
func (c *Config) RigChannels() []Channel {
	channels := make([]Channel, len(c.Channels))
	for i, cc := range c.Channels {
		channels[i] = Channel{
			Index:    cc.Index,
			MinAngle: cc.MinAngle,
			MaxAngle: cc.MaxAngle,
			Thresholds: Thresholds{
				Elevated: cc.ElevatedAmps,
				Fault:    cc.FaultAmps,
			},
		}
	}
	return channels
}

// RigSteps converts the step configuration to the runtime step table.
// Steps without their own duration fall back to the tick period.
func (c *Config) RigSteps() []Step {
	steps := make([]Step, len(c.Steps))
	for i, sc := range c.Steps {
		angles := make(map[int]float64, len(sc.Angles))
		for key, angle := range sc.Angles {
			idx, _ := strconv.Atoi(key)
			angles[idx] = angle
		}
		duration := time.Duration(sc.DurationMs) * time.Millisecond
		if duration <= 0 {
			duration = c.TickPeriod()
		}
		steps[i] = Step{
			Index:     i,
			Angles:    angles,
			ColorHint: sc.Color,
			Duration:  duration,
		}
	}
	return steps
}

// ChannelServoIDs returns the bus servo ID for each channel index.
func (c *Config) ChannelServoIDs() []int {
	if len(c.ServoIDs) != 0 {
		ids := make([]int, len(c.ServoIDs))
		copy(ids, c.ServoIDs)
		return ids
	}
	ids := make([]int, len(c.Channels))
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}
