// Package lights maps choreography steps and channel health to indicator
// colors. Each of the rig's six indicators shows its group's step color
// until a channel in the group runs hot, at which point health wins.
package lights

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/mechanaut/sweeprig/pkg/rig"
)

// DefaultPalette is the step palette used when the config supplies none.
var DefaultPalette = []string{
	"#FF0000", // red
	"#FF2800", // orange
	"#FF9600", // yellow
	"#00FF00", // green
	"#0000FF", // blue
	"#B400FF", // violet
}

const (
	amberHex = "#FFBF00"
	alertHex = "#FF0000"
)

// Mapper computes indicator colors. It is stateless after construction;
// ColorFor is a pure function.
type Mapper struct {
	palette []colorful.Color
	amber   colorful.Color
	alert   rig.RGB
}

// NewMapper builds a Mapper from hex palette entries. A nil or empty
// palette selects DefaultPalette.
func NewMapper(palette []string) (*Mapper, error) {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	parsed := make([]colorful.Color, len(palette))
	for i, hex := range palette {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: invalid color %q", i, hex)
		}
		parsed[i] = c
	}
	amber, _ := colorful.Hex(amberHex)
	alertC, _ := colorful.Hex(alertHex)
	r, g, b := alertC.RGB255()
	return &Mapper{
		palette: parsed,
		amber:   amber,
		alert:   rig.RGB{R: r, G: g, B: b},
	}, nil
}

// ColorFor returns the color one indicator should display for the active
// step given the worst classification among its channels. Fault overrides
// everything; elevated blends the step color toward amber. The swap is
// instantaneous, there is no fading.
func (m *Mapper) ColorFor(step rig.Step, worst rig.Classification) rig.RGB {
	if worst == rig.Fault {
		return m.alert
	}

	base := m.palette[step.Index%len(m.palette)]
	if step.ColorHint != "" {
		if c, err := colorful.Hex(step.ColorHint); err == nil {
			base = c
		}
	}

	if worst == rig.Elevated {
		base = base.BlendLab(m.amber, 0.5)
	}

	r, g, b := base.RGB255()
	return rig.RGB{R: r, G: g, B: b}
}

// Alert returns the fixed fault color.
func (m *Mapper) Alert() rig.RGB {
	return m.alert
}
