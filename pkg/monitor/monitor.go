// Package monitor samples per-channel servo load current and classifies
// each reading against the rig's safety thresholds. It is the only
// component that reads the current sense hardware.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/rig"
)

// Reading is one channel's latest sample. Err is set when the read
// failed or timed out; Amps and Class are only meaningful when Err is
// nil.
type Reading struct {
	Channel int
	Amps    float64
	Class   rig.Classification
	Err     error
}

// Monitor owns current sampling. Readings are overwritten every sample
// pass; no history is kept.
type Monitor struct {
	b       *board.Board
	timeout time.Duration

	mu     sync.RWMutex
	latest []Reading

	faultC chan Reading
}

// New creates a Monitor with the given per-channel read timeout.
func New(b *board.Board, readTimeout time.Duration) *Monitor {
	return &Monitor{
		b:       b,
		timeout: readTimeout,
		latest:  make([]Reading, len(b.Channels())),
		faultC:  make(chan Reading, 1),
	}
}

// Sample reads every channel's current in turn and classifies the
// results. The sense hardware muxes one shared ADC, so reads serialize
// at the port regardless; reading in order here gives each channel a
// timeout budget that starts when its own read starts, instead of
// letting a slow neighbor eat it from a shared deadline. A channel
// whose read exceeds the timeout gets an error reading and the pass
// moves on.
func (m *Monitor) Sample(ctx context.Context) []Reading {
	channels := m.b.Channels()
	readings := make([]Reading, len(channels))

	for i, ch := range channels {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		amps, err := m.b.ReadCurrent(rctx, ch.Index)
		cancel()
		if err != nil {
			readings[i] = Reading{Channel: ch.Index, Err: err}
			continue
		}
		readings[i] = Reading{
			Channel: ch.Index,
			Amps:    amps,
			Class:   rig.Classify(amps, ch.Thresholds),
		}
	}

	m.mu.Lock()
	m.latest = readings
	m.mu.Unlock()

	for _, r := range readings {
		if r.Err == nil && r.Class == rig.Fault {
			m.notifyFault(r)
		}
	}

	return readings
}

// notifyFault hands a fault reading to the sequencer without blocking
// the sampling pass. An unread older fault is replaced by the new one.
func (m *Monitor) notifyFault(r Reading) {
	select {
	case m.faultC <- r:
	default:
		select {
		case <-m.faultC:
		default:
		}
		m.faultC <- r
	}
}

// Faults returns the fault notification channel. The monitor only
// reports; response policy belongs to the sequencer.
func (m *Monitor) Faults() <-chan Reading {
	return m.faultC
}

// Latest returns a copy of the most recent readings.
func (m *Monitor) Latest() []Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reading, len(m.latest))
	copy(out, m.latest)
	return out
}

// ClassOf returns the latest classification for one channel. Channels
// with no valid reading yet report Normal.
func (m *Monitor) ClassOf(channel int) rig.Classification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.latest {
		if r.Channel == channel && r.Err == nil {
			return r.Class
		}
	}
	return rig.Normal
}

// WorstInGroup returns the highest classification among a group's
// channels.
func (m *Monitor) WorstInGroup(g rig.IndicatorGroup) rig.Classification {
	worst := rig.Normal
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.latest {
		if r.Err != nil {
			continue
		}
		for _, ci := range g.Channels {
			if r.Channel == ci && r.Class > worst {
				worst = r.Class
			}
		}
	}
	return worst
}
