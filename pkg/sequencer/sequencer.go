// Package sequencer owns the choreography state machine: homing into the
// alternating start pose, settling, the timed step loop, and per-channel
// failure isolation. Only the sequencer commands servo angles.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/lights"
	"github.com/mechanaut/sweeprig/pkg/monitor"
	"github.com/mechanaut/sweeprig/pkg/rig"
)

// A channel is marked degraded after this many consecutive hardware
// failures: the initial command plus one retry on the next tick.
const maxConsecutiveFailures = 2

// ChannelStatus is one channel's view in a status snapshot.
type ChannelStatus struct {
	Index    int
	Angle    float64
	Amps     float64
	Class    rig.Classification
	Degraded bool
}

// Status is a read-only snapshot of the sequencer.
type Status struct {
	State            State
	Step             int
	SafeToDisconnect bool
	Channels         []ChannelStatus
}

// Config holds sequencer timing.
type Config struct {
	// SettleDelay is the pause between homing and the first step, giving
	// the linked figures time to reach rest.
	SettleDelay time.Duration

	// TickPeriod is the fallback period for steps without their own
	// duration.
	TickPeriod time.Duration
}

// Sequencer drives the rig through the step table.
type Sequencer struct {
	b      *board.Board
	mon    *monitor.Monitor
	mapper *lights.Mapper
	steps  []rig.Step
	groups []rig.IndicatorGroup
	cfg    Config

	// homeStep is the index of the step matching the home pose, -1 if
	// the table has none.
	homeStep int

	mu       sync.RWMutex
	state    State
	step     int
	angles   []float64
	failures []int
	degraded []bool
	safe     bool

	shutdown atomic.Bool
	stateC   chan Status
	logC     chan string
}

// New creates a Sequencer. The step table must already be validated
// against the board's channels.
func New(b *board.Board, mon *monitor.Monitor, mapper *lights.Mapper, steps []rig.Step, cfg Config) *Sequencer {
	channels := b.Channels()
	return &Sequencer{
		b:        b,
		mon:      mon,
		mapper:   mapper,
		steps:    steps,
		groups:   rig.Groups(len(channels)),
		cfg:      cfg,
		homeStep: rig.HomeStep(steps, channels),
		state:    Uninitialized,
		step:     -1,
		angles:   make([]float64, len(channels)),
		failures: make([]int, len(channels)),
		degraded: make([]bool, len(channels)),
		stateC:   make(chan Status, 1),
		logC:     make(chan string, 10),
	}
}

// State returns the current lifecycle state.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// States returns a channel carrying status snapshots, one per tick and
// state transition. Stale snapshots are dropped in favor of new ones.
func (s *Sequencer) States() <-chan Status {
	return s.stateC
}

// Logs returns a channel that receives log messages.
func (s *Sequencer) Logs() <-chan string {
	return s.logC
}

// Status returns a read-only snapshot of the sequencer and its channels.
func (s *Sequencer) Status() Status {
	readings := s.mon.Latest()

	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := s.b.Channels()
	st := Status{
		State:            s.state,
		Step:             s.step,
		SafeToDisconnect: s.safe,
		Channels:         make([]ChannelStatus, len(channels)),
	}
	for i, ch := range channels {
		cs := ChannelStatus{
			Index:    ch.Index,
			Angle:    s.angles[ch.Index],
			Degraded: s.degraded[ch.Index],
		}
		for _, r := range readings {
			if r.Channel == ch.Index && r.Err == nil {
				cs.Amps = r.Amps
				cs.Class = r.Class
			}
		}
		st.Channels[i] = cs
	}
	return st
}

// RequestShutdown queues a shutdown for the next tick boundary. It fails
// with a StateError before the sequencer reaches Running.
func (s *Sequencer) RequestShutdown() error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state != Running && state != ShuttingDown {
		return &StateError{Op: "shutdown request", State: state}
	}
	s.shutdown.Store(true)
	return nil
}

// ResetChannel clears a channel's degraded mark so it is commanded again
// from the next tick.
func (s *Sequencer) ResetChannel(channel int) error {
	s.mu.Lock()
	if channel < 0 || channel >= len(s.degraded) {
		s.mu.Unlock()
		return fmt.Errorf("channel %d not configured", channel)
	}
	wasDegraded := s.degraded[channel]
	s.degraded[channel] = false
	s.failures[channel] = 0
	s.mu.Unlock()

	if wasDegraded {
		s.logf("channel %d reset, rejoining command batch", channel)
	}
	return nil
}

// Run drives the full lifecycle: homing, settling, then the step loop.
// It blocks until the sequencer halts or ctx is cancelled, and may be
// called once per process.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "start", State: state}
	}
	s.state = Homing
	s.mu.Unlock()
	s.publish()

	s.logf("homing %d channels into alternating pose", len(s.b.Channels()))
	if err := s.home(ctx); err != nil {
		// A partially homed rig is unsafe to sequence.
		s.setState(Halted)
		s.publish()
		return fmt.Errorf("homing: %w", err)
	}

	s.setState(Settling)
	s.publish()
	s.logf("settling for %s", s.cfg.SettleDelay)
	select {
	case <-ctx.Done():
		s.setState(Halted)
		s.publish()
		return ctx.Err()
	case <-time.After(s.cfg.SettleDelay):
	}

	s.setState(Running)
	s.publish()
	s.logf("running %d-step loop", len(s.steps))
	return s.loop(ctx)
}

// home enables torque and commands every channel to its parity home
// angle. Any failure aborts homing.
func (s *Sequencer) home(ctx context.Context) error {
	if err := s.b.Enable(ctx); err != nil {
		return err
	}
	for _, ch := range s.b.Channels() {
		if err := s.b.SetAngle(ctx, ch.Index, ch.Home()); err != nil {
			return err
		}
		s.mu.Lock()
		s.angles[ch.Index] = ch.Home()
		s.mu.Unlock()
	}
	return nil
}

// loop runs ticks on step-duration boundaries until Halted. An overrun
// tick logs and skips to the next boundary rather than queuing a
// backlog.
func (s *Sequencer) loop(ctx context.Context) error {
	next := time.Now()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.tick(ctx)
		if s.State() == Halted {
			return nil
		}

		period := s.currentPeriod()
		next = next.Add(period)
		if wait := time.Until(next); wait <= 0 {
			s.logf("tick overran its %s period by %s, skipping to next boundary",
				period, (-wait).Round(time.Millisecond))
			for time.Until(next) <= 0 {
				next = next.Add(period)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			s.setState(Halted)
			s.publish()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tick advances one step: honor a queued shutdown, command the step's
// angles, sample current, and recolor the indicators.
func (s *Sequencer) tick(ctx context.Context) {
	s.mu.Lock()
	enteredShutdown := false
	if s.state == Running && s.shutdown.Load() {
		s.state = ShuttingDown
		enteredShutdown = true
	}
	state := s.state

	var step rig.Step
	synthesized := false
	if state == ShuttingDown && s.homeStep < 0 {
		// The table has no home-equivalent step; synthesize the homing
		// command instead of cycling forever.
		step = s.homePoseLocked()
		synthesized = true
	} else {
		s.step = (s.step + 1) % len(s.steps)
		step = s.steps[s.step]
	}
	atHomeStep := s.step == s.homeStep
	s.mu.Unlock()

	if enteredShutdown {
		s.logf("shutdown requested, cycling back to home pose")
	}

	s.command(ctx, step)
	s.mon.Sample(ctx)
	s.drainFaults()
	s.updateLights(step)

	if state == ShuttingDown && (synthesized || atHomeStep) && s.atHome() {
		s.mu.Lock()
		s.state = Halted
		s.safe = true
		s.mu.Unlock()
		s.logf("home pose restored, safe to disconnect power")
	}

	s.publish()
}

// homePoseLocked builds a synthetic step holding every channel's home
// angle. Caller holds s.mu.
func (s *Sequencer) homePoseLocked() rig.Step {
	angles := make(map[int]float64, len(s.angles))
	for _, ch := range s.b.Channels() {
		angles[ch.Index] = ch.Home()
	}
	idx := s.step
	if idx < 0 {
		idx = 0
	}
	return rig.Step{Index: idx, Angles: angles}
}

// command issues the step's angles. Degraded channels stay frozen, and a
// channel whose latest load reading sits in the fault band is never
// commanded.
func (s *Sequencer) command(ctx context.Context, step rig.Step) {
	for _, ch := range s.b.Channels() {
		i := ch.Index

		s.mu.RLock()
		degraded := s.degraded[i]
		s.mu.RUnlock()
		if degraded {
			continue
		}
		if s.mon.ClassOf(i) == rig.Fault {
			continue
		}

		target, ok := step.Angles[i]
		if !ok {
			continue
		}
		if err := s.b.SetAngle(ctx, i, target); err != nil {
			s.recordFailure(i, err)
			continue
		}

		s.mu.Lock()
		s.failures[i] = 0
		s.angles[i] = target
		s.mu.Unlock()
	}
}

// recordFailure applies the retry policy: a RangeError is a caller bug
// fatal to that call only, a HardwareError gets one retry on the next
// tick boundary before the channel is marked degraded.
func (s *Sequencer) recordFailure(channel int, err error) {
	var rangeErr *board.RangeError
	if errors.As(err, &rangeErr) {
		s.logf("channel %d: %v", channel, err)
		return
	}

	s.mu.Lock()
	s.failures[channel]++
	count := s.failures[channel]
	if count >= maxConsecutiveFailures {
		s.degraded[channel] = true
	}
	s.mu.Unlock()

	if count >= maxConsecutiveFailures {
		s.logf("channel %d degraded after %d consecutive hardware errors: %v", channel, count, err)
	} else {
		s.logf("channel %d: %v, retrying next tick", channel, err)
	}
}

// drainFaults logs pending fault notifications from the monitor.
func (s *Sequencer) drainFaults() {
	for {
		select {
		case r := <-s.mon.Faults():
			s.logf("channel %d load %.2fA in fault band", r.Channel, r.Amps)
		default:
			return
		}
	}
}

// updateLights recolors every indicator from the active step and the
// worst classification in its group. Degraded channels force the alert
// color for their group.
func (s *Sequencer) updateLights(step rig.Step) {
	for _, g := range s.groups {
		color := s.mapper.ColorFor(step, s.mon.WorstInGroup(g))

		s.mu.RLock()
		for _, ci := range g.Channels {
			if s.degraded[ci] {
				color = s.mapper.Alert()
			}
		}
		s.mu.RUnlock()

		if err := s.b.SetPixel(g.Index, color); err != nil {
			s.logf("indicator %d: %v", g.Index, err)
		}
	}
	if err := s.b.Flush(); err != nil {
		s.logf("indicators: %v", err)
	}
}

// atHome reports whether every non-degraded channel sits at its home
// angle. Degraded channels are frozen wherever they failed and cannot be
// waited on.
func (s *Sequencer) atHome() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.b.Channels() {
		if s.degraded[ch.Index] {
			continue
		}
		if s.angles[ch.Index] != ch.Home() {
			return false
		}
	}
	return true
}

// currentPeriod returns the hold duration of the step just commanded.
func (s *Sequencer) currentPeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.step >= 0 && s.step < len(s.steps) {
		if d := s.steps[s.step].Duration; d > 0 {
			return d
		}
	}
	return s.cfg.TickPeriod
}

func (s *Sequencer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// publish pushes a status snapshot, replacing an unread older one.
func (s *Sequencer) publish() {
	st := s.Status()
	select {
	case s.stateC <- st:
	default:
		select {
		case <-s.stateC:
		default:
		}
		s.stateC <- st
	}
}

func (s *Sequencer) logf(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case s.logC <- msg:
	default:
		// Drop if channel full
	}
}
