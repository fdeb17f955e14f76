package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/rig"
)

type nopActuator struct{}

func (nopActuator) SetAngle(ctx context.Context, channel int, angle float64) error { return nil }
func (nopActuator) Enable(ctx context.Context) error                               { return nil }
func (nopActuator) Disable(ctx context.Context) error                              { return nil }
func (nopActuator) Close() error                                                   { return nil }

type nopStrip struct{}

func (nopStrip) SetPixel(index int, c rig.RGB) error { return nil }
func (nopStrip) Flush() error                        { return nil }
func (nopStrip) Close() error                        { return nil }

type fakeSensor struct {
	amps  map[int]float64
	block map[int]bool // channels whose reads hang until the context dies
}

func (s *fakeSensor) ReadCurrent(ctx context.Context, channel int) (float64, error) {
	if s.block[channel] {
		<-ctx.Done()
		return 0, &board.HardwareError{Op: "read current", Channel: channel, Err: ctx.Err()}
	}
	return s.amps[channel], nil
}

func (s *fakeSensor) Close() error { return nil }

// slowMuxSensor serializes reads behind a shared lock like the real ADC
// bridge and spends a fixed time on each one. A read whose deadline
// already expired while queued fails immediately.
type slowMuxSensor struct {
	mu      sync.Mutex
	perRead time.Duration
}

func (s *slowMuxSensor) ReadCurrent(ctx context.Context, channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
		return 0, &board.HardwareError{Op: "read current", Channel: channel, Err: ctx.Err()}
	}
	time.Sleep(s.perRead)
	return 0.1, nil
}

func (s *slowMuxSensor) Close() error { return nil }

func testChannels(n int) []rig.Channel {
	channels := make([]rig.Channel, n)
	for i := range channels {
		channels[i] = rig.Channel{
			Index:      i,
			MinAngle:   10,
			MaxAngle:   170,
			Thresholds: rig.Thresholds{Elevated: 0.3, Fault: 0.6},
		}
	}
	return channels
}

func newTestMonitor(sensor *fakeSensor, n int, timeout time.Duration) *Monitor {
	b := board.New(nopActuator{}, sensor, nopStrip{}, testChannels(n))
	return New(b, timeout)
}

func TestSampleClassifies(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.1, 1: 0.35, 2: 0.6, 3: 0.9}}
	m := newTestMonitor(sensor, 4, 100*time.Millisecond)

	readings := m.Sample(context.Background())

	expected := []rig.Classification{rig.Normal, rig.Elevated, rig.Fault, rig.Fault}
	for i, want := range expected {
		r := readings[i]
		if r.Err != nil {
			t.Fatalf("channel %d: unexpected error %v", i, r.Err)
		}
		if r.Class != want {
			t.Errorf("channel %d classified %v, want %v", i, r.Class, want)
		}
	}
}

func TestSampleSendsFaultNotification(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.1, 1: 0.1, 2: 0.95}}
	m := newTestMonitor(sensor, 3, 100*time.Millisecond)

	m.Sample(context.Background())

	select {
	case r := <-m.Faults():
		if r.Channel != 2 {
			t.Errorf("fault notification for channel %d, want 2", r.Channel)
		}
	default:
		t.Fatal("no fault notification delivered")
	}
}

func TestFaultNotificationNeverBlocks(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.9, 1: 0.9, 2: 0.9}}
	m := newTestMonitor(sensor, 3, 100*time.Millisecond)

	// Nobody reads Faults(); repeated passes must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			m.Sample(context.Background())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampling blocked on an unread fault channel")
	}
}

func TestStuckReadBecomesError(t *testing.T) {
	sensor := &fakeSensor{
		amps:  map[int]float64{0: 0.2},
		block: map[int]bool{1: true},
	}
	m := newTestMonitor(sensor, 3, 20*time.Millisecond)

	start := time.Now()
	readings := m.Sample(context.Background())
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("stuck read stalled the pass for %v", elapsed)
	}

	var hwErr *board.HardwareError
	if !errors.As(readings[1].Err, &hwErr) {
		t.Errorf("stuck channel reading = %+v, want HardwareError", readings[1])
	}
	if readings[0].Err != nil || readings[2].Err != nil {
		t.Error("healthy channels affected by the stuck one")
	}
}

func TestSlowSerializedReadsKeepTheirBudgets(t *testing.T) {
	// A full rig behind a serialized sensor: 18 reads at 20ms each take
	// well past any single 100ms budget. Time queued behind the mux must
	// not count against a channel's own read.
	sensor := &slowMuxSensor{perRead: 20 * time.Millisecond}
	b := board.New(nopActuator{}, sensor, nopStrip{}, testChannels(18))
	m := New(b, 100*time.Millisecond)

	readings := m.Sample(context.Background())

	for _, r := range readings {
		if r.Err != nil {
			t.Errorf("channel %d: %v", r.Channel, r.Err)
		}
	}
}

func TestWorstInGroup(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.1, 1: 0.4, 2: 0.1, 3: 0.7, 4: 0.1, 5: 0.1}}
	m := newTestMonitor(sensor, 6, 100*time.Millisecond)
	m.Sample(context.Background())

	groups := rig.Groups(6)
	if got := m.WorstInGroup(groups[0]); got != rig.Elevated {
		t.Errorf("group 0 worst = %v, want elevated", got)
	}
	if got := m.WorstInGroup(groups[1]); got != rig.Fault {
		t.Errorf("group 1 worst = %v, want fault", got)
	}
}

func TestClassOf(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.1, 1: 0.7, 2: 0.1}}
	m := newTestMonitor(sensor, 3, 100*time.Millisecond)

	// Before any sample everything reads normal.
	if got := m.ClassOf(1); got != rig.Normal {
		t.Errorf("ClassOf before sampling = %v, want normal", got)
	}

	m.Sample(context.Background())
	if got := m.ClassOf(1); got != rig.Fault {
		t.Errorf("ClassOf(1) = %v, want fault", got)
	}
}

func TestLatestIsACopy(t *testing.T) {
	sensor := &fakeSensor{amps: map[int]float64{0: 0.1, 1: 0.1, 2: 0.1}}
	m := newTestMonitor(sensor, 3, 100*time.Millisecond)
	m.Sample(context.Background())

	latest := m.Latest()
	latest[0].Amps = 99

	if m.Latest()[0].Amps == 99 {
		t.Error("Latest exposes internal state")
	}
}
