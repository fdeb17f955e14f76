package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mechanaut/sweeprig/pkg/board"
	"github.com/mechanaut/sweeprig/pkg/rig"
	"github.com/mechanaut/sweeprig/pkg/sequencer"
)

type fakeActuator struct {
	mu       sync.Mutex
	angles   map[int]float64
	disabled bool
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{angles: make(map[int]float64)}
}

func (a *fakeActuator) SetAngle(ctx context.Context, channel int, angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.angles[channel] = angle
	return nil
}

func (a *fakeActuator) Enable(ctx context.Context) error { return nil }

func (a *fakeActuator) Disable(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabled = true
	return nil
}

func (a *fakeActuator) Close() error { return nil }

func (a *fakeActuator) isDisabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabled
}

type fakeSensor struct{}

func (fakeSensor) ReadCurrent(ctx context.Context, channel int) (float64, error) { return 0.1, nil }
func (fakeSensor) Close() error                                                  { return nil }

type fakeStrip struct{}

func (fakeStrip) SetPixel(index int, c rig.RGB) error { return nil }
func (fakeStrip) Flush() error                        { return nil }
func (fakeStrip) Close() error                        { return nil }

func testConfig() *rig.Config {
	cfg := &rig.Config{
		ServoPort:     "/dev/null",
		SensorPort:    "/dev/null",
		OPCAddress:    "127.0.0.1:7890",
		SettleMs:      1,
		TickMs:        4,
		ReadTimeoutMs: 50,
	}
	for i := 0; i < 3; i++ {
		cfg.Channels = append(cfg.Channels, rig.ChannelConfig{
			Index:        i,
			MinAngle:     10,
			MaxAngle:     170,
			ElevatedAmps: 0.3,
			FaultAmps:    0.6,
		})
	}
	home := make(map[string]float64)
	away := make(map[string]float64)
	for i := 0; i < 3; i++ {
		angle := 10.0
		if i%2 == 1 {
			angle = 170.0
		}
		home[strconv.Itoa(i)] = angle
		away[strconv.Itoa(i)] = 90
	}
	cfg.Steps = []rig.StepConfig{
		{Angles: home},
		{Angles: away},
	}
	return cfg
}

func newTestController(t *testing.T) (*Controller, *fakeActuator) {
	t.Helper()
	act := newFakeActuator()
	b := board.New(act, fakeSensor{}, fakeStrip{}, testConfig().RigChannels())
	ctrl, err := New(b, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctrl, act
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Steps = nil

	b := board.New(newFakeActuator(), fakeSensor{}, fakeStrip{}, cfg.RigChannels())
	if _, err := New(b, cfg); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestStartTwiceFails(t *testing.T) {
	ctrl, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "homing to begin", func() bool {
		return ctrl.Status().State != sequencer.Uninitialized
	})

	err := ctrl.Start(context.Background())
	var stateErr *sequencer.StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("second Start = %v, want StateError", err)
	}
	if ctrl.Status().State == sequencer.Uninitialized {
		t.Error("state regressed after rejected start")
	}
}

func TestShutdownBeforeStartFails(t *testing.T) {
	ctrl, _ := newTestController(t)

	err := ctrl.RequestShutdown()
	var stateErr *sequencer.StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("RequestShutdown before start = %v, want StateError", err)
	}
}

func TestFullRunDisablesTorqueOnHalt(t *testing.T) {
	ctrl, act := newTestController(t)

	errC := make(chan error, 1)
	go func() {
		errC <- ctrl.Start(context.Background())
	}()

	waitFor(t, "running", func() bool {
		return ctrl.Status().State == sequencer.Running
	})
	if err := ctrl.RequestShutdown(); err != nil {
		t.Fatalf("RequestShutdown: %v", err)
	}

	select {
	case err := <-errC:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not halt")
	}

	st := ctrl.Status()
	if st.State != sequencer.Halted {
		t.Errorf("final state = %v, want halted", st.State)
	}
	if !st.SafeToDisconnect {
		t.Error("halted rig not safe to disconnect")
	}
	if !act.isDisabled() {
		t.Error("torque still enabled after halt")
	}
}

func TestStatusReportsChannels(t *testing.T) {
	ctrl, _ := newTestController(t)

	st := ctrl.Status()
	if st.State != sequencer.Uninitialized {
		t.Errorf("initial state = %v", st.State)
	}
	if len(st.Channels) != 3 {
		t.Errorf("status has %d channels, want 3", len(st.Channels))
	}
}
