// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/motion_tracker/internal/display"
	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/transport"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// fakeClock drives the engine's debounce and timeout logic deterministically.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recordingNotifier captures every progress record the engine publishes.
type recordingNotifier struct {
	records []transport.ProgressRecord
}

func (n *recordingNotifier) NotifyProgress(rec transport.ProgressRecord) {
	n.records = append(n.records, rec)
}

func (n *recordingNotifier) last() transport.ProgressRecord {
	if len(n.records) == 0 {
		return transport.ProgressRecord{}
	}
	return n.records[len(n.records)-1]
}

func testParams() Params {
	p := DefaultParams()
	p.QuickSamples = 4
	p.FullSamples = 8
	p.ProgressEvery = 2
	p.StableDuration = 100 * time.Millisecond
	p.RotationTimeout = time.Second
	return p
}

func newTestEngine(t *testing.T, p Params) (*Engine, *fakeClock, *recordingNotifier) {
	t.Helper()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	e := New(p, display.Noop{}, notifier)
	e.nowFn = clock.Now
	return e, clock, notifier
}

// Canonical samples for a device with a small offset and slightly hot scale.
var (
	flatSample = imu.RawSample{
		Accel: vec.Vector3{X: 0.01, Y: 0.02, Z: 1.02},
		Gyro:  vec.Vector3{X: 0.1, Y: -0.2, Z: 0.05},
		Temp:  25.0,
	}
	rotatedSample = imu.RawSample{
		Accel: vec.Vector3{X: 1.0, Y: 0.0, Z: 0.05},
		Gyro:  vec.Vector3{X: 0.1},
		Temp:  25.0,
	}
	sideSample = imu.RawSample{
		Accel: vec.Vector3{X: 0.98, Y: 0.04, Z: 0.03},
		Gyro:  vec.Vector3{X: 0.1, Y: -0.2, Z: 0.05},
		Temp:  25.0,
	}
)

// feed calls Process n times with the same sample, advancing the clock by
// tick between calls.
func feed(e *Engine, clock *fakeClock, s imu.RawSample, n int, tick time.Duration) {
	for i := 0; i < n; i++ {
		e.Process(s)
		clock.Advance(tick)
	}
}

// driveToState pushes a freshly started engine through the happy path until
// the requested state is reached.
func driveToState(t *testing.T, e *Engine, clock *fakeClock, target State) {
	t.Helper()

	if target == StateStaticFlat {
		return
	}
	feed(e, clock, flatSample, e.params.QuickSamples, 10*time.Millisecond)
	if e.State() == target {
		return
	}

	e.Process(rotatedSample)
	if e.State() == target {
		return
	}

	// One still sample starts the timer, a second after the debounce window
	// completes it.
	e.Process(rotatedSample)
	clock.Advance(e.params.StableDuration + time.Millisecond)
	e.Process(rotatedSample)
	if e.State() != target {
		t.Fatalf("drive: reached %s, wanted %s", e.State(), target)
	}
}

func approxEqual(a, b vec.Vector3, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}

func TestQuickCalibrationEndToEnd(t *testing.T) {
	e, clock, notifier := newTestEngine(t, testParams())

	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	if e.State() != StateStaticFlat {
		t.Fatalf("after start: state %s, want %s", e.State(), StateStaticFlat)
	}

	// Flat phase fills, gyro bias commits, machine waits for the rotation.
	feed(e, clock, flatSample, 4, 10*time.Millisecond)
	if e.State() != StateWaitingRotation {
		t.Fatalf("after flat phase: state %s, want %s", e.State(), StateWaitingRotation)
	}
	if got := notifier.last(); got.State != uint8(StateWaitingRotation) || got.Progress != 50 {
		t.Errorf("flat phase report: state=%d progress=%d, want state=%d progress=50",
			got.State, got.Progress, StateWaitingRotation)
	}

	// ~87° from vertical triggers the rotation detector.
	e.Process(rotatedSample)
	if e.State() != StateStabilizing {
		t.Fatalf("after rotation: state %s, want %s", e.State(), StateStabilizing)
	}

	// Continuous stillness over the debounce window enters the side phase.
	e.Process(rotatedSample)
	clock.Advance(150 * time.Millisecond)
	e.Process(rotatedSample)
	if e.State() != StateStaticSide {
		t.Fatalf("after stabilization: state %s, want %s", e.State(), StateStaticSide)
	}

	feed(e, clock, sideSample, 4, 10*time.Millisecond)
	if e.State() != StateComplete {
		t.Fatalf("after side phase: state %s, want %s", e.State(), StateComplete)
	}
	if e.InProgress() {
		t.Error("engine still in progress after completion")
	}

	r := e.Result()
	if !r.Valid {
		t.Fatal("result not marked valid")
	}
	// avg(|side.X|, |flat.Z|) = (0.98 + 1.02) / 2 = 1.0, so scale is exactly 1.
	if math.Abs(r.AccelScale-1.0) > 1e-9 {
		t.Errorf("scale: got %v, want 1.0", r.AccelScale)
	}
	wantBias := vec.Vector3{X: 0.01, Y: 0.03, Z: 0.03}
	if !approxEqual(r.AccelBias, wantBias, 1e-9) {
		t.Errorf("accel bias: got %+v, want %+v", r.AccelBias, wantBias)
	}
	if !approxEqual(r.GyroBias, flatSample.Gyro, 1e-9) {
		t.Errorf("gyro bias: got %+v, want %+v", r.GyroBias, flatSample.Gyro)
	}
	if r.ReferenceTemp != 25.0 {
		t.Errorf("reference temp: got %v, want 25.0", r.ReferenceTemp)
	}

	if got := notifier.last(); got.State != uint8(StateComplete) || got.Progress != 100 || got.PositionIndex != 1 {
		t.Errorf("final report: %+v, want state=%d progress=100 position=1", got, StateComplete)
	}
}

func TestMovementRestartsPhase(t *testing.T) {
	e, clock, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}

	moving := flatSample
	moving.Gyro = vec.Vector3{X: 30.0} // above the 20 °/s tolerance

	// Two good, one moving, two good: without the restart rule the phase
	// would already be full. Movement must discard everything collected.
	feed(e, clock, flatSample, 2, 10*time.Millisecond)
	e.Process(moving)
	feed(e, clock, flatSample, 2, 10*time.Millisecond)
	if e.State() != StateStaticFlat {
		t.Fatalf("phase should have restarted, state is %s", e.State())
	}

	// Two more good samples complete the restarted phase.
	feed(e, clock, flatSample, 2, 10*time.Millisecond)
	if e.State() != StateWaitingRotation {
		t.Fatalf("restarted phase did not complete, state is %s", e.State())
	}
}

func TestTemperatureDriftRestartsPhase(t *testing.T) {
	p := testParams()
	p.TempDriftLimit = 2.0
	e, clock, _ := newTestEngine(t, p)
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}

	hot := flatSample
	hot.Temp = 28.5 // 3.5 °C above the phase reference

	feed(e, clock, flatSample, 3, 10*time.Millisecond)
	e.Process(hot)
	if e.State() != StateStaticFlat {
		t.Fatalf("drift should restart the phase, state is %s", e.State())
	}

	// The rejected sample's temperature becomes the new phase reference.
	feed(e, clock, hot, 4, 10*time.Millisecond)
	if e.State() != StateWaitingRotation {
		t.Fatalf("phase at new temperature did not complete, state is %s", e.State())
	}
}

func TestScaleValidationFailure(t *testing.T) {
	e, clock, notifier := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	driveToState(t, e, clock, StateStaticSide)

	// A side reading far above gravity drives the scale below MinScaleFactor.
	badSide := sideSample
	badSide.Accel = vec.Vector3{X: 3.0, Y: 0.0, Z: 0.02}
	feed(e, clock, badSide, 4, 10*time.Millisecond)

	if e.State() != StateFailed {
		t.Fatalf("state: got %s, want %s", e.State(), StateFailed)
	}
	if e.Result().Valid {
		t.Error("failed run must not commit a valid result")
	}
	if e.InProgress() {
		t.Error("engine still in progress after failure")
	}
	if got := notifier.last(); got.State != uint8(StateFailed) {
		t.Errorf("failure was not reported, last record %+v", got)
	}
	if !errors.Is(e.LastError(), ErrValidation) {
		t.Errorf("last error: got %v, want ErrValidation", e.LastError())
	}
}

func TestScaleValidationFailureTinyMagnitudes(t *testing.T) {
	e, clock, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A barely-sensitive accelerometer: both positions read far below
	// gravity, driving the scale above MaxScaleFactor.
	weakFlat := flatSample
	weakFlat.Accel = vec.Vector3{X: 0.001, Y: 0.002, Z: 0.1}
	weakSide := sideSample
	weakSide.Accel = vec.Vector3{X: 0.1, Y: 0.004, Z: 0.003}

	feed(e, clock, weakFlat, 4, 10*time.Millisecond)
	if e.State() != StateWaitingRotation {
		t.Fatalf("flat phase did not complete, state %s", e.State())
	}
	e.Process(rotatedSample)
	e.Process(rotatedSample)
	clock.Advance(e.params.StableDuration + time.Millisecond)
	e.Process(rotatedSample)
	if e.State() != StateStaticSide {
		t.Fatalf("did not reach side phase, state %s", e.State())
	}

	feed(e, clock, weakSide, 4, 10*time.Millisecond)
	if e.State() != StateFailed {
		t.Fatalf("state: got %s, want %s", e.State(), StateFailed)
	}
	if !errors.Is(e.LastError(), ErrValidation) {
		t.Errorf("last error: got %v, want ErrValidation", e.LastError())
	}
}

func TestRotationTimeout(t *testing.T) {
	e, clock, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	driveToState(t, e, clock, StateWaitingRotation)

	// Still flat, just past the deadline.
	clock.Advance(e.params.RotationTimeout + time.Millisecond)
	e.Process(flatSample)

	if e.State() != StateFailed {
		t.Fatalf("state: got %s, want %s", e.State(), StateFailed)
	}
	if !errors.Is(e.LastError(), ErrRotationTimeout) {
		t.Errorf("last error: got %v, want ErrRotationTimeout", e.LastError())
	}
}

func TestStillnessMustBeContinuous(t *testing.T) {
	e, clock, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	driveToState(t, e, clock, StateStabilizing)

	shaky := rotatedSample
	shaky.Gyro = vec.Vector3{X: 10.0} // above the 5.1 °/s stillness threshold

	// Hold still for most of the window, twitch, hold again for most of the
	// window: no transition, the timer restarts from the twitch.
	e.Process(rotatedSample)
	clock.Advance(80 * time.Millisecond)
	e.Process(shaky)
	clock.Advance(80 * time.Millisecond)
	e.Process(rotatedSample)
	clock.Advance(80 * time.Millisecond)
	e.Process(rotatedSample)
	if e.State() != StateStabilizing {
		t.Fatalf("interrupted stillness must not advance, state is %s", e.State())
	}

	// One full uninterrupted window does.
	clock.Advance(e.params.StableDuration + time.Millisecond)
	e.Process(rotatedSample)
	if e.State() != StateStaticSide {
		t.Fatalf("state: got %s, want %s", e.State(), StateStaticSide)
	}
}

func TestStartWhileRunning(t *testing.T) {
	e, _, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(ModeFull); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second start: got %v, want ErrInvalidState", err)
	}
	// The running quick calibration is unaffected.
	if e.State() != StateStaticFlat || !e.InProgress() {
		t.Errorf("running calibration disturbed: state=%s inProgress=%v", e.State(), e.InProgress())
	}
}

func TestFullModeUsesLargerWindow(t *testing.T) {
	e, clock, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeFull); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Quick-mode sample count is not enough in full mode.
	feed(e, clock, flatSample, 4, 10*time.Millisecond)
	if e.State() != StateStaticFlat {
		t.Fatalf("full mode finished flat phase too early, state %s", e.State())
	}
	feed(e, clock, flatSample, 4, 10*time.Millisecond)
	if e.State() != StateWaitingRotation {
		t.Fatalf("full mode flat phase did not complete, state %s", e.State())
	}
}

func TestAbort(t *testing.T) {
	e, _, _ := newTestEngine(t, testParams())

	// Abort with nothing running is a no-op, not a failure.
	e.Abort()
	if e.State() != StateIdle {
		t.Fatalf("abort without a run changed state to %s", e.State())
	}

	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Abort()
	if e.State() != StateFailed || e.InProgress() {
		t.Fatalf("after abort: state=%s inProgress=%v", e.State(), e.InProgress())
	}
	if e.Result().Valid {
		t.Error("abort must invalidate the pending result")
	}
	if !errors.Is(e.LastError(), ErrAborted) {
		t.Errorf("last error: got %v, want ErrAborted", e.LastError())
	}

	// Double abort performs no second release cycle.
	e.Abort()
	if e.State() != StateFailed {
		t.Errorf("double abort changed state to %s", e.State())
	}

	// The engine is restartable after an abort.
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("restart after abort: %v", err)
	}
}

func TestCorrectPassThroughWithoutCalibration(t *testing.T) {
	e, _, _ := newTestEngine(t, testParams())

	accel := vec.Vector3{X: 0.1, Y: 0.2, Z: 0.9}
	gyro := vec.Vector3{X: 1.5, Y: -2.0, Z: 0.01}
	out := e.Correct(accel, gyro)

	if out.Valid {
		t.Error("uncalibrated correction must report Valid=false")
	}
	if out.Accel != accel || out.Gyro != gyro {
		t.Errorf("uncalibrated correction altered data: %+v", out)
	}
}

func TestCorrectAppliesBiasScaleAndDeadband(t *testing.T) {
	e, _, _ := newTestEngine(t, testParams())
	e.SetResult(Result{
		AccelBias:  vec.Vector3{X: 0.01, Y: 0.03, Z: 0.03},
		GyroBias:   vec.Vector3{X: 0.1, Y: -0.2, Z: 0.05},
		AccelScale: 2.0,
		Valid:      true,
	})

	out := e.Correct(
		vec.Vector3{X: 0.5, Y: 0.25, Z: 0.5},
		vec.Vector3{X: 0.12, Y: -0.2, Z: 3.0},
	)
	if !out.Valid {
		t.Fatal("corrected data must report Valid=true")
	}

	wantAccel := vec.Vector3{X: 0.99, Y: 0.47, Z: 0.97}
	if !approxEqual(out.Accel, wantAccel, 1e-9) {
		t.Errorf("accel: got %+v, want %+v", out.Accel, wantAccel)
	}

	// X lands at 0.02, inside the 0.05 deadband: exactly zero, not nearly.
	if out.Gyro.X != 0 {
		t.Errorf("gyro X should snap to exactly 0, got %v", out.Gyro.X)
	}
	if out.Gyro.Y != 0 {
		t.Errorf("gyro Y should snap to exactly 0, got %v", out.Gyro.Y)
	}
	if math.Abs(out.Gyro.Z-2.95) > 1e-9 {
		t.Errorf("gyro Z: got %v, want 2.95", out.Gyro.Z)
	}
}

func TestSetResultIgnoredDuringRun(t *testing.T) {
	e, _, _ := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.SetResult(Result{Valid: true, AccelScale: 1.5})
	if e.Result().Valid {
		t.Error("SetResult must be ignored while a run is active")
	}
}

func TestProgressReportCadence(t *testing.T) {
	e, clock, notifier := newTestEngine(t, testParams())
	if err := e.Start(ModeQuick); err != nil {
		t.Fatalf("start: %v", err)
	}

	feed(e, clock, flatSample, 2, 10*time.Millisecond)
	// ProgressEvery=2, capacity=4: the second sample reports 25%.
	got := notifier.last()
	if got.State != uint8(StateStaticFlat) || got.Progress != 25 {
		t.Errorf("mid-phase report: state=%d progress=%d, want state=%d progress=25",
			got.State, got.Progress, StateStaticFlat)
	}
}
