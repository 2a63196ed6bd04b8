// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration implements the two-position quick-calibration state
// machine for the wearable's IMU and the correction function applied to
// every live reading.
//
// The engine is driven cooperatively: the sensor loop calls Process once per
// polled sample and each call does bounded work (one sample collected, or
// one state check). Abort may be called between Process calls and takes
// effect immediately.
package calibration

import (
	"log"
	"math"
	"time"

	"github.com/relabs-tech/motion_tracker/internal/display"
	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// Params are the engine tunables. All thresholds are configuration: the
// useful movement tolerance in particular depends on gyro range and on
// whether the gyro itself has been calibrated yet.
type Params struct {
	QuickSamples int // samples per static phase, quick mode
	FullSamples  int // samples per static phase, full mode

	Gravity            float64 // expected gravity magnitude, g
	MovementTolerance  float64 // max gyro magnitude during sampling, °/s
	StillnessThreshold float64 // max gyro magnitude to count as still, °/s
	RotationThreshold  float64 // min degrees from vertical to detect rotation
	StableDuration     time.Duration
	RotationTimeout    time.Duration // bound on the rotation wait; 0 waits forever
	TempDriftLimit     float64       // max °C drift within a phase; 0 disables
	GyroDeadband       float64       // corrected gyro below this snaps to 0
	MinScaleFactor     float64
	MaxScaleFactor     float64
	ProgressEvery      int // progress notification cadence, in samples
}

// DefaultParams returns the tunables that worked on the reference hardware.
func DefaultParams() Params {
	return Params{
		QuickSamples:       200,
		FullSamples:        1000,
		Gravity:            1.0,
		MovementTolerance:  20.0,
		StillnessThreshold: 5.1,
		RotationThreshold:  70.0,
		StableDuration:     time.Second,
		RotationTimeout:    30 * time.Second,
		TempDriftLimit:     2.0,
		GyroDeadband:       0.05,
		MinScaleFactor:     0.5,
		MaxScaleFactor:     2.0,
		ProgressEvery:      10,
	}
}

// Engine owns the calibration state machine, the active sample window and
// the committed Result. It is not safe for concurrent use: all methods must
// be called from the single sensor loop.
type Engine struct {
	params   Params
	display  display.Display
	notifier ProgressNotifier

	inProgress bool
	state      State
	mode       Mode
	progress   uint8
	position   uint8 // 0 = flat phase, 1 = side phase

	window      SampleWindow
	stateStart  time.Time
	stableSince time.Time // zero = stillness timer not started
	phaseTemp   float64   // temperature at first sample of current phase
	havePhaseT  bool
	lastTemp    float64

	flatAccelMean vec.Vector3
	sideAccelMean vec.Vector3

	result  Result
	lastErr error // cause of the most recent StateFailed entry

	// nowFn exists so debounce and timeout behavior is testable.
	nowFn func() time.Time
}

// New builds an engine. notifier may be nil (no app connected at boot);
// disp must not be nil, pass display.Noop for headless runs.
func New(params Params, disp display.Display, notifier ProgressNotifier) *Engine {
	return &Engine{
		params:   params,
		display:  disp,
		notifier: notifier,
		state:    StateIdle,
		result:   Result{AccelScale: 1.0},
		nowFn:    time.Now,
	}
}

// Start begins a calibration run in the given mode. Returns ErrInvalidState
// if a run is already in progress, ErrOutOfMemory if the sample window
// cannot be allocated; the allocation failure is also reported once through
// the progress channel and leaves the engine in StateFailed.
func (e *Engine) Start(mode Mode) error {
	if e.inProgress {
		log.Printf("calibration: start requested but already in progress")
		return ErrInvalidState
	}
	log.Printf("calibration: starting %s calibration", mode)

	samples := e.params.QuickSamples
	if mode == ModeFull {
		samples = e.params.FullSamples
	}
	if err := e.window.Reset(samples); err != nil {
		log.Printf("calibration: sample window allocation failed (%d samples)", samples)
		e.lastErr = err
		e.state = StateFailed
		e.progress = 0
		e.publishProgress()
		return err
	}

	e.inProgress = true
	e.mode = mode
	e.result.Valid = false
	e.lastErr = nil
	e.position = 0
	e.havePhaseT = false
	e.progress = 0
	e.transitionTo(StateStaticFlat)
	return nil
}

// Abort cancels an in-progress run, releasing the sample window. Idempotent:
// calling it with no run in progress is a no-op, so a double abort performs
// no second release cycle.
func (e *Engine) Abort() {
	if !e.inProgress {
		return
	}
	log.Printf("calibration: aborting")
	e.window.Release()
	e.inProgress = false
	e.result.Valid = false
	e.lastErr = ErrAborted
	e.transitionTo(StateFailed)
}

// InProgress reports whether a run is active.
func (e *Engine) InProgress() bool { return e.inProgress }

// State returns the current machine state.
func (e *Engine) State() State { return e.state }

// Result returns the committed calibration result.
func (e *Engine) Result() Result { return e.result }

// LastError returns the cause of the most recent failed run, or nil. Cleared
// by Start.
func (e *Engine) LastError() error { return e.lastErr }

// SetResult installs a previously persisted result, e.g. at boot. Ignored
// while a run is in progress.
func (e *Engine) SetResult(r Result) {
	if e.inProgress {
		log.Printf("calibration: ignoring SetResult during active run")
		return
	}
	e.result = r
}

// Process consumes one polled sample. Bounded work per call; returns
// immediately when no run is in progress.
func (e *Engine) Process(s imu.RawSample) {
	if !e.inProgress {
		return
	}
	e.lastTemp = s.Temp

	switch e.state {
	case StateStaticFlat:
		e.handleStaticFlat(s)
	case StateWaitingRotation:
		e.handleWaitingRotation(s)
	case StateStabilizing:
		e.handleStabilizing(s)
	case StateStaticSide:
		e.handleStaticSide(s)
	default:
		// Terminal states never process; inProgress should already be false.
		log.Printf("calibration: process called in unexpected state %s", e.state)
		e.inProgress = false
	}
}

// Correct applies the committed calibration to one raw reading. Never fails:
// without a valid result the input passes through unchanged.
func (e *Engine) Correct(rawAccel, rawGyro vec.Vector3) CorrectedData {
	if !e.result.Valid {
		return CorrectedData{Accel: rawAccel, Gyro: rawGyro, Valid: false}
	}

	accel := rawAccel.Scale(e.result.AccelScale).Sub(e.result.AccelBias)

	gyro := rawGyro.Sub(e.result.GyroBias)
	gyro.X = deadband(gyro.X, e.params.GyroDeadband)
	gyro.Y = deadband(gyro.Y, e.params.GyroDeadband)
	gyro.Z = deadband(gyro.Z, e.params.GyroDeadband)

	return CorrectedData{Accel: accel, Gyro: gyro, Valid: true}
}

// deadband snaps noisy readings near zero to exactly zero.
func deadband(v, limit float64) float64 {
	if math.Abs(v) < limit {
		return 0
	}
	return v
}

// ---------- State handlers ----------

func (e *Engine) handleStaticFlat(s imu.RawSample) {
	if !e.collectSample(s, 0) {
		return
	}
	if !e.window.Full() {
		return
	}

	flatMean, err := e.window.AccelMean()
	if err != nil {
		e.fail(err, "flat accel mean: %v", err)
		return
	}
	gyroMean, err := e.window.GyroMean()
	if err != nil {
		e.fail(err, "flat gyro mean: %v", err)
		return
	}
	e.flatAccelMean = flatMean
	e.result.GyroBias = gyroMean
	log.Printf("calibration: flat position mean: X=%.3f Y=%.3f Z=%.3f", flatMean.X, flatMean.Y, flatMean.Z)
	log.Printf("calibration: gyro bias: X=%.3f Y=%.3f Z=%.3f", gyroMean.X, gyroMean.Y, gyroMean.Z)
	if sd, err := e.window.GyroStdDev(gyroMean); err == nil {
		log.Printf("calibration: gyro noise: X=%.4f Y=%.4f Z=%.4f", sd.X, sd.Y, sd.Z)
	}

	e.progress = 50
	e.transitionTo(StateWaitingRotation)
}

func (e *Engine) handleWaitingRotation(s imu.RawSample) {
	e.display.ShowInstruction("Rotate device 90°")

	if e.params.RotationTimeout > 0 && e.nowFn().Sub(e.stateStart) > e.params.RotationTimeout {
		e.fail(ErrRotationTimeout, "rotation wait expired after %s", e.params.RotationTimeout)
		return
	}

	mag := s.Accel.Magnitude()
	if mag == 0 {
		return
	}
	// Angle from vertical assumes the accelerometer reads near 1g; a device
	// in free fall or heavy vibration will not trigger the transition.
	angleFromVertical := math.Acos(s.Accel.Z/mag) * 180.0 / math.Pi
	if angleFromVertical > e.params.RotationThreshold {
		log.Printf("calibration: device rotation recognized (%.1f°), starting stabilization", angleFromVertical)
		e.transitionTo(StateStabilizing)
	}
}

func (e *Engine) handleStabilizing(s imu.RawSample) {
	now := e.nowFn()
	if s.Gyro.Magnitude() < e.params.StillnessThreshold {
		if e.stableSince.IsZero() {
			e.stableSince = now
		} else if now.Sub(e.stableSince) > e.params.StableDuration {
			e.position = 1
			e.transitionTo(StateStaticSide)
		}
		return
	}
	// Movement resumed: stillness must be continuous, restart the timer.
	e.stableSince = time.Time{}
}

func (e *Engine) handleStaticSide(s imu.RawSample) {
	if !e.collectSample(s, 50) {
		return
	}
	if !e.window.Full() {
		return
	}
	e.computeSidePosition()
}

// collectSample applies the movement and temperature rejection rules and
// stores s. baseProgress maps this phase onto the overall 0-100 range (flat
// phase covers 0-50, side phase 50-100). Returns false when the sample was
// rejected and the phase restarted.
func (e *Engine) collectSample(s imu.RawSample, baseProgress int) bool {
	gyroMag := s.Gyro.Magnitude()
	if gyroMag > e.params.MovementTolerance {
		log.Printf("calibration: movement detected (%.3f > %.3f), restarting phase",
			gyroMag, e.params.MovementTolerance)
		e.window.Discard()
		e.havePhaseT = false
		return false
	}

	if e.params.TempDriftLimit > 0 {
		if !e.havePhaseT {
			e.phaseTemp = s.Temp
			e.havePhaseT = true
		} else if math.Abs(s.Temp-e.phaseTemp) > e.params.TempDriftLimit {
			log.Printf("calibration: temperature drift (%.2f°C from %.2f°C), restarting phase",
				s.Temp, e.phaseTemp)
			e.window.Discard()
			e.phaseTemp = s.Temp
			return false
		}
	}

	if err := e.window.Append(s); err != nil {
		// Full() is checked after every append, so this is unreachable in
		// normal operation; treat it as a hard fault rather than lose data.
		e.fail(err, "sample append: %v", err)
		return false
	}

	if e.params.ProgressEvery > 0 && e.window.Count()%e.params.ProgressEvery == 0 {
		e.progress = uint8(baseProgress + e.window.Count()*50/e.window.Capacity())
		e.publishProgress()
		e.display.ShowProgress(int(e.progress))
	}
	return true
}

// computeSidePosition derives the bias and scale coefficients from the two
// collected positions and commits the result, or fails validation.
func (e *Engine) computeSidePosition() {
	sideMean, err := e.window.AccelMean()
	if err != nil {
		e.fail(err, "side accel mean: %v", err)
		return
	}
	e.sideAccelMean = sideMean
	if sd, err := e.window.AccelStdDev(sideMean); err == nil {
		log.Printf("calibration: side position noise: X=%.4f Y=%.4f Z=%.4f", sd.X, sd.Y, sd.Z)
	}

	xMagnitude := math.Abs(sideMean.X)
	zMagnitude := math.Abs(e.flatAccelMean.Z)
	averageMagnitude := (zMagnitude + xMagnitude) / 2.0
	scale := e.params.Gravity / averageMagnitude
	log.Printf("calibration: xMag=%.3f zMag=%.3f avgMag=%.3f", xMagnitude, zMagnitude, averageMagnitude)

	if scale < e.params.MinScaleFactor || scale > e.params.MaxScaleFactor {
		e.fail(ErrValidation, "invalid scale factor %.3f (allowed %.2f..%.2f)",
			scale, e.params.MinScaleFactor, e.params.MaxScaleFactor)
		return
	}

	e.result.AccelScale = scale
	e.result.AccelBias = vec.Vector3{
		X: e.flatAccelMean.X * scale,
		Y: (e.flatAccelMean.Y + sideMean.Y) * scale / 2.0,
		Z: sideMean.Z * scale,
	}
	e.result.ReferenceTemp = e.lastTemp
	e.result.Timestamp = e.nowFn()
	e.result.Valid = true

	log.Printf("calibration: scale=%.3f", scale)
	log.Printf("calibration: accel bias: X=%.3f Y=%.3f Z=%.3f",
		e.result.AccelBias.X, e.result.AccelBias.Y, e.result.AccelBias.Z)

	e.window.Release()
	e.inProgress = false
	e.progress = 100
	e.transitionTo(StateComplete)
	log.Printf("calibration: completed successfully")
}

// fail releases the window, marks the run failed with cause and reports it
// once via the progress channel. Failures never propagate across the polling
// boundary; callers inspect LastError instead.
func (e *Engine) fail(cause error, format string, args ...interface{}) {
	log.Printf("calibration: "+format, args...)
	e.window.Release()
	e.inProgress = false
	e.result.Valid = false
	e.lastErr = cause
	e.transitionTo(StateFailed)
}

// transitionTo switches state, resets the phase bookkeeping and reports the
// transition to the app and the display.
func (e *Engine) transitionTo(newState State) {
	log.Printf("calibration: state transition: %s -> %s", e.state, newState)
	e.state = newState
	e.stateStart = e.nowFn()
	e.stableSince = time.Time{}
	e.havePhaseT = false
	if !newState.Terminal() {
		e.window.Discard()
	}
	if newState == StateStaticFlat {
		e.progress = 0
	}
	e.publishProgress()
	e.display.ShowProgress(int(e.progress))
}

func (e *Engine) publishProgress() {
	if e.notifier == nil {
		return
	}
	e.notifier.NotifyProgress(Report(e.state, e.progress, e.lastTemp, e.position))
}
