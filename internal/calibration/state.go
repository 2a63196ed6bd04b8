// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "errors"

// State identifies the active calibration phase. Wire values are part of the
// progress-record contract with the companion app.
type State uint8

const (
	StateIdle            State = 0
	StateStaticFlat      State = 1 // device lying flat (display up)
	StateWaitingRotation State = 2 // waiting for user to rotate device
	StateStabilizing     State = 3 // waiting for stability after rotation
	StateStaticSide      State = 4 // device on side (display towards user)
	StateComplete        State = 5
	StateFailed          State = 6
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStaticFlat:
		return "STATIC_FLAT"
	case StateWaitingRotation:
		return "WAITING_ROTATION"
	case StateStabilizing:
		return "STABILIZING"
	case StateStaticSide:
		return "STATIC_SIDE"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the two terminal states.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Mode selects how many samples each static phase collects.
type Mode uint8

const (
	ModeQuick Mode = iota
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "quick"
}

var (
	// ErrOutOfMemory is returned when sample buffers cannot be allocated.
	ErrOutOfMemory = errors.New("calibration: cannot allocate sample buffers")
	// ErrInvalidState is returned when a command does not apply, e.g. a
	// start while a run is already in progress.
	ErrInvalidState = errors.New("calibration: not applicable in current state")
	// ErrOverflow is returned by SampleWindow.Append past capacity.
	ErrOverflow = errors.New("calibration: sample window full")
	// ErrIncomplete is returned when statistics are requested before the
	// window has been filled to capacity.
	ErrIncomplete = errors.New("calibration: sample window not yet full")
	// ErrValidation marks coefficients outside the acceptable range.
	ErrValidation = errors.New("calibration: computed scale factor out of range")
	// ErrAborted marks an operator-requested cancellation.
	ErrAborted = errors.New("calibration: aborted")
	// ErrRotationTimeout marks an expired rotation wait.
	ErrRotationTimeout = errors.New("calibration: timed out waiting for device rotation")
)
