// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// maxWindowCapacity caps a single phase's sample allocation. Asking for more
// is treated the same as an allocation failure on the embedded target.
const maxWindowCapacity = 4096

// SampleWindow accumulates accelerometer/gyroscope sample pairs for one
// calibration phase. It is owned exclusively by the engine: allocated at run
// start, count-reset between phases and on movement rejection, released at
// run end or abort. Mean and standard deviation are defined only once the
// window is full.
type SampleWindow struct {
	accel []vec.Vector3
	gyro  []vec.Vector3
	count int
}

// Reset (re)allocates storage for capacity samples and clears the count.
// Returns ErrOutOfMemory for a non-positive capacity or one above the
// allocation cap.
func (w *SampleWindow) Reset(capacity int) error {
	if capacity <= 0 || capacity > maxWindowCapacity {
		return ErrOutOfMemory
	}
	if cap(w.accel) < capacity {
		w.accel = make([]vec.Vector3, capacity)
		w.gyro = make([]vec.Vector3, capacity)
	}
	w.accel = w.accel[:capacity]
	w.gyro = w.gyro[:capacity]
	w.count = 0
	return nil
}

// Append stores one sample pair. Returns ErrOverflow once the window is
// full; the sample is not stored in that case.
func (w *SampleWindow) Append(s imu.RawSample) error {
	if w.count >= len(w.accel) {
		return ErrOverflow
	}
	w.accel[w.count] = s.Accel
	w.gyro[w.count] = s.Gyro
	w.count++
	return nil
}

// Discard drops all collected samples without releasing storage. Used for
// the movement/temperature rejection path: a contaminated window is never
// averaged in, the phase restarts from zero.
func (w *SampleWindow) Discard() {
	w.count = 0
}

// Release drops the backing storage entirely.
func (w *SampleWindow) Release() {
	w.accel = nil
	w.gyro = nil
	w.count = 0
}

// Count returns the number of samples collected so far.
func (w *SampleWindow) Count() int { return w.count }

// Capacity returns the allocated window size.
func (w *SampleWindow) Capacity() int { return len(w.accel) }

// Full reports whether the window holds capacity samples.
func (w *SampleWindow) Full() bool {
	return len(w.accel) > 0 && w.count == len(w.accel)
}

// AccelMean returns the component-wise mean of the accelerometer samples.
func (w *SampleWindow) AccelMean() (vec.Vector3, error) {
	return w.mean(w.accel)
}

// GyroMean returns the component-wise mean of the gyroscope samples.
func (w *SampleWindow) GyroMean() (vec.Vector3, error) {
	return w.mean(w.gyro)
}

// AccelStdDev returns the component-wise population standard deviation of
// the accelerometer samples around mean.
func (w *SampleWindow) AccelStdDev(mean vec.Vector3) (vec.Vector3, error) {
	return w.stdDev(w.accel, mean)
}

// GyroStdDev returns the component-wise population standard deviation of
// the gyroscope samples around mean.
func (w *SampleWindow) GyroStdDev(mean vec.Vector3) (vec.Vector3, error) {
	return w.stdDev(w.gyro, mean)
}

func (w *SampleWindow) mean(samples []vec.Vector3) (vec.Vector3, error) {
	if !w.Full() {
		return vec.Vector3{}, ErrIncomplete
	}
	var sum vec.Vector3
	for _, s := range samples {
		sum = sum.Add(s)
	}
	return sum.Div(float64(w.count)), nil
}

func (w *SampleWindow) stdDev(samples []vec.Vector3, mean vec.Vector3) (vec.Vector3, error) {
	if !w.Full() {
		return vec.Vector3{}, ErrIncomplete
	}
	var variance vec.Vector3
	for _, s := range samples {
		d := s.Sub(mean)
		variance.X += d.X * d.X
		variance.Y += d.Y * d.Y
		variance.Z += d.Z * d.Z
	}
	n := float64(w.count)
	return vec.Vector3{
		X: math.Sqrt(variance.X / n),
		Y: math.Sqrt(variance.Y / n),
		Z: math.Sqrt(variance.Z / n),
	}, nil
}
