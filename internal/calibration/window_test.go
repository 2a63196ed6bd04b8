// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

func fillWindow(t *testing.T, w *SampleWindow, samples []imu.RawSample) {
	t.Helper()
	for i, s := range samples {
		if err := w.Append(s); err != nil {
			t.Fatalf("append sample %d: %v", i, err)
		}
	}
}

func TestWindowResetBounds(t *testing.T) {
	var w SampleWindow

	if err := w.Reset(0); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Reset(0): expected ErrOutOfMemory, got %v", err)
	}
	if err := w.Reset(-5); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Reset(-5): expected ErrOutOfMemory, got %v", err)
	}
	if err := w.Reset(maxWindowCapacity + 1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Reset(too large): expected ErrOutOfMemory, got %v", err)
	}
	if err := w.Reset(200); err != nil {
		t.Fatalf("Reset(200): unexpected error: %v", err)
	}
	if w.Capacity() != 200 {
		t.Errorf("expected capacity 200, got %d", w.Capacity())
	}
}

func TestWindowOverflow(t *testing.T) {
	var w SampleWindow
	if err := w.Reset(2); err != nil {
		t.Fatalf("reset: %v", err)
	}

	s := imu.RawSample{Accel: vec.Vector3{Z: 1.0}}
	fillWindow(t, &w, []imu.RawSample{s, s})

	if !w.Full() {
		t.Fatal("window should be full after 2 appends")
	}
	if err := w.Append(s); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if w.Count() != 2 {
		t.Errorf("overflowing append must not change count, got %d", w.Count())
	}
}

func TestWindowMeanRequiresFull(t *testing.T) {
	var w SampleWindow
	if err := w.Reset(3); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fillWindow(t, &w, []imu.RawSample{{Accel: vec.Vector3{Z: 1.0}}})

	if _, err := w.AccelMean(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("partial window AccelMean: expected ErrIncomplete, got %v", err)
	}
	if _, err := w.GyroStdDev(vec.Vector3{}); !errors.Is(err, ErrIncomplete) {
		t.Errorf("partial window GyroStdDev: expected ErrIncomplete, got %v", err)
	}
}

func TestWindowMean(t *testing.T) {
	var w SampleWindow
	if err := w.Reset(4); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fillWindow(t, &w, []imu.RawSample{
		{Accel: vec.Vector3{X: 1, Y: 2, Z: 3}, Gyro: vec.Vector3{X: 4}},
		{Accel: vec.Vector3{X: 2, Y: 2, Z: 3}, Gyro: vec.Vector3{X: 4}},
		{Accel: vec.Vector3{X: 3, Y: 2, Z: 3}, Gyro: vec.Vector3{X: 4}},
		{Accel: vec.Vector3{X: 4, Y: 2, Z: 3}, Gyro: vec.Vector3{X: 4}},
	})

	mean, err := w.AccelMean()
	if err != nil {
		t.Fatalf("accel mean: %v", err)
	}
	want := vec.Vector3{X: 2.5, Y: 2, Z: 3}
	if mean != want {
		t.Errorf("accel mean: got %+v, want %+v", mean, want)
	}

	gyroMean, err := w.GyroMean()
	if err != nil {
		t.Fatalf("gyro mean: %v", err)
	}
	if gyroMean != (vec.Vector3{X: 4}) {
		t.Errorf("gyro mean: got %+v, want {4 0 0}", gyroMean)
	}
}

func TestWindowStdDev(t *testing.T) {
	var w SampleWindow
	if err := w.Reset(2); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Constant samples: zero deviation on every axis.
	s := imu.RawSample{Accel: vec.Vector3{X: 0.5, Y: -0.5, Z: 1.0}}
	fillWindow(t, &w, []imu.RawSample{s, s})

	mean, err := w.AccelMean()
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	sd, err := w.AccelStdDev(mean)
	if err != nil {
		t.Fatalf("stddev: %v", err)
	}
	if sd != (vec.Vector3{}) {
		t.Errorf("constant window stddev: got %+v, want zero", sd)
	}

	// Two symmetric samples: population stddev equals the half-spread.
	if err := w.Reset(2); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fillWindow(t, &w, []imu.RawSample{
		{Accel: vec.Vector3{X: 1}},
		{Accel: vec.Vector3{X: 3}},
	})
	mean, err = w.AccelMean()
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	sd, err = w.AccelStdDev(mean)
	if err != nil {
		t.Fatalf("stddev: %v", err)
	}
	if math.Abs(sd.X-1.0) > 1e-12 {
		t.Errorf("population stddev of {1,3}: got %v, want 1.0", sd.X)
	}
}

func TestWindowDiscardKeepsCapacity(t *testing.T) {
	var w SampleWindow
	if err := w.Reset(3); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fillWindow(t, &w, []imu.RawSample{{}, {}})

	w.Discard()
	if w.Count() != 0 {
		t.Errorf("count after discard: got %d, want 0", w.Count())
	}
	if w.Capacity() != 3 {
		t.Errorf("capacity after discard: got %d, want 3", w.Capacity())
	}

	w.Release()
	if w.Capacity() != 0 {
		t.Errorf("capacity after release: got %d, want 0", w.Capacity())
	}
}
