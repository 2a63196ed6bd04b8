// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

type mockSource struct {
	start time.Time
}

// NewMockSource creates a mock sample source for development without
// hardware. It simulates a device resting flat with small smooth gyro
// noise well below the stillness threshold, so a quick calibration's flat
// phase can run end to end.
func NewMockSource() imu.Source {
	return &mockSource{start: time.Now()}
}

func (m *mockSource) Read() (imu.RawSample, error) {
	elapsed := time.Since(m.start).Seconds()

	return imu.RawSample{
		Accel: vec.Vector3{
			X: 0.002 * math.Sin(elapsed*1.3),
			Y: 0.002 * math.Cos(elapsed*0.9),
			Z: 1.0 + 0.003*math.Sin(elapsed*2.1),
		},
		Gyro: vec.Vector3{
			X: 0.04 * math.Sin(elapsed*1.7),
			Y: 0.04 * math.Cos(elapsed*1.1),
			Z: 0.04 * math.Sin(elapsed*0.6),
		},
		Temp: 25.0 + 0.2*math.Sin(elapsed/60),
	}, nil
}
