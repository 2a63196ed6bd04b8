// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"time"

	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// Result holds the correction coefficients produced by a successful run.
// Valid=false means correction is a pass-through. Once committed the result
// is read-only: the live correction path and the store both consume it as a
// value.
type Result struct {
	AccelBias     vec.Vector3 `json:"accel_bias"`
	GyroBias      vec.Vector3 `json:"gyro_bias"`
	AccelScale    float64     `json:"accel_scale"`
	Valid         bool        `json:"valid"`
	ReferenceTemp float64     `json:"reference_temp_c"`
	Timestamp     time.Time   `json:"timestamp"`
}

// CorrectedData is one corrected accel/gyro pair. Valid mirrors the result
// used: false means the values passed through unchanged.
type CorrectedData struct {
	Accel vec.Vector3 `json:"accel"`
	Gyro  vec.Vector3 `json:"gyro"`
	Valid bool        `json:"valid"`
}
