package orientation

import (
	"math"

	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// Pose is a roll/pitch/yaw tilt estimate in degrees, derived from corrected
// accelerometer data. Used by the monitoring surfaces (console, web) to
// sanity-check calibration output; the companion app does its own fusion.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// FromAccel computes roll and pitch from a (preferably corrected)
// accelerometer vector using the standard tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
//
// Yaw cannot be observed from gravity alone and is reported as 0.
func FromAccel(a vec.Vector3) Pose {
	rollRad := math.Atan2(a.Y, a.Z)
	pitchRad := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}
