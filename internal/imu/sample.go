package imu

import "github.com/relabs-tech/motion_tracker/internal/vec"

// RawSample is a single uncalibrated accelerometer/gyroscope pair captured
// atomically from the sensor, plus the device temperature at capture time.
// Accel is in g, Gyro in °/s, Temp in °C.
type RawSample struct {
	Accel vec.Vector3 `json:"accel"`
	Gyro  vec.Vector3 `json:"gyro"`
	Temp  float64     `json:"temp_c"`
}

// Source is anything that can provide raw samples over time: the real
// MPU-9250 over SPI, or a mock source for development without hardware.
type Source interface {
	Read() (RawSample, error)
}
