// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides the hardware imu.Source implementations: the
// MPU-9250 over SPI with a BMP280 temperature reference, and a mock source
// for development without hardware.
package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// Full-scale ranges indexed by the config range setting.
var (
	accelRangesG  = []float64{2, 4, 8, 16}
	gyroRangesDPS = []float64{250, 500, 1000, 2000}
)

type imuSource struct {
	imu        *mpu9250.MPU9250
	accelScale float64 // g per count
	gyroScale  float64 // °/s per count

	env      *bmxx80.Dev
	haveEnv  bool
	lastTemp float64
}

// NewSource initializes the MPU-9250 over SPI plus, when configured, the
// BMP280 temperature sensor. The environment sensor is optional: without it
// samples carry a zero temperature and temperature gating is effectively
// inert.
func NewSource() (imu.Source, error) {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(cfg.IMUAccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%.0fg)", cfg.IMUAccelRange, accelRangesG[cfg.IMUAccelRange])

	if err := dev.SetGyroRange(cfg.IMUGyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%.0f°/s)", cfg.IMUGyroRange, gyroRangesDPS[cfg.IMUGyroRange])

	src := &imuSource{
		imu:        dev,
		accelScale: accelRangesG[cfg.IMUAccelRange] / 32768.0,
		gyroScale:  gyroRangesDPS[cfg.IMUGyroRange] / 32768.0,
	}

	// Environment sensor is optional but recommended: the calibration
	// engine uses its temperature for drift gating.
	if cfg.EnvSPIDevice != "" {
		bus, err := spireg.Open(cfg.EnvSPIDevice)
		if err != nil {
			log.Printf("IMU: WARNING: env sensor SPI open failed, continuing without temperature: %v", err)
		} else if env, err := bmxx80.NewSPI(bus, &bmxx80.DefaultOpts); err != nil {
			log.Printf("IMU: WARNING: env sensor init failed, continuing without temperature: %v", err)
		} else {
			src.env = env
			src.haveEnv = true
			log.Printf("IMU: env sensor initialized on %s", cfg.EnvSPIDevice)
		}
	}

	return src, nil
}

// Read polls one accelerometer/gyroscope pair and converts raw counts to
// physical units (g, °/s) using the configured full-scale ranges.
func (s *imuSource) Read() (imu.RawSample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.RawSample{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	if s.haveEnv {
		var e physic.Env
		if err := s.env.Sense(&e); err != nil {
			log.Printf("IMU: env sense error: %v", err)
		} else {
			s.lastTemp = e.Temperature.Celsius()
		}
	}

	return imu.RawSample{
		Accel: vec.Vector3{
			X: float64(ax) * s.accelScale,
			Y: float64(ay) * s.accelScale,
			Z: float64(az) * s.accelScale,
		},
		Gyro: vec.Vector3{
			X: float64(gx) * s.gyroScale,
			Y: float64(gy) * s.gyroScale,
			Z: float64(gz) * s.gyroScale,
		},
		Temp: s.lastTemp,
	}, nil
}
