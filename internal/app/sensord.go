// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/motion_tracker/internal/calibration"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/display"
	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/sensors"
	"github.com/relabs-tech/motion_tracker/internal/store"
	"github.com/relabs-tech/motion_tracker/internal/transport"
)

// RunSensor is the firmware main loop: poll the IMU at the configured rate,
// feed the calibration engine while a run is active, otherwise publish
// corrected sensor frames. Single goroutine drives all engine state; MQTT
// callbacks only enqueue commands.
func RunSensor() error {
	log.Println("starting motion-tracker sensor loop")

	cfg := config.Get()

	// --- Display (optional) ---
	var disp display.Display = display.Noop{}
	if cfg.DisplayEnabled {
		d, err := display.NewSSD1306(cfg.DisplayI2CAddr)
		if err != nil {
			log.Printf("sensord: WARNING: display unavailable, continuing headless: %v", err)
		} else {
			disp = d
		}
	}

	// --- Sample source (mock vs real IMU) ---
	var src imu.Source
	if cfg.IMUUseMock {
		log.Println("sensord: using mock sample source")
		src = sensors.NewMockSource()
	} else {
		var err error
		src, err = sensors.NewSource()
		if err != nil {
			return fmt.Errorf("failed to initialize IMU: %w", err)
		}
	}

	// --- Connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDSensor).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Println("sensord: connected to MQTT, starting poll loop")

	notifier := transport.NewMQTTNotifier(client, cfg)
	engine := calibration.New(engineParams(cfg), disp, notifier)

	// Restore persisted calibration, if any.
	st := store.New(cfg.CalibStorePath)
	if r, err := st.Load(); err != nil {
		log.Printf("sensord: calibration load error: %v", err)
	} else if r.Valid {
		engine.SetResult(r)
		log.Printf("sensord: restored calibration from %s (scale=%.3f, calibrated %s)",
			cfg.CalibStorePath, r.AccelScale, r.Timestamp.Format(time.RFC3339))
	}

	cmdCh := make(chan transport.Command, 8)
	if err := transport.SubscribeCommands(client, cfg.TopicCalibCommand, cmdCh); err != nil {
		return fmt.Errorf("command subscribe error: %w", err)
	}
	log.Printf("sensord: subscribed to %s", cfg.TopicCalibCommand)

	start := time.Now()
	resultSaved := true // nothing new to save until a run completes
	var lastStatus time.Time

	ticker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	for t := range ticker.C {
		// Drain pending commands before touching the sensor.
	drain:
		for {
			select {
			case cmd := <-cmdCh:
				switch cmd {
				case transport.CmdStartQuick:
					if err := engine.Start(calibration.ModeQuick); err != nil {
						log.Printf("sensord: start quick: %v", err)
					} else {
						resultSaved = false
					}
				case transport.CmdStartFull:
					if err := engine.Start(calibration.ModeFull); err != nil {
						log.Printf("sensord: start full: %v", err)
					} else {
						resultSaved = false
					}
				case transport.CmdAbort:
					engine.Abort()
				}
			default:
				break drain
			}
		}

		sample, err := src.Read()
		if err != nil {
			log.Printf("sensord: sample read error: %v", err)
			continue
		}

		if engine.InProgress() {
			engine.Process(sample)
			switch {
			case engine.State() == calibration.StateComplete && !resultSaved:
				if err := st.Save(engine.Result()); err != nil {
					log.Printf("sensord: calibration save error: %v", err)
				}
				resultSaved = true
				disp.ShowStatus(notifier.Connected(), false)
			case engine.State() == calibration.StateFailed && !engine.InProgress():
				if err := engine.LastError(); err != nil {
					log.Printf("sensord: calibration failed: %v", err)
				}
				resultSaved = true
			}
			continue
		}

		corrected := engine.Correct(sample.Accel, sample.Gyro)
		ts := uint32(t.Sub(start).Milliseconds())
		notifier.NotifyAccel(corrected.Accel, ts)
		notifier.NotifyGyro(corrected.Gyro, ts)

		// Idle screen refresh once per second; connection state is read
		// from the transport and passed in explicitly.
		if t.Sub(lastStatus) >= time.Second {
			disp.ShowStatus(notifier.Connected(), true)
			lastStatus = t
		}
	}
	return nil
}

func engineParams(cfg *config.Config) calibration.Params {
	return calibration.Params{
		QuickSamples:       cfg.CalibQuickSamples,
		FullSamples:        cfg.CalibFullSamples,
		Gravity:            cfg.CalibGravity,
		MovementTolerance:  cfg.CalibMovementTolerance,
		StillnessThreshold: cfg.CalibStillnessThreshold,
		RotationThreshold:  cfg.CalibRotationThreshold,
		StableDuration:     cfg.StableDuration(),
		RotationTimeout:    cfg.RotationTimeout(),
		TempDriftLimit:     cfg.CalibTempDriftLimit,
		GyroDeadband:       cfg.CalibGyroDeadband,
		MinScaleFactor:     cfg.CalibMinScale,
		MaxScaleFactor:     cfg.CalibMaxScale,
		ProgressEvery:      cfg.CalibProgressEvery,
	}
}
