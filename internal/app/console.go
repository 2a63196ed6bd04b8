package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/motion_tracker/internal/calibration"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/orientation"
	"github.com/relabs-tech/motion_tracker/internal/transport"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// RunConsole subscribes to the sensor topics and prints every decoded frame.
// Accel frames additionally get a tilt estimate line so a calibrated device
// lying flat is immediately recognizable (roll/pitch near zero).
func RunConsole() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Stdout is shared between the paho callback goroutines.
	var printMu sync.Mutex

	// Subscribe to accelerometer frames
	accelToken := client.Subscribe(cfg.TopicAccel, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r transport.SensorRecord
		if err := r.UnmarshalBinary(msg.Payload()); err != nil {
			log.Printf("console: accel decode error: %v", err)
			return
		}
		pose := orientation.FromAccel(vec.Vector3{X: float64(r.X), Y: float64(r.Y), Z: float64(r.Z)})

		printMu.Lock()
		fmt.Printf(
			"[ACCEL] t=%8dms  x=%7.3f  y=%7.3f  z=%7.3f\n",
			r.Timestamp, r.X, r.Y, r.Z,
		)
		fmt.Printf(
			"[POSE ]            ROLL=%6.2f  PITCH=%6.2f\n",
			pose.Roll, pose.Pitch,
		)
		printMu.Unlock()
	})
	accelToken.Wait()
	if accelToken.Error() != nil {
		return accelToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicAccel)

	// Subscribe to gyroscope frames
	gyroToken := client.Subscribe(cfg.TopicGyro, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r transport.SensorRecord
		if err := r.UnmarshalBinary(msg.Payload()); err != nil {
			log.Printf("console: gyro decode error: %v", err)
			return
		}

		printMu.Lock()
		fmt.Printf(
			"[GYRO ] t=%8dms  x=%7.3f  y=%7.3f  z=%7.3f\n",
			r.Timestamp, r.X, r.Y, r.Z,
		)
		printMu.Unlock()
	})
	gyroToken.Wait()
	if gyroToken.Error() != nil {
		return gyroToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicGyro)

	// Subscribe to calibration progress
	progressToken := client.Subscribe(cfg.TopicCalibProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r transport.ProgressRecord
		if err := r.UnmarshalBinary(msg.Payload()); err != nil {
			log.Printf("console: progress decode error: %v", err)
			return
		}

		printMu.Lock()
		fmt.Printf(
			"[CALIB] state=%-16s progress=%3d%%  pos=%d  temp=%5.1f°C\n",
			calibration.State(r.State), r.Progress, r.PositionIndex, r.Temperature,
		)
		printMu.Unlock()
	})
	progressToken.Wait()
	if progressToken.Error() != nil {
		return progressToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCalibProgress)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
