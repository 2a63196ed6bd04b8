// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// MQTTNotifier publishes packed records over the wireless link. Publishes
// are fire-and-forget at QoS 0: a slow or absent companion app must never
// stall the sensor loop.
type MQTTNotifier struct {
	client        mqtt.Client
	progressTopic string
	accelTopic    string
	gyroTopic     string
}

// NewMQTTNotifier wraps a connected client with the configured topics.
func NewMQTTNotifier(client mqtt.Client, cfg *config.Config) *MQTTNotifier {
	return &MQTTNotifier{
		client:        client,
		progressTopic: cfg.TopicCalibProgress,
		accelTopic:    cfg.TopicAccel,
		gyroTopic:     cfg.TopicGyro,
	}
}

// Connected reports whether the wireless link is currently up.
func (n *MQTTNotifier) Connected() bool {
	return n.client.IsConnected()
}

// NotifyProgress publishes one packed progress record.
func (n *MQTTNotifier) NotifyProgress(rec ProgressRecord) {
	payload, err := rec.MarshalBinary()
	if err != nil {
		log.Printf("transport: progress marshal error: %v", err)
		return
	}
	n.client.Publish(n.progressTopic, 0, false, payload)
}

// NotifyAccel publishes one packed accelerometer frame.
func (n *MQTTNotifier) NotifyAccel(v vec.Vector3, timestampMS uint32) {
	n.publishSensor(n.accelTopic, v, timestampMS)
}

// NotifyGyro publishes one packed gyroscope frame.
func (n *MQTTNotifier) NotifyGyro(v vec.Vector3, timestampMS uint32) {
	n.publishSensor(n.gyroTopic, v, timestampMS)
}

func (n *MQTTNotifier) publishSensor(topic string, v vec.Vector3, timestampMS uint32) {
	payload, err := NewSensorRecord(v, timestampMS).MarshalBinary()
	if err != nil {
		log.Printf("transport: sensor marshal error: %v", err)
		return
	}
	n.client.Publish(topic, 0, false, payload)
}

// SubscribeCommands subscribes to the command topic and forwards decoded
// commands to ch. Unknown or malformed command bytes are logged and
// dropped, never an error to the caller. The callback only enqueues: all
// engine mutation stays on the sensor loop goroutine.
func SubscribeCommands(client mqtt.Client, topic string, ch chan<- Command) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		cmd, err := ParseCommand(msg.Payload())
		if err != nil {
			log.Printf("transport: ignoring command: %v", err)
			return
		}
		select {
		case ch <- cmd:
		default:
			log.Printf("transport: command queue full, dropping %s", cmd)
		}
	})
	token.Wait()
	return token.Error()
}
