// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/motion_tracker/internal/calibration"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/orientation"
	"github.com/relabs-tech/motion_tracker/internal/transport"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// progressStatus is the JSON form of a progress record served to browsers.
type progressStatus struct {
	State       string  `json:"state"`
	Progress    uint8   `json:"progress"`
	Temperature float32 `json:"temperature"`
	Position    uint8   `json:"position"`
}

// wsCommand is what the calibration page sends over the socket.
type wsCommand struct {
	Action string `json:"action"` // start, start_full, abort
}

// calibrationHub fans progress updates out to every connected browser and
// turns page actions into command bytes on the MQTT command topic.
type calibrationHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	client       mqtt.Client
	commandTopic string

	last     progressStatus
	haveLast bool
}

func newCalibrationHub(client mqtt.Client, commandTopic string) *calibrationHub {
	return &calibrationHub{
		clients:      make(map[*websocket.Conn]struct{}),
		client:       client,
		commandTopic: commandTopic,
	}
}

// handleProgress is the MQTT callback: decode, remember, broadcast.
func (h *calibrationHub) handleProgress(_ mqtt.Client, msg mqtt.Message) {
	var r transport.ProgressRecord
	if err := r.UnmarshalBinary(msg.Payload()); err != nil {
		log.Printf("web: progress decode error: %v", err)
		return
	}

	status := progressStatus{
		State:       calibration.State(r.State).String(),
		Progress:    r.Progress,
		Temperature: r.Temperature,
		Position:    r.PositionIndex,
	}

	h.mu.Lock()
	h.last = status
	h.haveLast = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(status); err != nil {
			log.Printf("web: websocket write error: %v", err)
		}
	}
}

// handleWS runs one browser connection: register for broadcasts, then read
// actions until the socket closes.
func (h *calibrationHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	h.mu.RLock()
	last, haveLast := h.last, h.haveLast
	h.mu.RUnlock()

	// New page loads see the current state immediately. Register for
	// broadcasts only after this write: the broadcast path is the sole
	// other writer on the connection.
	if haveLast {
		if err := conn.WriteJSON(last); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	for {
		var msg wsCommand
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}

		var cmd transport.Command
		switch msg.Action {
		case "start":
			cmd = transport.CmdStartQuick
		case "start_full":
			cmd = transport.CmdStartFull
		case "abort":
			cmd = transport.CmdAbort
		default:
			log.Printf("web: ignoring unknown action %q", msg.Action)
			continue
		}

		log.Printf("web: sending %s command", cmd)
		h.client.Publish(h.commandTopic, 0, false, []byte{byte(cmd)})
	}
}

// RunWeb serves the calibration page: live progress over a websocket, the
// last known status as JSON, and start/abort controls relayed to the device
// over MQTT.
func RunWeb() error {
	cfg := config.Get()

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	hub := newCalibrationHub(client, cfg.TopicCalibCommand)

	// 2) Subscribe to progress and fan out to connected browsers
	token := client.Subscribe(cfg.TopicCalibProgress, 0, hub.handleProgress)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicCalibProgress)

	// 3) Subscribe to corrected accel frames and keep a tilt estimate
	var (
		poseMu   sync.RWMutex
		lastPose orientation.Pose
		havePose bool
	)
	accelToken := client.Subscribe(cfg.TopicAccel, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r transport.SensorRecord
		if err := r.UnmarshalBinary(msg.Payload()); err != nil {
			log.Printf("web: accel decode error: %v", err)
			return
		}
		p := orientation.FromAccel(vec.Vector3{X: float64(r.X), Y: float64(r.Y), Z: float64(r.Z)})
		poseMu.Lock()
		lastPose = p
		havePose = true
		poseMu.Unlock()
	})
	accelToken.Wait()
	if accelToken.Error() != nil {
		return accelToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicAccel)

	// 4) JSON API endpoint: latest tilt estimate
	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		poseMu.RLock()
		defer poseMu.RUnlock()

		if !havePose {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastPose); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 5) JSON API endpoint: latest calibration status
	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		hub.mu.RLock()
		last, haveLast := hub.last, hub.haveLast
		hub.mu.RUnlock()

		if !haveLast {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(last); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 6) WebSocket endpoint for the calibration page
	http.HandleFunc("/ws", hub.handleWS)

	// 7) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
