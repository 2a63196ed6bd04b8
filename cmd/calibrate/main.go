// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibrate/main.go
//
// Guided terminal calibration for the wearable. Sends a START command to the
// device over MQTT, then follows the progress topic and tells the user what
// to do at each phase:
//  1. Leave the device flat and still (flat position samples)
//  2. Rotate it 90° onto its side when asked
//  3. Hold still again (side position samples)
//
// Run:
//
//	go run ./cmd/calibrate            # quick calibration
//	go run ./cmd/calibrate -full      # full calibration (more samples)
//	go run ./cmd/calibrate -abort     # abort a run in progress and exit
//
// The heavy lifting happens on the device; this tool only relays commands
// and renders progress.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/motion_tracker/internal/calibration"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/transport"
)

func main() {
	configPath := flag.String("config", "./motion_config.txt", "path to configuration file")
	full := flag.Bool("full", false, "run full calibration (more samples, slower)")
	abort := flag.Bool("abort", false, "abort a calibration in progress and exit")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDCalibrate)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
	}
	defer client.Disconnect(250)

	if *abort {
		sendCommand(client, cfg.TopicCalibCommand, transport.CmdAbort)
		fmt.Println("Abort sent.")
		return
	}

	// Progress records drive the guided output; decode on the callback
	// goroutine, render on the main one.
	updates := make(chan transport.ProgressRecord, 16)
	token := client.Subscribe(cfg.TopicCalibProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r transport.ProgressRecord
		if err := r.UnmarshalBinary(msg.Payload()); err != nil {
			log.Printf("calibrate: progress decode error: %v", err)
			return
		}
		select {
		case updates <- r:
		default:
		}
	})
	token.Wait()
	if token.Error() != nil {
		log.Fatalf("subscribe error: %v", token.Error())
	}

	cmd := transport.CmdStartQuick
	if *full {
		cmd = transport.CmdStartFull
	}

	fmt.Println("=== Motion Tracker Calibration ===")
	fmt.Println("Place the device FLAT on a level surface and keep it still.")
	fmt.Println()
	sendCommand(client, cfg.TopicCalibCommand, cmd)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// If the device never answers, tell the user rather than hang silently.
	firstUpdate := time.After(10 * time.Second)

	lastState := calibration.StateIdle
	seen := false
	for {
		select {
		case r := <-updates:
			if !seen {
				seen = true
				firstUpdate = nil
			}
			state := calibration.State(r.State)
			if state != lastState {
				printPhase(state)
				lastState = state
			}
			fmt.Printf("\r  progress: %3d%%  (temp %.1f°C)", r.Progress, r.Temperature)
			if state.Terminal() {
				fmt.Println()
				if state == calibration.StateComplete {
					fmt.Println("Calibration complete. The device will use the new coefficients immediately.")
					return
				}
				fmt.Println("Calibration FAILED. Keep the device still during sampling and try again.")
				os.Exit(1)
			}

		case <-firstUpdate:
			fmt.Println("No response from the device. Is the sensor daemon running and connected?")
			os.Exit(1)

		case <-sigCh:
			fmt.Println()
			fmt.Println("Interrupted, sending abort.")
			sendCommand(client, cfg.TopicCalibCommand, transport.CmdAbort)
			return
		}
	}
}

func sendCommand(client mqtt.Client, topic string, cmd transport.Command) {
	token := client.Publish(topic, 1, false, []byte{byte(cmd)})
	token.Wait()
	if token.Error() != nil {
		log.Fatalf("command publish error: %v", token.Error())
	}
	log.Printf("calibrate: sent %s", cmd)
}

// printPhase renders the instruction for a newly entered state.
func printPhase(state calibration.State) {
	fmt.Println()
	switch state {
	case calibration.StateStaticFlat:
		fmt.Println("[1/3] Sampling flat position. Do not touch the device.")
	case calibration.StateWaitingRotation:
		fmt.Println("[2/3] Now rotate the device 90° onto its side.")
	case calibration.StateStabilizing:
		fmt.Println("      Rotation detected. Hold still...")
	case calibration.StateStaticSide:
		fmt.Println("[3/3] Sampling side position. Do not touch the device.")
	case calibration.StateComplete, calibration.StateFailed:
		// Terminal states are reported by the caller.
	default:
		fmt.Printf("      state: %s\n", state)
	}
}
