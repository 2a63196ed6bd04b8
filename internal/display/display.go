// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display defines the on-device display collaborator. The engine
// and the sensor loop call it fire-and-forget; a failing or absent panel
// never blocks sampling.
package display

// Display is the textual contract the calibration engine and sensor loop
// drive. Implementations: the SSD1306 panel and Noop for headless runs.
type Display interface {
	// ShowProgress renders the calibration screen with a 0-100 percentage.
	ShowProgress(percent int)
	// ShowInstruction renders the calibration screen with a user instruction.
	ShowInstruction(text string)
	// ShowStatus renders the idle screen: link state and recording state.
	ShowStatus(connected, recording bool)
}

// Noop discards all display calls.
type Noop struct{}

func (Noop) ShowProgress(int)       {}
func (Noop) ShowInstruction(string) {}
func (Noop) ShowStatus(bool, bool)  {}
