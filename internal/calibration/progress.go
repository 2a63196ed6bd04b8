// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "github.com/relabs-tech/motion_tracker/internal/transport"

// Report translates engine state into a wire progress record. Pure function:
// the engine decides when to send, the notifier decides how.
func Report(state State, percent uint8, tempC float64, position uint8) transport.ProgressRecord {
	if percent > 100 {
		percent = 100
	}
	return transport.ProgressRecord{
		State:         uint8(state),
		Progress:      percent,
		Temperature:   float32(tempC),
		PositionIndex: position,
	}
}

// ProgressNotifier delivers progress records to the companion app. The
// engine never learns whether delivery succeeded; an unreachable app must
// not disturb a calibration run.
type ProgressNotifier interface {
	NotifyProgress(rec transport.ProgressRecord)
}
