// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport defines the fixed-size binary records exchanged with the
// companion app, and the MQTT plumbing that carries them. All records are
// packed little-endian; sizes are part of the wire contract and must not
// change without a matching companion update.
package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// Command is a single-byte calibration command from the companion app.
type Command byte

const (
	CmdStartQuick Command = 1
	CmdAbort      Command = 2
	CmdStartFull  Command = 3
)

// ParseCommand decodes a command payload. Payloads must be exactly one byte;
// unknown command values are an error so callers can log and ignore them.
func ParseCommand(payload []byte) (Command, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("command payload must be 1 byte, got %d", len(payload))
	}
	cmd := Command(payload[0])
	switch cmd {
	case CmdStartQuick, CmdAbort, CmdStartFull:
		return cmd, nil
	default:
		return 0, fmt.Errorf("unknown command byte 0x%02X", payload[0])
	}
}

func (c Command) String() string {
	switch c {
	case CmdStartQuick:
		return "START_QUICK"
	case CmdAbort:
		return "ABORT"
	case CmdStartFull:
		return "START_FULL"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(c))
	}
}

// ProgressRecordSize is the packed size of ProgressRecord.
const ProgressRecordSize = 8

// ProgressRecord is the calibration progress notification:
// {state u8, progress u8, temperature f32, positionIndex u8, reserved u8}.
type ProgressRecord struct {
	State         uint8
	Progress      uint8 // 0..100
	Temperature   float32
	PositionIndex uint8 // 0 = flat position, 1 = side position
	Reserved      uint8
}

// MarshalBinary packs the record little-endian into ProgressRecordSize bytes.
func (r ProgressRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ProgressRecordSize)
	buf[0] = r.State
	buf[1] = r.Progress
	binary.LittleEndian.PutUint32(buf[2:6], math.Float32bits(r.Temperature))
	buf[6] = r.PositionIndex
	buf[7] = r.Reserved
	return buf, nil
}

// UnmarshalBinary decodes a packed progress record.
func (r *ProgressRecord) UnmarshalBinary(data []byte) error {
	if len(data) != ProgressRecordSize {
		return fmt.Errorf("progress record must be %d bytes, got %d", ProgressRecordSize, len(data))
	}
	r.State = data[0]
	r.Progress = data[1]
	r.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(data[2:6]))
	r.PositionIndex = data[6]
	r.Reserved = data[7]
	return nil
}

// SensorRecordSize is the packed size of SensorRecord.
const SensorRecordSize = 16

// SensorRecord is one calibrated sensor frame, sent once per accel channel
// and once per gyro channel per update tick:
// {x f32, y f32, z f32, timestamp u32}. Timestamp is milliseconds since the
// sensor loop started.
type SensorRecord struct {
	X, Y, Z   float32
	Timestamp uint32
}

// NewSensorRecord builds a frame from a vector and a millisecond timestamp.
func NewSensorRecord(v vec.Vector3, timestampMS uint32) SensorRecord {
	return SensorRecord{
		X:         float32(v.X),
		Y:         float32(v.Y),
		Z:         float32(v.Z),
		Timestamp: timestampMS,
	}
}

// MarshalBinary packs the record little-endian into SensorRecordSize bytes.
func (r SensorRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SensorRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(r.X))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(r.Y))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.Z))
	binary.LittleEndian.PutUint32(buf[12:16], r.Timestamp)
	return buf, nil
}

// UnmarshalBinary decodes a packed sensor record.
func (r *SensorRecord) UnmarshalBinary(data []byte) error {
	if len(data) != SensorRecordSize {
		return fmt.Errorf("sensor record must be %d bytes, got %d", SensorRecordSize, len(data))
	}
	r.X = math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	r.Y = math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	r.Z = math.Float32frombits(binary.LittleEndian.Uint32(data[8:12]))
	r.Timestamp = binary.LittleEndian.Uint32(data[12:16])
	return nil
}
