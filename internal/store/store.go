// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists the calibration result as a fixed-size binary
// record in non-volatile storage. The record is written and read as a
// single unit; there is no versioning beyond the valid flag.
package store

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/relabs-tech/motion_tracker/internal/calibration"
	"github.com/relabs-tech/motion_tracker/internal/vec"
)

// RecordSize is the exact serialized size of a calibration record:
// valid u8, accel bias 3×f32, gyro bias 3×f32, scale f32, reference
// temperature f32, unix timestamp i64. Little-endian throughout.
const RecordSize = 1 + 12 + 12 + 4 + 4 + 8

// Store reads and writes the calibration record at a fixed path.
type Store struct {
	path string
}

// New returns a store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save writes the result as one fixed-size record.
func (s *Store) Save(r calibration.Result) error {
	buf := make([]byte, RecordSize)
	if r.Valid {
		buf[0] = 1
	}
	putVec(buf[1:13], r.AccelBias)
	putVec(buf[13:25], r.GyroBias)
	binary.LittleEndian.PutUint32(buf[25:29], math.Float32bits(float32(r.AccelScale)))
	binary.LittleEndian.PutUint32(buf[29:33], math.Float32bits(float32(r.ReferenceTemp)))
	binary.LittleEndian.PutUint64(buf[33:41], uint64(r.Timestamp.Unix()))

	if err := os.WriteFile(s.path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write calibration record: %w", err)
	}
	log.Printf("store: saved calibration record to %s", s.path)
	return nil
}

// Load reads the calibration record. Absent, truncated, oversized or
// flag-invalid data yields a zero result with Valid=false and no error:
// corruption degrades to "not calibrated", never to a crash.
func (s *Store) Load() (calibration.Result, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return calibration.Result{AccelScale: 1.0}, nil
		}
		return calibration.Result{AccelScale: 1.0}, fmt.Errorf("failed to read calibration record: %w", err)
	}

	if len(data) != RecordSize || data[0] != 1 {
		log.Printf("store: calibration record at %s invalid or corrupt, ignoring", s.path)
		return calibration.Result{AccelScale: 1.0}, nil
	}

	r := calibration.Result{
		Valid:         true,
		AccelBias:     getVec(data[1:13]),
		GyroBias:      getVec(data[13:25]),
		AccelScale:    float64(math.Float32frombits(binary.LittleEndian.Uint32(data[25:29]))),
		ReferenceTemp: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[29:33]))),
		Timestamp:     time.Unix(int64(binary.LittleEndian.Uint64(data[33:41])), 0),
	}
	return r, nil
}

func putVec(buf []byte, v vec.Vector3) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(v.Z)))
}

func getVec(buf []byte) vec.Vector3 {
	return vec.Vector3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))),
	}
}
