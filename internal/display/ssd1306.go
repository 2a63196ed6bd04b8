// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"fmt"
	"image"
	"log"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

// SSD1306 drives the wearable's 128x64 OLED panel over I2C. Draw errors are
// logged and swallowed: the display is a sink, never a failure source for
// the sensor loop.
type SSD1306 struct {
	dev *ssd1306.Dev
}

// NewSSD1306 opens the panel at the given I2C address and shows the splash
// screen.
func NewSSD1306(addr uint16) (*SSD1306, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: periph host init: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("display: failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("display: failed to initialize panel: %w", err)
	}
	log.Printf("display: panel initialized at 0x%02X", addr)

	d := &SSD1306{dev: dev}
	d.draw("Motion Tracker", "starting...", "")
	return d, nil
}

// ShowProgress renders the calibration progress screen.
func (d *SSD1306) ShowProgress(percent int) {
	d.draw("Calibrating...", fmt.Sprintf("Progress: %d%%", percent), "")
}

// ShowInstruction renders a calibration instruction for the user.
func (d *SSD1306) ShowInstruction(text string) {
	d.draw("Calibrating...", text, "")
}

// ShowStatus renders the idle screen with link and recording state.
func (d *SSD1306) ShowStatus(connected, recording bool) {
	link := "Link: waiting"
	if connected {
		link = "Link: connected"
	}
	rec := "Idle"
	if recording {
		rec = "Streaming"
	}
	d.draw("Motion Tracker", link, rec)
}

// draw renders up to three lines of text on a blank frame.
func (d *SSD1306) draw(line1, line2, line3 string) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(line1))
	if line2 != "" {
		drawer.Dot = fixed.P(0, 33)
		drawer.DrawBytes([]byte(line2))
	}
	if line3 != "" {
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(line3))
	}

	if err := d.dev.Draw(d.dev.Bounds(), img, image.Point{}); err != nil {
		log.Printf("display: draw error: %v", err)
	}
}
