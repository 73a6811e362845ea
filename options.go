// go-rfidprog
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-rfidprog.
//
// go-rfidprog is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-rfidprog is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-rfidprog; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package rfidprog

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-rfidprog/internal/frame"
	"go.bug.st/serial"
)

// Config holds the programmer configuration
type Config struct {
	TransportFactory TransportFactory
	PortLister       PortLister
	// PollInterval is the pause between polls of an idle port.
	PollInterval time.Duration
	// LineBufferSize bounds a single inbound line.
	LineBufferSize int
}

// DefaultConfig returns the default programmer configuration
func DefaultConfig() *Config {
	return &Config{
		PortLister:     serial.GetPortsList,
		PollInterval:   250 * time.Millisecond,
		LineBufferSize: frame.DefaultBufferSize,
	}
}

// Option is a functional option for configuring a Programmer
type Option func(*Programmer) error

// WithTransportFactory sets how ports are opened
func WithTransportFactory(factory TransportFactory) Option {
	return func(p *Programmer) error {
		if factory == nil {
			return ErrNoTransportFactory
		}
		p.config.TransportFactory = factory
		return nil
	}
}

// WithPortLister replaces the serial port enumeration
func WithPortLister(lister PortLister) Option {
	return func(p *Programmer) error {
		if lister == nil {
			return fmt.Errorf("port lister must not be nil")
		}
		p.config.PortLister = lister
		return nil
	}
}

// WithPollInterval sets the pause between polls of an idle port
func WithPollInterval(interval time.Duration) Option {
	return func(p *Programmer) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", interval)
		}
		p.config.PollInterval = interval
		return nil
	}
}

// WithLineBufferSize sets the inbound line buffer size passed to transports
func WithLineBufferSize(size int) Option {
	return func(p *Programmer) error {
		if size < frame.MinBufferSize {
			return fmt.Errorf("line buffer size must be at least %d, got %d", frame.MinBufferSize, size)
		}
		p.config.LineBufferSize = size
		return nil
	}
}

// WithObserver subscribes an observer for the lifetime of the programmer
func WithObserver(o Observer) Option {
	return func(p *Programmer) error {
		p.observers.add(o)
		return nil
	}
}

// PortConfig describes the serial line settings of a connection
type PortConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	// LineBufferSize is filled in from Config when zero.
	LineBufferSize int
}

// DefaultPortConfig returns 38400 baud 8N1 settings for port.
func DefaultPortConfig(port string) PortConfig {
	return PortConfig{
		Port:     port,
		BaudRate: 38400,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Mode converts the settings for go.bug.st/serial.
func (c PortConfig) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

// Validate checks the settings against the supported options.
func (c PortConfig) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: empty port name", ErrPortUnavailable)
	case !slices.Contains(AvailableBaudRates(), c.BaudRate):
		return fmt.Errorf("unsupported baud rate %d", c.BaudRate)
	case !slices.Contains(AvailableDataBits(), c.DataBits):
		return fmt.Errorf("unsupported data bits %d", c.DataBits)
	case !slices.Contains(AvailableParities(), c.Parity):
		return fmt.Errorf("unsupported parity %d", c.Parity)
	case !slices.Contains(AvailableStopBits(), c.StopBits):
		return fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}
	return nil
}

func (c PortConfig) String() string {
	parity := "?"
	if name, ok := parityNames[c.Parity]; ok {
		parity = strings.ToUpper(name[:1])
	}
	stop, ok := stopBitsNames[c.StopBits]
	if !ok {
		stop = "?"
	}
	return fmt.Sprintf("%s %d %d%s%s", c.Port, c.BaudRate, c.DataBits, parity, stop)
}

// AvailableBaudRates lists the baud rates offered for a connection.
func AvailableBaudRates() []int {
	return []int{
		300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 28800, 31250,
		38400, 57600, 115200, 230400, 250000, 500000, 1000000,
	}
}

// AvailableDataBits lists the supported data bit counts.
func AvailableDataBits() []int {
	return []int{5, 6, 7, 8}
}

// AvailableParities lists the supported parity modes.
func AvailableParities() []serial.Parity {
	return []serial.Parity{serial.NoParity, serial.EvenParity, serial.OddParity, serial.MarkParity, serial.SpaceParity}
}

// AvailableStopBits lists the supported stop bit settings.
func AvailableStopBits() []serial.StopBits {
	return []serial.StopBits{serial.OneStopBit, serial.OnePointFiveStopBits, serial.TwoStopBits}
}

var parityNames = map[serial.Parity]string{
	serial.NoParity:    "none",
	serial.EvenParity:  "even",
	serial.OddParity:   "odd",
	serial.MarkParity:  "mark",
	serial.SpaceParity: "space",
}

var stopBitsNames = map[serial.StopBits]string{
	serial.OneStopBit:           "1",
	serial.OnePointFiveStopBits: "1.5",
	serial.TwoStopBits:          "2",
}

// ParseParity accepts the parity names none, even, odd, mark and space.
func ParseParity(s string) (serial.Parity, error) {
	for parity, name := range parityNames {
		if strings.EqualFold(s, name) {
			return parity, nil
		}
	}
	return 0, fmt.Errorf("unknown parity %q", s)
}

// ParseStopBits accepts 1, 1.5 and 2.
func ParseStopBits(s string) (serial.StopBits, error) {
	for bits, name := range stopBitsNames {
		if s == name {
			return bits, nil
		}
	}
	return 0, fmt.Errorf("unknown stop bits %q", s)
}
