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

// Package detection lists the serial ports a card programmer may be attached
// to, using the USB details the operating system reports for each port.
package detection

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// knownBridges maps VID:PID pairs of boards and USB serial bridges the
// programmer firmware is known to run behind.
var knownBridges = map[string]string{
	"2341:0043": "Arduino Uno",
	"2341:0001": "Arduino Uno",
	"2341:0042": "Arduino Mega 2560",
	"2341:8036": "Arduino Leonardo",
	"2A03:0043": "Arduino Uno (arduino.org)",
	"1A86:7523": "CH340 serial bridge",
	"0403:6001": "FTDI FT232R",
	"10C4:EA60": "CP210x serial bridge",
}

// Port describes one serial port
type Port struct {
	Name         string `json:"name"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
	// Board names the known board or bridge behind the port, if any.
	Board string `json:"board,omitempty"`
	IsUSB bool   `json:"isUsb"`
}

// VIDPID returns the USB ids as "VID:PID", or "" for non USB ports.
func (p Port) VIDPID() string {
	if !p.IsUSB || p.VID == "" || p.PID == "" {
		return ""
	}
	return strings.ToUpper(p.VID + ":" + p.PID)
}

// Likely reports whether the port belongs to a known programmer board.
func (p Port) Likely() bool {
	return p.Board != ""
}

func (p Port) String() string {
	switch {
	case p.Board != "":
		return fmt.Sprintf("%s (%s, %s)", p.Name, p.Board, p.VIDPID())
	case p.IsUSB:
		return fmt.Sprintf("%s (%s)", p.Name, p.VIDPID())
	default:
		return p.Name
	}
}

// Options controls port listing
type Options struct {
	// IgnorePaths lists port names to skip.
	IgnorePaths []string
	// Blocklist lists VID:PID pairs to skip.
	Blocklist []string
	// OnlyLikely drops ports that are not known programmer boards.
	OnlyLikely bool
}

// DefaultOptions returns options with the default blocklist
func DefaultOptions() Options {
	return Options{Blocklist: DefaultBlocklist()}
}

// listDetailed is replaced in tests.
var listDetailed = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports allowed by opts. Known boards sort first.
func ListPorts(opts Options) ([]Port, error) {
	details, err := listDetailed()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]Port, 0, len(details))
	for _, d := range details {
		if d == nil || IsPathIgnored(d.Name, opts.IgnorePaths) {
			continue
		}
		port := Port{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if IsBlocked(port.VIDPID(), opts.Blocklist) {
			continue
		}
		port.Board = knownBridges[port.VIDPID()]
		if opts.OnlyLikely && !port.Likely() {
			continue
		}
		ports = append(ports, port)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Likely() != ports[j].Likely() {
			return ports[i].Likely()
		}
		return ports[i].Name < ports[j].Name
	})
	return ports, nil
}

// PortNames lists the names of the ports allowed by opts.
func PortNames(opts Options) ([]string, error) {
	ports, err := ListPorts(opts)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names, nil
}

// Lister adapts PortNames to the programmer's port lister signature.
func Lister(opts Options) func() ([]string, error) {
	return func() ([]string, error) {
		return PortNames(opts)
	}
}
