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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestDefaultPortConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultPortConfig("/dev/ttyACM0")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/dev/ttyACM0 38400 8N1", cfg.String())

	mode := cfg.Mode()
	assert.Equal(t, 38400, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
}

func TestPortConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate func(*PortConfig)
		name   string
	}{
		{name: "empty port", mutate: func(c *PortConfig) { c.Port = "" }},
		{name: "baud", mutate: func(c *PortConfig) { c.BaudRate = 1234 }},
		{name: "data bits", mutate: func(c *PortConfig) { c.DataBits = 9 }},
		{name: "parity", mutate: func(c *PortConfig) { c.Parity = serial.Parity(42) }},
		{name: "stop bits", mutate: func(c *PortConfig) { c.StopBits = serial.StopBits(42) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultPortConfig("COM3")
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestPortConfig_StringUnknownValues(t *testing.T) {
	t.Parallel()

	cfg := DefaultPortConfig("COM1")
	cfg.Parity = serial.Parity(42)
	cfg.StopBits = serial.StopBits(42)
	assert.Equal(t, "COM1 38400 8??", cfg.String())
}

func TestParseParity(t *testing.T) {
	t.Parallel()

	p, err := ParseParity("EVEN")
	require.NoError(t, err)
	assert.Equal(t, serial.EvenParity, p)

	_, err = ParseParity("sometimes")
	require.Error(t, err)
}

func TestParseStopBits(t *testing.T) {
	t.Parallel()

	s, err := ParseStopBits("1.5")
	require.NoError(t, err)
	assert.Equal(t, serial.OnePointFiveStopBits, s)

	_, err = ParseStopBits("3")
	require.Error(t, err)
}

func TestAvailableSettings(t *testing.T) {
	t.Parallel()

	assert.Contains(t, AvailableBaudRates(), 38400)
	assert.Contains(t, AvailableBaudRates(), 115200)
	assert.Equal(t, []int{5, 6, 7, 8}, AvailableDataBits())
	assert.Len(t, AvailableParities(), 5)
	assert.Len(t, AvailableStopBits(), 3)
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	ports := []string{"COM7"}
	p, err := New(
		WithPortLister(func() ([]string, error) { return ports, nil }),
		WithLineBufferSize(64),
	)
	require.NoError(t, err)

	got, err := p.AvailablePorts()
	require.NoError(t, err)
	assert.Equal(t, ports, got)
	assert.Equal(t, 64, p.config.LineBufferSize)

	_, err = New(WithPortLister(nil))
	require.Error(t, err)
}
