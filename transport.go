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

// Transport is a line oriented connection to the programmer.
// The UART implementation lives in transport/uart.
type Transport interface {
	// TryReadLine returns the next complete line without its terminator.
	// It never blocks; ok is false when no line is available yet.
	TryReadLine() (line []byte, ok bool, err error)

	// WriteBytes writes raw bytes to the device
	WriteBytes(b []byte) error

	// WriteLineTerminator ends the current command line
	WriteLineTerminator() error

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Port returns the name of the underlying port
	Port() string
}

// TransportFactory opens a transport for a port configuration
type TransportFactory func(cfg PortConfig) (Transport, error)

// PortLister returns the names of the serial ports present on the system
type PortLister func() ([]string, error)
