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

// Package frame provides line framing and wire constants for the card
// programmer's serial protocol.
package frame

// Line terminator bytes. The firmware uses CRLF because a bare LF can occur
// inside binary block payloads.
const (
	CR = '\r'
	LF = '\n'
)

// Terminator is the two byte sequence ending every line in both directions.
var Terminator = []byte{CR, LF}

// Buffer sizes
const (
	// DefaultBufferSize is the line buffer used by transports unless configured.
	DefaultBufferSize = 512
	// MinBufferSize is the smallest buffer that still fits a terminator.
	MinBufferSize = 2
)

// MaxCommandLength is the longest command line the firmware accepts, excluding
// the terminator: opcode + sector + block + 16 data bytes.
const MaxCommandLength = 1 + 16 + 2
