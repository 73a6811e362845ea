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

package testing

// Inbound line tags of the programmer firmware.
const (
	TagComment        = '#'
	TagInitComplete   = 'I'
	TagCardChange     = 'C'
	TagPartialResult  = 'P'
	TagErrorCheck     = 'E'
	TagAuthFailed     = 'x'
	TagInvalidCommand = 'X'
	TagAck            = 'A'
	TagNack           = 'N'
)

// Command opcodes understood by the firmware.
const (
	CmdRead           = 'R'
	CmdWrite          = 'W'
	CmdSetTrailers    = 'T'
	CmdChangeTrailers = 't'
	CmdCheckTrailers  = 'C'
	CmdToggleByteMode = 'b'
	CmdAck            = 'A'
	CmdNack           = 'N'
)

// BuildLine prefixes payload with a tag byte
func BuildLine(tag byte, payload ...byte) []byte {
	line := make([]byte, 0, len(payload)+1)
	line = append(line, tag)
	return append(line, payload...)
}

// BuildCardChangeLine reports a card; a nil uid reports removal
func BuildCardChangeLine(uid []byte) []byte {
	return BuildLine(TagCardChange, uid...)
}

// BuildEchoLine creates the error check echo of a command line
func BuildEchoLine(cmd []byte) []byte {
	return BuildLine(TagErrorCheck, cmd...)
}

// BuildPartialResultLine creates one chunk of read data
func BuildPartialResultLine(data []byte) []byte {
	return BuildLine(TagPartialResult, data...)
}

// Common values for testing
var (
	// TestCardUID is a sample MIFARE Classic 1K UID
	TestCardUID = []byte{0x12, 0x34, 0x56, 0x78}

	// TestBanner is the comment the firmware prints on boot
	TestBanner = []byte("#RfidWriter ready")
)
