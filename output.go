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
	"strings"
	"sync"
)

// OutputKind tells where an output line came from
type OutputKind int

const (
	// OutputDevice is a line received from the programmer.
	OutputDevice OutputKind = iota
	// OutputService is a diagnostic message of the engine itself.
	OutputService
	// OutputInput is a line sent to the programmer.
	OutputInput
)

func (k OutputKind) String() string {
	switch k {
	case OutputDevice:
		return "device"
	case OutputService:
		return "service"
	case OutputInput:
		return "input"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k OutputKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// OutputEvent is one published output line
type OutputEvent struct {
	Text      string     `json:"text"`
	Kind      OutputKind `json:"kind"`
	UserInput bool       `json:"userInput,omitempty"`
}

// Service messages written to the output stream.
const (
	msgSessionSeparator = "\n==============="
	msgInvalidMessage   = "^--- ERROR: This is an invalid message!"
	msgCommandMatches   = "^--- Command matches"
	msgCommandDiffers   = "^--- Command differs"
	msgAccessBitsDiffer = "^--- ERROR: Access bits differ!"
	msgEchoDiffers      = "^--- ERROR: Command echo differs, sent N"
)

// outputLog stores device output. Service messages and sent lines are only
// published, never stored.
type outputLog struct {
	buf strings.Builder
	mu  sync.Mutex
}

func (o *outputLog) append(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.WriteString(text)
	o.buf.WriteByte('\n')
}

func (o *outputLog) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

// sanitize renders wire bytes as text, replacing control and non ASCII bytes
// with '?'. Newlines are kept when keepNewline is set.
func sanitize(line []byte, keepNewline bool) string {
	out := make([]byte, len(line))
	for i, b := range line {
		switch {
		case b == '\n' && keepNewline:
			out[i] = b
		case b < 0x20 || b >= 0x7F:
			out[i] = '?'
		default:
			out[i] = b
		}
	}
	return string(out)
}
