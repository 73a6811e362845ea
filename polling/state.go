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

package polling

import "time"

// CardDetectionState is the session's view of the card on the reader
type CardDetectionState int

const (
	StateIdle CardDetectionState = iota
	StateCardDetected
	StateReading
	StateWriting
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCardDetected:
		return "detected"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// CardState tracks the card currently on the reader
type CardState struct {
	DetectedAt     time.Time
	LastID         string
	DetectionState CardDetectionState
	Present        bool
}

// TransitionToDetected records a newly placed card.
func (cs *CardState) TransitionToDetected(id string) {
	cs.DetectionState = StateCardDetected
	cs.Present = true
	cs.LastID = id
	cs.DetectedAt = time.Now()
}

// TransitionToReading marks an automatic read as running.
func (cs *CardState) TransitionToReading() {
	cs.DetectionState = StateReading
}

// TransitionToWriting marks a pending write as running.
func (cs *CardState) TransitionToWriting() {
	cs.DetectionState = StateWriting
}

// TransitionToDone returns to the detected state after a read or write.
func (cs *CardState) TransitionToDone() {
	if cs.Present {
		cs.DetectionState = StateCardDetected
	}
}

// TransitionToIdle resets to idle state
func (cs *CardState) TransitionToIdle() {
	cs.DetectionState = StateIdle
	cs.Present = false
	cs.LastID = ""
	cs.DetectedAt = time.Time{}
}
