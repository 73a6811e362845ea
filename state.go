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

import "fmt"

// State is the protocol state of the programmer connection
type State int

const (
	// StateNotConnected means no port is open.
	StateNotConnected State = iota
	// StateConnecting means the port is open and the init banner is pending.
	StateConnecting
	// StateConnected means the programmer is idle and accepts commands.
	StateConnected
	// StateOperationInProgress means a command awaits its reply.
	StateOperationInProgress
	// StateErrorChecking means the device echoed a command and awaits A or N.
	StateErrorChecking
	// StateOperationSuccess means the last command was acknowledged.
	StateOperationSuccess
	// StateOperationFailed means the last command was rejected.
	StateOperationFailed
	// StateUnknown means the protocol lost track; reconnect to recover.
	StateUnknown
)

var stateNames = [...]string{
	StateNotConnected:        "NotConnected",
	StateConnecting:          "Connecting",
	StateConnected:           "Connected",
	StateOperationInProgress: "OperationInProgress",
	StateErrorChecking:       "ErrorChecking",
	StateOperationSuccess:    "OperationSuccess",
	StateOperationFailed:     "OperationFailed",
	StateUnknown:             "Unknown",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Description returns a short human readable status line for s.
func (s State) Description() string {
	switch s {
	case StateNotConnected:
		return "Not connected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Ready"
	case StateOperationInProgress, StateErrorChecking:
		return "Operation in progress"
	case StateOperationSuccess:
		return "Operation successful"
	case StateOperationFailed:
		return "Operation failed"
	default:
		return "Unknown state, please reconnect"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DeviceEvent is an event reported by the programmer. Wire events use the
// tag byte of the inbound line as their value.
type DeviceEvent int

const (
	DeviceComment        DeviceEvent = '#'
	DeviceInitComplete   DeviceEvent = 'I'
	DeviceCardChange     DeviceEvent = 'C'
	DevicePartialResult  DeviceEvent = 'P'
	DeviceErrorCheck     DeviceEvent = 'E'
	DeviceAuthFailed     DeviceEvent = 'x'
	DeviceInvalidCommand DeviceEvent = 'X'
	DeviceAck            DeviceEvent = 'A'
	DeviceNack           DeviceEvent = 'N'

	// DeviceFailure is raised internally for bytes the protocol cannot place.
	DeviceFailure DeviceEvent = 256
)

// deviceEventForTag maps an inbound tag byte to its event.
func deviceEventForTag(tag byte) (DeviceEvent, bool) {
	switch ev := DeviceEvent(tag); ev {
	case DeviceComment, DeviceInitComplete, DeviceCardChange, DevicePartialResult,
		DeviceErrorCheck, DeviceAuthFailed, DeviceInvalidCommand, DeviceAck, DeviceNack:
		return ev, true
	default:
		return 0, false
	}
}

func (e DeviceEvent) String() string {
	switch e {
	case DeviceComment:
		return "Comment"
	case DeviceInitComplete:
		return "InitComplete"
	case DeviceCardChange:
		return "CardChange"
	case DevicePartialResult:
		return "PartialResult"
	case DeviceErrorCheck:
		return "ErrorCheck"
	case DeviceAuthFailed:
		return "AuthFailed"
	case DeviceInvalidCommand:
		return "InvalidCommand"
	case DeviceAck:
		return "Ack"
	case DeviceNack:
		return "Nack"
	case DeviceFailure:
		return "Failure"
	default:
		return fmt.Sprintf("DeviceEvent(%d)", int(e))
	}
}

// ServiceEvent is an event raised by the host side. Events below 256 are
// sent to the device as the opcode byte of a command line.
type ServiceEvent int

const (
	ServiceReadCard       ServiceEvent = 'R'
	ServiceWriteCard      ServiceEvent = 'W'
	ServiceSetTrailers    ServiceEvent = 'T'
	ServiceChangeTrailers ServiceEvent = 't'
	ServiceCheckTrailers  ServiceEvent = 'C'
	ServiceToggleByteMode ServiceEvent = 'b'
	ServiceAck            ServiceEvent = 'A'
	ServiceNack           ServiceEvent = 'N'
)

// Internal service events, never sent to the device.
const (
	ServiceConnect ServiceEvent = 256 + iota
	ServiceFailure
	ServiceNextOperation
	ServiceDisconnect
	ServiceUserOperation
)

// Opcode returns the wire byte for events that are sent to the device.
func (e ServiceEvent) Opcode() (byte, bool) {
	if e < 0 || e > 0xFF {
		return 0, false
	}
	return byte(e), true
}

func (e ServiceEvent) String() string {
	switch e {
	case ServiceReadCard:
		return "ReadCard"
	case ServiceWriteCard:
		return "WriteCard"
	case ServiceSetTrailers:
		return "SetTrailers"
	case ServiceChangeTrailers:
		return "ChangeTrailers"
	case ServiceCheckTrailers:
		return "CheckTrailers"
	case ServiceToggleByteMode:
		return "ToggleByteMode"
	case ServiceAck:
		return "Ack"
	case ServiceNack:
		return "Nack"
	case ServiceConnect:
		return "Connect"
	case ServiceFailure:
		return "Failure"
	case ServiceNextOperation:
		return "NextOperation"
	case ServiceDisconnect:
		return "Disconnect"
	case ServiceUserOperation:
		return "UserOperation"
	default:
		return fmt.Sprintf("ServiceEvent(%d)", int(e))
	}
}
