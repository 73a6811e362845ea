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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-rfidprog/internal/fsm"
)

// Precondition errors, returned synchronously before a command is queued.
var (
	ErrNoPort             = errors.New("no port connected")
	ErrNoCard             = errors.New("no card connected")
	ErrPortUnavailable    = errors.New("port is unavailable")
	ErrInvalidKeyLength   = errors.New("keyA and keyB must be 6, access bits must be 4 bytes long")
	ErrInvalidSelectedKey = errors.New("selected key must be A or B")
	ErrOutOfRange         = errors.New("cannot access blocks beyond the content end")
	ErrContentTooLarge    = errors.New("not enough space to write this content")
	ErrNoTransportFactory = errors.New("no transport factory configured")
)

// Protocol errors, reported while a command runs on the worker.
var (
	ErrOperationNotAllowed = errors.New("operation not allowed in current state")
	ErrOperationFailed     = errors.New("operation failed")
	ErrAccessBitsDiffer    = errors.New("access bits differ between sectors")
	ErrShortRead           = errors.New("read returned no data")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrContentUnknown      = errors.New("card content has not been read")
	ErrWorkerPanic         = errors.New("worker panicked")
	ErrInvalidCardID       = errors.New("card id is too short")
)

// Transport errors. All of them end the connection.
var (
	ErrTransportRead   = errors.New("transport read failed")
	ErrTransportWrite  = errors.New("transport write failed")
	ErrTransportClosed = errors.New("transport closed")
)

// ErrorKind classifies errors by how the caller should react to them
type ErrorKind int

const (
	// ErrorKindUnknown is anything that is not one of the classified errors.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindPrecondition means nothing was sent; fix the arguments or state and call again.
	ErrorKindPrecondition
	// ErrorKindProtocol means the device or the state machine refused the operation.
	ErrorKindProtocol
	// ErrorKindTransport means the serial link failed and the connection is gone.
	ErrorKindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindPrecondition:
		return "precondition"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ProtocolError reports a command that did not complete on the device
type ProtocolError struct {
	Err   error
	Op    string
	State State
}

// NewProtocolError creates a protocol error for op observed in state.
func NewProtocolError(op string, state State, err error) *ProtocolError {
	return &ProtocolError{Op: op, State: state, Err: err}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed in state %s: %v", e.Op, e.State, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError represents an error on the serial link
type TransportError struct {
	Err  error
	Op   string
	Port string
}

// NewTransportError creates a new transport error
func NewTransportError(op, port string, err error) *TransportError {
	return &TransportError{Op: op, Port: port, Err: err}
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var preconditionErrors = []error{
	ErrNoPort, ErrNoCard, ErrPortUnavailable, ErrInvalidKeyLength, ErrInvalidSelectedKey,
	ErrOutOfRange, ErrContentTooLarge, ErrNoTransportFactory,
}

var protocolErrors = []error{
	ErrOperationNotAllowed, ErrOperationFailed, ErrAccessBitsDiffer,
	ErrShortRead, ErrInvalidMessage, ErrContentUnknown, ErrWorkerPanic, ErrInvalidCardID,
	fsm.ErrNoTransition,
}

var transportErrors = []error{
	ErrTransportRead, ErrTransportWrite, ErrTransportClosed,
}

// KindOf classifies err. Typed errors take precedence over the sentinels
// they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var te *TransportError
	if errors.As(err, &te) {
		return ErrorKindTransport
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return ErrorKindProtocol
	}

	switch {
	case isAny(err, preconditionErrors):
		return ErrorKindPrecondition
	case isAny(err, protocolErrors):
		return ErrorKindProtocol
	case isAny(err, transportErrors):
		return ErrorKindTransport
	default:
		return ErrorKindUnknown
	}
}

// IsFatal reports whether err ends the connection.
func IsFatal(err error) bool {
	return KindOf(err) == ErrorKindTransport || errors.Is(err, ErrWorkerPanic)
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
