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
	"strings"
	"testing"

	"github.com/ZaparooProject/go-rfidprog/internal/fsm"
)

func TestKindOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want ErrorKind
	}{
		{name: "nil error", err: nil, want: ErrorKindUnknown},
		{name: "no port", err: ErrNoPort, want: ErrorKindPrecondition},
		{name: "no card", err: ErrNoCard, want: ErrorKindPrecondition},
		{name: "wrapped out of range", err: fmt.Errorf("start 800: %w", ErrOutOfRange), want: ErrorKindPrecondition},
		{name: "content too large", err: ErrContentTooLarge, want: ErrorKindPrecondition},
		{name: "not allowed", err: ErrOperationNotAllowed, want: ErrorKindProtocol},
		{name: "access bits differ", err: ErrAccessBitsDiffer, want: ErrorKindProtocol},
		{name: "no transition", err: fsm.ErrNoTransition, want: ErrorKindProtocol},
		{name: "transport read", err: ErrTransportRead, want: ErrorKindTransport},
		{name: "transport closed", err: ErrTransportClosed, want: ErrorKindTransport},
		{name: "unknown error", err: errors.New("unknown error"), want: ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := KindOf(tt.err)
			if got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf_TypedErrorsWin(t *testing.T) {
	t.Parallel()

	// a transport error wrapping a precondition sentinel is still transport
	te := NewTransportError("open", "/dev/ttyUSB0", ErrPortUnavailable)
	if got := KindOf(te); got != ErrorKindTransport {
		t.Errorf("KindOf(TransportError) = %v, want transport", got)
	}

	pe := NewProtocolError(OpReadContent, StateOperationFailed, errors.New("nack"))
	if got := KindOf(fmt.Errorf("queued: %w", pe)); got != ErrorKindProtocol {
		t.Errorf("KindOf(ProtocolError) = %v, want protocol", got)
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transport", err: NewTransportError("read", "COM3", ErrTransportRead), want: true},
		{name: "panic", err: fmt.Errorf("%w: index out of range", ErrWorkerPanic), want: true},
		{name: "protocol", err: NewProtocolError(OpWriteContent, StateOperationFailed, ErrOperationFailed), want: false},
		{name: "precondition", err: ErrNoCard, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := NewProtocolError(OpChangeKeys, StateUnknown, ErrOperationNotAllowed)
	msg := err.Error()
	for _, substr := range []string{OpChangeKeys, "Unknown", "not allowed"} {
		if !strings.Contains(msg, substr) {
			t.Errorf("Error() = %q, should contain %q", msg, substr)
		}
	}
	if !errors.Is(err, ErrOperationNotAllowed) {
		t.Error("ProtocolError should unwrap to its cause")
	}
}

func TestTransportError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		te   *TransportError
		want []string // Substrings that should be present
	}{
		{
			name: "with port",
			te: &TransportError{
				Err:  errors.New("connection failed"),
				Op:   "read",
				Port: "/dev/ttyUSB0",
			},
			want: []string{"read", "/dev/ttyUSB0", "connection failed"},
		},
		{
			name: "without port",
			te: &TransportError{
				Err:  errors.New("device busy"),
				Op:   "write",
				Port: "",
			},
			want: []string{"write", "device busy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.te.Error()
			for _, substr := range tt.want {
				if !strings.Contains(got, substr) {
					t.Errorf("Error() = %q, should contain %q", got, substr)
				}
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	t.Parallel()
	originalErr := errors.New("original error")
	te := &TransportError{
		Err:  originalErr,
		Op:   "test",
		Port: "/dev/test",
	}

	unwrapped := te.Unwrap()
	if !errors.Is(unwrapped, originalErr) {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestErrorKind_String(t *testing.T) {
	t.Parallel()

	want := map[ErrorKind]string{
		ErrorKindUnknown:      "unknown",
		ErrorKindPrecondition: "precondition",
		ErrorKindProtocol:     "protocol",
		ErrorKindTransport:    "transport",
	}
	for kind, s := range want {
		if kind.String() != s {
			t.Errorf("%d.String() = %q, want %q", int(kind), kind.String(), s)
		}
	}
}
