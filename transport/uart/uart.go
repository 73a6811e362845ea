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

// Package uart provides the serial transport for the card programmer
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
	"github.com/ZaparooProject/go-rfidprog/internal/frame"
	itransport "github.com/ZaparooProject/go-rfidprog/internal/transport"
	"go.bug.st/serial"
)

const (
	// DefaultReadTimeout bounds a single read so polling never blocks.
	DefaultReadTimeout = 10 * time.Millisecond

	openAttempts   = 3
	openRetryDelay = 200 * time.Millisecond
)

// serialPort is the part of serial.Port the transport uses
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (serialPort, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Transport implements the rfidprog.Transport interface for serial ports
type Transport struct {
	port      serialPort
	reader    *frame.LineReader
	portName  string
	mu        sync.Mutex
	connected atomic.Bool
}

// New opens the serial port described by cfg. DTR and RTS are asserted, which
// resets Arduino based programmers, so the device boots after opening.
func New(cfg rfidprog.PortConfig) (*Transport, error) {
	var (
		port    serialPort
		lastErr error
	)
	err := itransport.Retry(context.Background(), itransport.RetryConfig{
		MaxRetries: openAttempts - 1,
		RetryDelay: openRetryDelay,
	}, func() (bool, error) {
		p, err := openPort(cfg.Port, cfg.Mode())
		if err == nil {
			port = p
			return true, nil
		}
		lastErr = err
		if isBusy(err) {
			return false, nil
		}
		return false, err
	})
	if errors.Is(err, itransport.ErrAttemptsExhausted) {
		err = lastErr
	}
	if err != nil {
		return nil, rfidprog.NewTransportError("open", cfg.Port, err)
	}

	t, err := newWithPort(port, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// Open is a rfidprog.TransportFactory backed by New.
func Open(cfg rfidprog.PortConfig) (rfidprog.Transport, error) {
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newWithPort(port serialPort, cfg rfidprog.PortConfig) (*Transport, error) {
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		return nil, rfidprog.NewTransportError("set read timeout", cfg.Port, err)
	}
	if err := port.SetDTR(true); err != nil {
		return nil, rfidprog.NewTransportError("set DTR", cfg.Port, err)
	}
	if err := port.SetRTS(true); err != nil {
		return nil, rfidprog.NewTransportError("set RTS", cfg.Port, err)
	}

	t := &Transport{
		port:     port,
		reader:   frame.NewLineReader(port, cfg.LineBufferSize),
		portName: cfg.Port,
	}
	t.connected.Store(true)
	return t, nil
}

func isBusy(err error) bool {
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortBusy
}

// TryReadLine polls the port once and returns a complete line if available
func (t *Transport) TryReadLine() ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected.Load() {
		return nil, false, rfidprog.NewTransportError("read", t.portName, rfidprog.ErrTransportClosed)
	}

	line, ok, err := t.reader.TryReadLine(0)
	if err != nil {
		t.connected.Store(false)
		return nil, false, rfidprog.NewTransportError("read", t.portName,
			fmt.Errorf("%w: %w", rfidprog.ErrTransportRead, err))
	}
	return line, ok, nil
}

// WriteBytes writes raw bytes to the port
func (t *Transport) WriteBytes(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write("write", b)
}

// WriteLineTerminator writes CRLF
func (t *Transport) WriteLineTerminator() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write("write terminator", frame.Terminator)
}

func (t *Transport) write(op string, b []byte) error {
	if !t.connected.Load() {
		return rfidprog.NewTransportError(op, t.portName, rfidprog.ErrTransportClosed)
	}
	for len(b) > 0 {
		n, err := t.port.Write(b)
		if err != nil {
			t.connected.Store(false)
			return rfidprog.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", rfidprog.ErrTransportWrite, err))
		}
		b = b[n:]
	}
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected.Store(false)
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Port returns the serial port name
func (t *Transport) Port() string {
	return t.portName
}
