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
	"sync"
)

// MockTransport is a scripted transport for tests. Queued lines are returned
// one per TryReadLine call; written lines are recorded.
type MockTransport struct {
	// OnLine, when set, is called for every completed outbound line and may
	// queue replies.
	OnLine   func(m *MockTransport, line []byte)
	readErr  error
	writeErr error
	port     string
	lines    [][]byte
	written  [][]byte
	current  []byte
	closed   int
	mu       sync.Mutex
	down     bool
}

// NewMockTransport creates a connected mock transport
func NewMockTransport(port string) *MockTransport {
	return &MockTransport{port: port}
}

// QueueLine schedules inbound lines
func (m *MockTransport) QueueLine(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		m.lines = append(m.lines, []byte(l))
	}
}

// QueueBytes schedules one inbound line with binary content
func (m *MockTransport) QueueBytes(line []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, append([]byte(nil), line...))
}

// Pending returns the number of queued inbound lines
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Written returns the completed outbound lines
func (m *MockTransport) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// SetReadError makes reads fail with err
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes writes fail with err
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Disconnect marks the transport as gone
func (m *MockTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = true
}

// CloseCount returns how often Close was called
func (m *MockTransport) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// TryReadLine returns the next queued line
func (m *MockTransport) TryReadLine() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	if len(m.lines) == 0 {
		return nil, false, nil
	}
	line := m.lines[0]
	m.lines = m.lines[1:]
	return line, true, nil
}

// WriteBytes records outbound bytes
func (m *MockTransport) WriteBytes(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.current = append(m.current, b...)
	return nil
}

// WriteLineTerminator completes the current outbound line
func (m *MockTransport) WriteLineTerminator() error {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	line := m.current
	m.current = nil
	m.written = append(m.written, line)
	onLine := m.OnLine
	m.mu.Unlock()

	if onLine != nil {
		onLine(m, line)
	}
	return nil
}

// Close closes the mock transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	m.down = true
	return nil
}

// IsConnected returns true until Close or Disconnect
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

// Port returns the port name
func (m *MockTransport) Port() string {
	return m.port
}
