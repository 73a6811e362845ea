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

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ZaparooProject/go-rfidprog/internal/frame"
)

// ErrPortClosed is returned by I/O on a closed virtual port.
var ErrPortClosed = errors.New("virtual port closed")

// Fault is a one shot misbehavior of the virtual firmware
type Fault int

const (
	// FaultCorruptEcho alters the next error check echo.
	FaultCorruptEcho Fault = iota + 1
	// FaultNack answers the next confirmed command with N.
	FaultNack
	// FaultAuthFail answers the next confirmed command with x and N.
	FaultAuthFail
	// FaultEmptyRead answers the next confirmed read with A and no data.
	FaultEmptyRead
	// FaultInvalid answers the next confirmed command with X.
	FaultInvalid
)

// argLengths holds the argument sizes of fixed length commands.
var argLengths = map[byte]int{
	CmdRead:           3,
	CmdWrite:          2 + BlockSize,
	CmdSetTrailers:    17,
	CmdChangeTrailers: 17,
	CmdCheckTrailers:  0,
}

// VirtualProgrammer simulates the programmer firmware behind a serial port.
// It implements the programmer transport interface and can be handed to a
// programmer through a transport factory.
//
// Every card command is echoed as an E line and only executed after the host
// confirms the echo with A; N drops it silently.
type VirtualProgrammer struct {
	card      *VirtualCard
	reader    *frame.LineReader
	readErr   error
	writeErr  error
	port      string
	out       bytes.Buffer
	in        []byte
	pending   []byte
	keys      []byte
	received  [][]byte
	faults    []Fault
	chunkSize int
	closed    int
	mu        sync.Mutex
	connected bool
	byteMode  bool
}

// NewVirtualProgrammer creates a booted programmer without a card. The boot
// banner and the init line are already waiting to be read.
func NewVirtualProgrammer(port string) *VirtualProgrammer {
	v := &VirtualProgrammer{
		port:      port,
		connected: true,
		keys:      append(append([]byte(nil), DefaultTrailer...), 'A'),
	}
	v.reader = frame.NewLineReader(outSource{v}, frame.DefaultBufferSize)
	v.emit(TestBanner)
	v.emit([]byte{TagInitComplete})
	return v
}

// outSource hands buffered device output to the line reader. It runs with
// the programmer lock held.
type outSource struct {
	v *VirtualProgrammer
}

func (s outSource) Read(p []byte) (int, error) {
	if s.v.chunkSize > 0 && len(p) > s.v.chunkSize {
		p = p[:s.v.chunkSize]
	}
	n, _ := s.v.out.Read(p)
	return n, nil
}

// SetChunkSize limits how many bytes one poll delivers; 0 means unlimited.
func (v *VirtualProgrammer) SetChunkSize(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunkSize = n
}

// InsertCard places card on the reader and reports it.
func (v *VirtualProgrammer) InsertCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.card = card
	v.emit(BuildCardChangeLine(card.UID))
}

// RemoveCard takes the card away and reports an empty card change.
func (v *VirtualProgrammer) RemoveCard() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.card = nil
	v.emit(BuildCardChangeLine(nil))
}

// Card returns the card on the reader.
func (v *VirtualProgrammer) Card() *VirtualCard {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.card
}

// EmitLine queues a raw line as if the firmware printed it.
func (v *VirtualProgrammer) EmitLine(line []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emit(line)
}

// InjectFault queues a one shot fault.
func (v *VirtualProgrammer) InjectFault(f Fault) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults = append(v.faults, f)
}

// SetReadError makes every following read fail with err.
func (v *VirtualProgrammer) SetReadError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.readErr = err
}

// SetWriteError makes every following write fail with err.
func (v *VirtualProgrammer) SetWriteError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeErr = err
}

// Unplug simulates the device disappearing.
func (v *VirtualProgrammer) Unplug() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
}

// Received returns the command lines received so far.
func (v *VirtualProgrammer) Received() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.received))
	for i, line := range v.received {
		out[i] = append([]byte(nil), line...)
	}
	return out
}

// Keys returns the key payload in use: key A, access bits, key B, selector.
func (v *VirtualProgrammer) Keys() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.keys...)
}

// ByteMode reports whether text mode is on.
func (v *VirtualProgrammer) ByteMode() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.byteMode
}

// CloseCount returns how often Close was called.
func (v *VirtualProgrammer) CloseCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// TryReadLine implements the transport interface.
func (v *VirtualProgrammer) TryReadLine() ([]byte, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.readErr != nil {
		return nil, false, v.readErr
	}
	if !v.connected {
		return nil, false, ErrPortClosed
	}
	line, ok, err := v.reader.TryReadLine(0)
	if err != nil {
		return nil, false, fmt.Errorf("virtual read: %w", err)
	}
	return line, ok, nil
}

// WriteBytes implements the transport interface.
func (v *VirtualProgrammer) WriteBytes(b []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.writable(); err != nil {
		return err
	}
	v.in = append(v.in, b...)
	return nil
}

// WriteLineTerminator implements the transport interface.
func (v *VirtualProgrammer) WriteLineTerminator() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.writable(); err != nil {
		return err
	}
	v.in = append(v.in, frame.Terminator...)
	v.process()
	return nil
}

// Close implements the transport interface.
func (v *VirtualProgrammer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	v.closed++
	return nil
}

// IsConnected implements the transport interface.
func (v *VirtualProgrammer) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Port implements the transport interface.
func (v *VirtualProgrammer) Port() string {
	return v.port
}

func (v *VirtualProgrammer) writable() error {
	if v.writeErr != nil {
		return v.writeErr
	}
	if !v.connected {
		return ErrPortClosed
	}
	return nil
}

func (v *VirtualProgrammer) emit(line []byte) {
	v.out.Write(line)
	v.out.Write(frame.Terminator)
}

// process executes every complete command line in the input buffer.
func (v *VirtualProgrammer) process() {
	for {
		line, rest, ok := v.nextCommand()
		if !ok {
			return
		}
		v.in = rest
		v.handleCommand(line)
	}
}

// nextCommand splits off one line. Fixed length commands are cut by length
// so binary arguments may contain the terminator.
func (v *VirtualProgrammer) nextCommand() (line, rest []byte, ok bool) {
	if len(v.in) == 0 {
		return nil, nil, false
	}
	if n, fixed := argLengths[v.in[0]]; fixed && v.pending == nil && !v.byteMode {
		end := 1 + n
		if len(v.in) >= end+len(frame.Terminator) && bytes.Equal(v.in[end:end+len(frame.Terminator)], frame.Terminator) {
			return v.in[:end], v.in[end+len(frame.Terminator):], true
		}
	}
	idx := bytes.Index(v.in, frame.Terminator)
	if idx < 0 {
		return nil, nil, false
	}
	return v.in[:idx], v.in[idx+len(frame.Terminator):], true
}

func (v *VirtualProgrammer) handleCommand(line []byte) {
	line = append([]byte(nil), line...)
	v.received = append(v.received, line)
	if len(line) == 0 {
		return
	}

	if v.byteMode {
		if len(line) == 1 && line[0] == CmdToggleByteMode {
			v.byteMode = false
			v.emit([]byte("#text mode off"))
			return
		}
		v.emit([]byte{TagAck})
		return
	}

	if v.pending != nil {
		cmd := v.pending
		v.pending = nil
		switch {
		case len(line) == 1 && line[0] == CmdAck:
			v.execute(cmd)
		case len(line) == 1 && line[0] == CmdNack:
			// dropped without reply
		default:
			v.emit([]byte{TagInvalidCommand})
		}
		return
	}

	if len(line) == 1 && line[0] == CmdToggleByteMode {
		v.byteMode = true
		v.emit([]byte("#text mode on"))
		return
	}

	n, known := argLengths[line[0]]
	if !known || len(line) != 1+n {
		v.emit([]byte{TagInvalidCommand})
		return
	}

	echo := line
	if v.takeFault(FaultCorruptEcho) {
		echo = append(append([]byte(nil), line...), '?')
	}
	v.emit(BuildEchoLine(echo))
	v.pending = line
}

func (v *VirtualProgrammer) takeFault(want ...Fault) bool {
	if len(v.faults) == 0 {
		return false
	}
	for _, f := range want {
		if v.faults[0] == f {
			v.faults = v.faults[1:]
			return true
		}
	}
	return false
}

func (v *VirtualProgrammer) execute(cmd []byte) {
	if v.card == nil {
		v.emit([]byte{TagNack})
		return
	}
	switch {
	case v.takeFault(FaultNack):
		v.emit([]byte{TagNack})
		return
	case v.takeFault(FaultAuthFail):
		v.emit([]byte{TagAuthFailed})
		v.emit([]byte{TagNack})
		return
	case v.takeFault(FaultInvalid):
		v.emit([]byte{TagInvalidCommand})
		return
	}

	switch cmd[0] {
	case CmdRead:
		v.read(int(cmd[1]), int(cmd[2]), int(cmd[3]))
	case CmdWrite:
		v.write(int(cmd[1]), int(cmd[2]), cmd[3:])
	case CmdSetTrailers:
		v.keys = append([]byte(nil), cmd[1:]...)
		v.emit([]byte{TagAck})
	case CmdChangeTrailers:
		v.changeTrailers(cmd[1:])
	case CmdCheckTrailers:
		v.checkTrailers()
	}
}

func (v *VirtualProgrammer) read(sector, block, count int) {
	if sector >= CardSectors || count == 0 || block+count > BlocksPerSector {
		v.emit([]byte{TagInvalidCommand})
		return
	}
	if !v.authenticate(sector) {
		return
	}
	if v.takeFault(FaultEmptyRead) {
		v.emit([]byte{TagAck})
		return
	}
	for i := 0; i < count; i++ {
		data, err := v.card.ReadBlock(sector*BlocksPerSector + block + i)
		if err != nil {
			v.emit([]byte{TagNack})
			return
		}
		v.emit(BuildPartialResultLine(data))
	}
	v.emit([]byte{TagAck})
}

func (v *VirtualProgrammer) write(sector, block int, data []byte) {
	if sector >= CardSectors || block >= BlocksPerSector {
		v.emit([]byte{TagInvalidCommand})
		return
	}
	if !v.authenticate(sector) {
		return
	}
	if err := v.card.WriteBlock(sector*BlocksPerSector+block, data); err != nil {
		v.emit([]byte{TagNack})
		return
	}
	v.emit([]byte{TagAck})
}

func (v *VirtualProgrammer) changeTrailers(payload []byte) {
	for sector := 0; sector < CardSectors; sector++ {
		if !v.authenticate(sector) {
			return
		}
	}
	trailer := payload[:BlockSize]
	for sector := 0; sector < CardSectors; sector++ {
		_ = v.card.SetTrailer(sector, trailer)
	}
	v.keys = append([]byte(nil), payload...)
	v.emit([]byte{TagAck})
}

func (v *VirtualProgrammer) checkTrailers() {
	for sector := 0; sector < CardSectors; sector++ {
		if !v.authenticate(sector) {
			return
		}
	}
	v.emit([]byte{TagAck})
}

// authenticate compares the selected key with the sector trailer and reports
// x and N on mismatch.
func (v *VirtualProgrammer) authenticate(sector int) bool {
	trailer := v.card.Memory[TrailerBlock(sector)]
	var want, got []byte
	if v.keys[16] == 'B' {
		want, got = trailer[10:16], v.keys[10:16]
	} else {
		want, got = trailer[0:6], v.keys[0:6]
	}
	if bytes.Equal(want, got) {
		return true
	}
	v.emit([]byte{TagAuthFailed})
	v.emit([]byte{TagNack})
	return false
}
