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
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	itransport "github.com/ZaparooProject/go-rfidprog/internal/transport"
)

// idleCheckInterval paces WaitIdle and WaitForState.
const idleCheckInterval = 5 * time.Millisecond

// connection is one open port and the worker serving it
type connection struct {
	transport Transport
	closeErr  error
	cancel    context.CancelFunc
	done      chan struct{}
	cfg       PortConfig
	exited    atomic.Bool
}

func (c *connection) alive() bool {
	return !c.exited.Load() && c.transport.IsConnected()
}

// Programmer drives a card programmer over a serial link. Public operations
// validate their arguments, queue a command and return; a single worker
// goroutine per connection executes commands and handles device output.
type Programmer struct {
	config    *Config
	machine   *protocolMachine
	queue     *commandQueue
	observers *observerSet
	conn      *connection
	card      atomic.Pointer[Card]
	access    atomic.Pointer[Access]
	output    outputLog
	connMu    sync.Mutex

	// serializes SwitchPort and ClosePort
	switchMu sync.Mutex

	// owned by the worker
	lastCmd []byte
	result  []byte
}

// New creates a programmer. No port is opened until SwitchPort.
func New(opts ...Option) (*Programmer, error) {
	p := &Programmer{
		config:    DefaultConfig(),
		machine:   newProtocolMachine(),
		queue:     newCommandQueue(),
		observers: newObserverSet(),
	}
	p.machine.OnChange(func(s State) {
		debugEvent().Stringer("state", s).Msg("state changed")
		p.observers.stateChanged(s)
	})

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// State returns the current protocol state.
func (p *Programmer) State() State {
	return p.machine.State()
}

// CurrentOperation returns the service event of the running operation.
func (p *Programmer) CurrentOperation() (ServiceEvent, bool) {
	return p.machine.CurrentOperation()
}

// AuthFailures returns the authentication failures reported during the
// current or last device operation.
func (p *Programmer) AuthFailures() int {
	return p.machine.AuthFailures()
}

func (p *Programmer) connection() *connection {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.conn
}

// IsConnected reports whether a port is open and its worker is running.
func (p *Programmer) IsConnected() bool {
	c := p.connection()
	return c != nil && c.alive()
}

// CurrentPort returns the name of the open port, or "" when closed.
func (p *Programmer) CurrentPort() string {
	if c := p.connection(); c != nil {
		return c.cfg.Port
	}
	return ""
}

// Card returns the card on the programmer, or nil when there is none.
func (p *Programmer) Card() *Card {
	return p.card.Load()
}

// Access returns a copy of the keys in use, or nil when not connected.
func (p *Programmer) Access() *Access {
	a := p.access.Load()
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Output returns everything the device has printed so far.
func (p *Programmer) Output() string {
	return p.output.String()
}

// Observe subscribes o and returns a function that cancels the subscription.
func (p *Programmer) Observe(o Observer) (cancel func()) {
	return p.observers.add(o)
}

// MaxBytes returns the largest content that still fits an end marker.
func (p *Programmer) MaxBytes() int {
	return MaxContentBytes
}

// EndMarker returns the byte that terminates content on the card.
func (p *Programmer) EndMarker() byte {
	return EndMarker
}

// HasPendingWork reports whether commands are queued or running.
func (p *Programmer) HasPendingWork() bool {
	return p.queue.busy()
}

// WaitIdle blocks until every queued command has finished or ctx ends.
func (p *Programmer) WaitIdle(ctx context.Context) error {
	return itransport.PollUntil(ctx, idleCheckInterval, nil, func() (bool, error) {
		return !p.queue.busy(), nil
	})
}

// WaitForState blocks until the protocol reaches one of states or ctx ends.
func (p *Programmer) WaitForState(ctx context.Context, states ...State) error {
	return itransport.PollUntil(ctx, idleCheckInterval, nil, func() (bool, error) {
		return slices.Contains(states, p.machine.State()), nil
	})
}

// AvailablePorts lists the serial ports that SwitchPort accepts.
func (p *Programmer) AvailablePorts() ([]string, error) {
	ports, err := p.config.PortLister()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}

func (p *Programmer) setCard(card *Card) {
	p.card.Store(card)
	if card != nil {
		debugEvent().Str("card", card.String()).Msg("card changed")
	} else {
		debugln("card removed")
	}
	p.observers.cardChanged(card)
}

func (p *Programmer) setAccess(a *Access) {
	if a != nil {
		cp := *a
		a = &cp
	}
	p.access.Store(a)
	p.observers.accessChanged(a)
}

func (p *Programmer) serviceMessage(text string) {
	debugEvent().Str("message", text).Msg("service message")
	p.observers.output(OutputEvent{Kind: OutputService, Text: text})
}

func (p *Programmer) appendOutput(line []byte) {
	text := sanitize(line, true)
	p.output.append(text)
	p.observers.output(OutputEvent{Kind: OutputDevice, Text: text})
}

// worker owns the connection until ctx is cancelled or the transport fails.
func (p *Programmer) worker(ctx context.Context, c *connection) {
	defer close(c.done)
	defer p.shutdown(c)

	if err := p.machine.service.MoveNextOrFail(ServiceConnect); err != nil {
		errorEvent().Err(err).Str("port", c.cfg.Port).Msg("cannot start connection")
		return
	}
	access := DefaultAccess()
	p.setAccess(&access)
	debugEvent().Str("port", c.cfg.Port).Msg("worker started")

	for ctx.Err() == nil && c.transport.IsConnected() {
		if p.machine.State() != StateConnecting {
			if cmd, ok := p.queue.pop(); ok {
				if err := p.runCommand(ctx, c, cmd); err != nil {
					p.fail(c, err)
					return
				}
				continue
			}
		}

		handled, err := p.pollLine(c)
		if err != nil {
			p.fail(c, err)
			return
		}
		if !handled {
			_ = itransport.Sleep(ctx, p.config.PollInterval, p.queue.wake())
		}
	}
}

func (p *Programmer) shutdown(c *connection) {
	if r := recover(); r != nil {
		errorEvent().Interface("panic", r).Str("port", c.cfg.Port).Msg("worker panicked")
		p.machine.service.MoveNext(ServiceFailure)
	}

	c.exited.Store(true)
	p.setAccess(nil)
	p.machine.service.MoveNext(ServiceDisconnect)
	if err := c.transport.Close(); err != nil {
		c.closeErr = err
	}
	debugEvent().Str("port", c.cfg.Port).Msg("worker stopped")
}

func (p *Programmer) fail(c *connection, err error) {
	errorEvent().Err(err).Str("port", c.cfg.Port).Msg("connection failed")
	p.machine.service.MoveNext(ServiceFailure)
}

// runCommand executes one queued command and settles the protocol state.
// Only fatal errors are returned.
func (p *Programmer) runCommand(ctx context.Context, c *connection, cmd command) error {
	defer p.queue.finish()

	p.machine.service.MoveNext(ServiceNextOperation)
	debugEvent().Str("op", cmd.op()).Msg("command started")

	data, err := p.safeExecute(ctx, c, cmd)

	p.machine.service.MoveNext(ServiceNextOperation)
	if err != nil && ctx.Err() == nil {
		debugEvent().Str("op", cmd.op()).Err(err).Msg("command failed")
		if !errors.Is(err, ErrAccessBitsDiffer) {
			p.serviceMessage("^--- ERROR: " + err.Error())
		}
	}
	p.observers.commandDone(CommandResult{Op: cmd.op(), Err: err, Data: data})

	if IsFatal(err) {
		return err
	}
	return nil
}

func (p *Programmer) safeExecute(ctx context.Context, c *connection, cmd command) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrWorkerPanic, cmd.op(), r)
		}
	}()
	return p.execute(ctx, c, cmd)
}

// pollLine handles at most one inbound line.
func (p *Programmer) pollLine(c *connection) (bool, error) {
	line, ok, err := c.transport.TryReadLine()
	if err != nil {
		return false, wrapTransportError("read", c, err)
	}
	if !ok {
		return false, nil
	}
	return true, p.handleLine(c, line)
}

// handleLine feeds one device line into the protocol.
func (p *Programmer) handleLine(c *connection, line []byte) error {
	var (
		ev    DeviceEvent
		known bool
	)
	if len(line) > 0 {
		ev, known = deviceEventForTag(line[0])
	}
	debugEvent().Str("line", sanitize(line, false)).Msg("received")

	if p.machine.State() == StateConnecting {
		if !known || ev != DeviceInitComplete {
			return nil
		}
		p.machine.device.MoveNext(DeviceInitComplete)
	}

	p.appendOutput(line)
	if len(line) == 0 || (known && ev == DeviceInitComplete) {
		return nil
	}

	if !known {
		p.serviceMessage(msgInvalidMessage)
		p.machine.device.MoveNext(DeviceFailure)
		return nil
	}

	if err := p.machine.device.MoveNextOrFail(ev); err != nil {
		currentLogger().Warn().Err(err).Str("port", c.cfg.Port).Msg("unexpected device event")
		p.machine.device.MoveNext(DeviceFailure)
		return nil
	}

	payload := line[1:]
	switch {
	case ev == DeviceCardChange:
		if len(payload) == 0 {
			p.setCard(nil)
			return nil
		}
		card, err := NewCard(payload)
		if err != nil {
			currentLogger().Warn().Err(err).Str("port", c.cfg.Port).Msg("invalid card change")
			p.serviceMessage(msgInvalidMessage)
			p.machine.device.MoveNext(DeviceFailure)
			return nil
		}
		p.setCard(card)
	case ev == DeviceErrorCheck && p.machine.State() == StateErrorChecking:
		return p.answerEcho(c, payload)
	case ev == DeviceErrorCheck:
		if bytes.Equal(payload, p.lastCmd) {
			p.serviceMessage(msgCommandMatches)
		} else {
			p.serviceMessage(msgCommandDiffers)
		}
	case ev == DevicePartialResult:
		p.result = append(p.result, payload...)
	}
	return nil
}

// answerEcho confirms or rejects the echo of the last command. A rejected
// command is dropped by the device without a reply, so the operation fails
// on the host side right away.
func (p *Programmer) answerEcho(c *connection, echo []byte) error {
	answer := ServiceNack
	if bytes.Equal(echo, p.lastCmd) {
		answer = ServiceAck
	}
	p.machine.service.MoveNext(answer)

	opcode, _ := answer.Opcode()
	if err := p.sendLine(c, []byte{opcode}, false); err != nil {
		return err
	}
	if answer == ServiceNack {
		p.serviceMessage(msgEchoDiffers)
		p.machine.service.MoveNext(ServiceFailure)
	}
	return nil
}

func (p *Programmer) sendLine(c *connection, line []byte, userInput bool) error {
	if err := c.transport.WriteBytes(line); err != nil {
		return wrapTransportError("write", c, err)
	}
	if err := c.transport.WriteLineTerminator(); err != nil {
		return wrapTransportError("write", c, err)
	}

	text := sanitize(line, false)
	debugEvent().Str("line", text).Bool("user", userInput).Msg("sent")
	p.observers.output(OutputEvent{Kind: OutputInput, Text: text, UserInput: userInput})
	return nil
}

// writeCommand starts a device operation. It returns false when the protocol
// does not allow ev in the current state.
func (p *Programmer) writeCommand(c *connection, ev ServiceEvent, args []byte) (bool, error) {
	p.machine.service.MoveNext(ServiceNextOperation)
	if !p.machine.service.MoveNext(ev) {
		return false, nil
	}

	opcode, _ := ev.Opcode()
	p.lastCmd = append([]byte{opcode}, args...)
	p.result = nil
	return true, p.sendLine(c, p.lastCmd, false)
}

// waitForEndOfOperation handles device lines until the running operation
// leaves OperationInProgress.
func (p *Programmer) waitForEndOfOperation(ctx context.Context, c *connection) error {
	err := itransport.PollUntil(ctx, p.config.PollInterval, nil, func() (bool, error) {
		for {
			if !c.transport.IsConnected() || p.machine.State() != StateOperationInProgress {
				return true, nil
			}
			handled, err := p.pollLine(c)
			if err != nil || !handled {
				return false, err
			}
		}
	})
	if err != nil {
		return err
	}
	if !c.transport.IsConnected() {
		return NewTransportError("wait", c.cfg.Port, ErrTransportClosed)
	}
	return nil
}

// exchange runs one device command to completion and requires success.
func (p *Programmer) exchange(ctx context.Context, c *connection, op string, ev ServiceEvent, args []byte) error {
	allowed, err := p.writeCommand(c, ev, args)
	if err != nil {
		return err
	}
	if !allowed {
		return NewProtocolError(op, p.machine.State(), fmt.Errorf("%w: %v", ErrOperationNotAllowed, ev))
	}

	if err := p.waitForEndOfOperation(ctx, c); err != nil {
		return err
	}
	if state := p.machine.State(); state != StateOperationSuccess {
		return NewProtocolError(op, state, ErrOperationFailed)
	}
	return nil
}

// takeResult returns the partial results collected by the last command.
func (p *Programmer) takeResult() []byte {
	r := p.result
	p.result = nil
	return r
}

func wrapTransportError(op string, c *connection, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return NewTransportError(op, c.cfg.Port, err)
}
