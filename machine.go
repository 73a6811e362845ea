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
	"sync/atomic"

	"github.com/ZaparooProject/go-rfidprog/internal/fsm"
)

// protocolMachine is the programmer protocol built on a state machine with
// one alphabet for device events and one for service events.
type protocolMachine struct {
	machine      *fsm.Machine[State]
	device       *fsm.Alphabet[State, DeviceEvent]
	service      *fsm.Alphabet[State, ServiceEvent]
	operation    atomic.Int64
	authFailures atomic.Int32
}

func newProtocolMachine() *protocolMachine {
	m := fsm.NewMachine(StateNotConnected)
	pm := &protocolMachine{
		machine: m,
		device:  fsm.NewAlphabet[State, DeviceEvent](m),
		service: fsm.NewAlphabet[State, ServiceEvent](m),
	}
	pm.register()
	return pm
}

//nolint:funlen // the table reads best in one place
func (pm *protocolMachine) register() {
	dev, svc := pm.device, pm.service

	// failures
	svc.AddGlobal(StateUnknown, ServiceFailure, nil, nil)
	dev.AddGlobal(StateUnknown, DeviceFailure, nil, nil)

	// raw commands keep working in the unknown state
	svc.AddLoop(StateUnknown, ServiceToggleByteMode, nil, nil)
	svc.AddLoop(StateUnknown, ServiceUserOperation, nil, nil)
	dev.AddLoop(StateUnknown, DeviceErrorCheck, nil, nil)
	dev.AddLoop(StateUnknown, DeviceInvalidCommand, nil, nil)
	dev.AddLoop(StateUnknown, DeviceAuthFailed, nil, nil)
	svc.AddLoop(StateUnknown, ServiceAck, nil, nil)
	svc.AddLoop(StateUnknown, ServiceNack, nil, nil)
	dev.AddLoop(StateUnknown, DeviceCardChange, nil, nil)
	dev.AddLoop(StateUnknown, DevicePartialResult, nil, nil)

	dev.AddGlobalIgnore(DeviceComment, nil)

	// connection
	svc.Add(StateNotConnected, StateConnecting, ServiceConnect, nil, endOperation[ServiceEvent](pm))
	dev.Add(StateConnecting, StateConnected, DeviceInitComplete, nil, nil)
	svc.AddGlobal(StateNotConnected, ServiceDisconnect, nil, nil)

	// card changes are only expected between operations
	dev.AddLoop(StateConnected, DeviceCardChange, nil, nil)
	dev.Add(StateOperationSuccess, StateConnected, DeviceCardChange, nil, nil)
	dev.Add(StateOperationFailed, StateConnected, DeviceCardChange, nil, nil)
	dev.AddGlobal(StateUnknown, DeviceCardChange, nil, nil)
	dev.AddLoop(StateConnected, DeviceAuthFailed, nil, nil)

	// settle finished operations
	svc.Add(StateOperationSuccess, StateConnected, ServiceNextOperation, nil, nil)
	svc.Add(StateOperationFailed, StateConnected, ServiceNextOperation, nil, nil)
	svc.AddLoop(StateConnected, ServiceNextOperation, nil, nil)

	// device operations
	for _, ev := range []ServiceEvent{
		ServiceReadCard, ServiceWriteCard, ServiceChangeTrailers, ServiceCheckTrailers, ServiceSetTrailers,
	} {
		svc.Add(StateConnected, StateOperationInProgress, ev, nil, pm.startOperation)
	}

	// echo check of device operations; raw commands check their own echo
	dev.Add(StateOperationInProgress, StateErrorChecking, DeviceErrorCheck, whenDeviceOperation[DeviceEvent](pm), nil)
	svc.Add(StateErrorChecking, StateOperationInProgress, ServiceAck, nil, nil)
	svc.Add(StateErrorChecking, StateOperationInProgress, ServiceNack, nil, nil)
	dev.AddLoop(StateOperationInProgress, DeviceErrorCheck, nil, nil)

	dev.AddLoop(StateOperationInProgress, DevicePartialResult, nil, nil)
	dev.AddLoop(StateOperationInProgress, DeviceAuthFailed, whenDeviceOperation[DeviceEvent](pm), pm.recordAuthFailed)

	// operation results
	dev.Add(StateOperationInProgress, StateOperationSuccess, DeviceAck, unlessTextMode[DeviceEvent](pm), endOperation[DeviceEvent](pm))
	dev.Add(StateOperationInProgress, StateOperationFailed, DeviceNack, unlessTextMode[DeviceEvent](pm), endOperation[DeviceEvent](pm))
	dev.Add(StateOperationInProgress, StateOperationFailed, DeviceInvalidCommand, unlessTextMode[DeviceEvent](pm), endOperation[DeviceEvent](pm))

	// raw commands
	svc.Add(StateConnected, StateOperationInProgress, ServiceToggleByteMode, nil, pm.startOperation)
	svc.Add(StateOperationInProgress, StateConnected, ServiceToggleByteMode, inTextMode[ServiceEvent](pm), endOperation[ServiceEvent](pm))
	svc.Add(StateConnected, StateOperationInProgress, ServiceUserOperation, nil, pm.startOperation)
	svc.AddLoop(StateOperationInProgress, ServiceUserOperation, whenUserOperation[ServiceEvent](pm), nil)
	dev.AddLoop(StateOperationInProgress, DeviceAuthFailed, whenUserOperation[DeviceEvent](pm), nil)
	dev.AddLoop(StateOperationInProgress, DeviceAck, inTextMode[DeviceEvent](pm), nil)
	dev.AddLoop(StateOperationInProgress, DeviceNack, inTextMode[DeviceEvent](pm), nil)
	dev.AddLoop(StateOperationInProgress, DeviceInvalidCommand, inTextMode[DeviceEvent](pm), nil)
	svc.AddLoop(StateOperationInProgress, ServiceNextOperation, whenUserOperation[ServiceEvent](pm), nil)
}

// State returns the current protocol state.
func (pm *protocolMachine) State() State {
	return pm.machine.State()
}

// OnChange registers the state change observer.
func (pm *protocolMachine) OnChange(fn func(State)) {
	pm.machine.OnChange(fn)
}

// CurrentOperation returns the service event that started the running
// operation.
func (pm *protocolMachine) CurrentOperation() (ServiceEvent, bool) {
	op := ServiceEvent(pm.operation.Load())
	return op, op != 0
}

// IsUserOperationRunning reports whether a raw command owns the device.
func (pm *protocolMachine) IsUserOperationRunning() bool {
	op, ok := pm.CurrentOperation()
	return ok && (op == ServiceUserOperation || op == ServiceToggleByteMode)
}

// AuthFailures returns how many authentication failures the device reported
// during the current or last operation.
func (pm *protocolMachine) AuthFailures() int {
	return int(pm.authFailures.Load())
}

func (pm *protocolMachine) isTextMode() bool {
	op, ok := pm.CurrentOperation()
	return ok && op == ServiceToggleByteMode
}

func (pm *protocolMachine) startOperation(_, _ State, ev ServiceEvent) {
	pm.operation.Store(int64(ev))
	pm.authFailures.Store(0)
}

func (pm *protocolMachine) recordAuthFailed(_, _ State, _ DeviceEvent) {
	pm.authFailures.Add(1)
}

func endOperation[E comparable](pm *protocolMachine) fsm.Action[State, E] {
	return func(_, _ State, _ E) {
		pm.operation.Store(0)
	}
}

func inTextMode[E comparable](pm *protocolMachine) fsm.Guard[State, E] {
	return func(_, _ State, _ E) bool {
		return pm.isTextMode()
	}
}

func unlessTextMode[E comparable](pm *protocolMachine) fsm.Guard[State, E] {
	return func(_, _ State, _ E) bool {
		return !pm.isTextMode()
	}
}

func whenUserOperation[E comparable](pm *protocolMachine) fsm.Guard[State, E] {
	return func(_, _ State, _ E) bool {
		return pm.IsUserOperationRunning()
	}
}

func whenDeviceOperation[E comparable](pm *protocolMachine) fsm.Guard[State, E] {
	return func(_, _ State, _ E) bool {
		return !pm.IsUserOperationRunning()
	}
}
