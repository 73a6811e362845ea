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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMachine(t *testing.T) *protocolMachine {
	t.Helper()
	pm := newProtocolMachine()
	require.NoError(t, pm.service.MoveNextOrFail(ServiceConnect))
	require.NoError(t, pm.device.MoveNextOrFail(DeviceInitComplete))
	require.Equal(t, StateConnected, pm.State())
	return pm
}

func TestProtocolMachine_Connect(t *testing.T) {
	t.Parallel()

	pm := newProtocolMachine()
	assert.Equal(t, StateNotConnected, pm.State())

	assert.False(t, pm.device.MoveNext(DeviceInitComplete), "init requires connecting")
	require.True(t, pm.service.MoveNext(ServiceConnect))
	assert.Equal(t, StateConnecting, pm.State())

	assert.False(t, pm.service.HasNext(ServiceReadCard))
	require.True(t, pm.device.MoveNext(DeviceInitComplete))
	assert.Equal(t, StateConnected, pm.State())
}

func TestProtocolMachine_SuccessfulOperation(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	var states []State
	pm.OnChange(func(s State) { states = append(states, s) })

	require.True(t, pm.service.MoveNext(ServiceReadCard))
	op, ok := pm.CurrentOperation()
	require.True(t, ok)
	assert.Equal(t, ServiceReadCard, op)

	require.True(t, pm.device.MoveNext(DeviceErrorCheck))
	require.True(t, pm.service.MoveNext(ServiceAck))
	require.True(t, pm.device.MoveNext(DevicePartialResult))
	require.True(t, pm.device.MoveNext(DeviceAck))
	require.True(t, pm.service.MoveNext(ServiceNextOperation))

	assert.Equal(t, []State{
		StateOperationInProgress,
		StateErrorChecking,
		StateOperationInProgress,
		StateOperationSuccess,
		StateConnected,
	}, states)
	_, ok = pm.CurrentOperation()
	assert.False(t, ok)
}

func TestProtocolMachine_FailedOperation(t *testing.T) {
	t.Parallel()

	for _, ev := range []DeviceEvent{DeviceNack, DeviceInvalidCommand} {
		pm := connectedMachine(t)
		require.True(t, pm.service.MoveNext(ServiceWriteCard))
		require.True(t, pm.device.MoveNext(ev))
		assert.Equal(t, StateOperationFailed, pm.State(), ev.String())
		require.True(t, pm.service.MoveNext(ServiceNextOperation))
		assert.Equal(t, StateConnected, pm.State())
	}
}

func TestProtocolMachine_EchoNack(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.service.MoveNext(ServiceSetTrailers))
	require.True(t, pm.device.MoveNext(DeviceErrorCheck))
	require.True(t, pm.service.MoveNext(ServiceNack))
	assert.Equal(t, StateOperationInProgress, pm.State())

	require.True(t, pm.service.MoveNext(ServiceFailure))
	assert.Equal(t, StateUnknown, pm.State())
}

func TestProtocolMachine_AuthFailures(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.service.MoveNext(ServiceCheckTrailers))
	require.True(t, pm.device.MoveNext(DeviceAuthFailed))
	require.True(t, pm.device.MoveNext(DeviceAuthFailed))
	assert.Equal(t, 2, pm.AuthFailures())
	assert.Equal(t, StateOperationInProgress, pm.State())

	require.True(t, pm.device.MoveNext(DeviceNack))
	require.True(t, pm.service.MoveNext(ServiceNextOperation))
	assert.Equal(t, 2, pm.AuthFailures(), "kept until the next operation starts")

	require.True(t, pm.service.MoveNext(ServiceCheckTrailers))
	assert.Zero(t, pm.AuthFailures())
}

func TestProtocolMachine_CardChange(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.device.MoveNext(DeviceCardChange))
	assert.Equal(t, StateConnected, pm.State())

	require.True(t, pm.service.MoveNext(ServiceReadCard))
	require.True(t, pm.device.MoveNext(DeviceAck))
	require.True(t, pm.device.MoveNext(DeviceCardChange))
	assert.Equal(t, StateConnected, pm.State())

	require.True(t, pm.service.MoveNext(ServiceReadCard))
	require.True(t, pm.device.MoveNext(DeviceCardChange))
	assert.Equal(t, StateUnknown, pm.State(), "card change during an operation")
}

func TestProtocolMachine_CommentsNeverChangeState(t *testing.T) {
	t.Parallel()

	pm := newProtocolMachine()
	for _, fire := range []func(){
		func() {},
		func() { pm.service.MoveNext(ServiceConnect) },
		func() { pm.device.MoveNext(DeviceInitComplete) },
		func() { pm.service.MoveNext(ServiceReadCard) },
		func() { pm.service.MoveNext(ServiceFailure) },
	} {
		fire()
		before := pm.State()
		require.True(t, pm.device.MoveNext(DeviceComment))
		assert.Equal(t, before, pm.State())
	}
}

func TestProtocolMachine_TextMode(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.service.MoveNext(ServiceToggleByteMode))
	assert.Equal(t, StateOperationInProgress, pm.State())
	assert.True(t, pm.IsUserOperationRunning())
	assert.True(t, pm.isTextMode())

	for _, ev := range []DeviceEvent{DeviceAck, DeviceNack, DeviceInvalidCommand, DeviceAuthFailed} {
		require.True(t, pm.device.MoveNext(ev), ev.String())
		assert.Equal(t, StateOperationInProgress, pm.State())
	}
	require.True(t, pm.service.MoveNext(ServiceUserOperation))
	require.True(t, pm.service.MoveNext(ServiceNextOperation))
	assert.Equal(t, StateOperationInProgress, pm.State())

	require.True(t, pm.service.MoveNext(ServiceToggleByteMode))
	assert.Equal(t, StateConnected, pm.State())
	assert.False(t, pm.IsUserOperationRunning())
}

func TestProtocolMachine_UserOperation(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.service.MoveNext(ServiceUserOperation))
	assert.True(t, pm.IsUserOperationRunning())

	require.True(t, pm.device.MoveNext(DeviceErrorCheck))
	assert.Equal(t, StateOperationInProgress, pm.State(), "raw commands skip the echo check")

	require.True(t, pm.device.MoveNext(DeviceAck))
	assert.Equal(t, StateOperationSuccess, pm.State())
	assert.False(t, pm.IsUserOperationRunning())
}

func TestProtocolMachine_Unknown(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.device.MoveNext(DeviceFailure))
	assert.Equal(t, StateUnknown, pm.State())

	assert.False(t, pm.service.HasNext(ServiceReadCard))
	assert.False(t, pm.service.HasNext(ServiceNextOperation))
	for _, ev := range []ServiceEvent{ServiceToggleByteMode, ServiceUserOperation, ServiceAck, ServiceNack} {
		require.True(t, pm.service.MoveNext(ev), ev.String())
		assert.Equal(t, StateUnknown, pm.State())
	}

	require.True(t, pm.service.MoveNext(ServiceDisconnect))
	assert.Equal(t, StateNotConnected, pm.State())
	require.True(t, pm.service.MoveNext(ServiceConnect))
	assert.Equal(t, StateConnecting, pm.State())
}

func TestProtocolMachine_DisconnectFromAnyState(t *testing.T) {
	t.Parallel()

	pm := connectedMachine(t)
	require.True(t, pm.service.MoveNext(ServiceWriteCard))
	require.True(t, pm.service.MoveNext(ServiceDisconnect))
	assert.Equal(t, StateNotConnected, pm.State())

	require.True(t, pm.service.MoveNext(ServiceConnect))
	_, ok := pm.CurrentOperation()
	assert.False(t, ok, "connect clears a stale operation")
}

func TestServiceEvent_Opcode(t *testing.T) {
	t.Parallel()

	b, ok := ServiceReadCard.Opcode()
	require.True(t, ok)
	assert.Equal(t, byte('R'), b)

	_, ok = ServiceConnect.Opcode()
	assert.False(t, ok)
	assert.Equal(t, "Connect", ServiceConnect.String())
	assert.Equal(t, "UserOperation", ServiceUserOperation.String())
}

func TestDeviceEventForTag(t *testing.T) {
	t.Parallel()

	ev, ok := deviceEventForTag('x')
	require.True(t, ok)
	assert.Equal(t, DeviceAuthFailed, ev)

	_, ok = deviceEventForTag('Z')
	assert.False(t, ok)
}

func TestState_Text(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Ready", StateConnected.Description())
	assert.Equal(t, "Unknown state, please reconnect", StateUnknown.Description())
	assert.Equal(t, "State(42)", State(42).String())

	text, err := StateErrorChecking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ErrorChecking", string(text))
}
