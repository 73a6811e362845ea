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

// sendCustom passes a raw line to the device. It does not wait: replies are
// handled by the idle loop and the command ends with the device's answer, or
// for byte mode with the next 'b'.
func (p *Programmer) sendCustom(c *connection, cmd customCmd) error {
	ev := ServiceUserOperation
	if cmd.text[0] == byte(ServiceToggleByteMode) {
		ev = ServiceToggleByteMode
	}
	if !p.machine.service.MoveNext(ev) {
		return NewProtocolError(OpCustom, p.machine.State(), ErrOperationNotAllowed)
	}

	p.lastCmd = []byte(cmd.text)
	return p.sendLine(c, p.lastCmd, true)
}
