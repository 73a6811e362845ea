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
	"context"
	"fmt"
)

// Operation names reported in CommandResult.Op.
const (
	OpReadContent    = "readContent"
	OpWriteContent   = "writeContent"
	OpEraseContent   = "eraseContent"
	OpResetKeys      = "resetKeys"
	OpUseKeys        = "useKeys"
	OpChangeKeys     = "changeKeys"
	OpCheckKeys      = "checkKeys"
	OpReadAccessBits = "readAccessBits"
	OpCustom         = "custom"
)

// command is one queued unit of work. The variants below are executed by
// Programmer.execute.
type command interface {
	op() string
}

type readContentCmd struct {
	start  uint
	length uint
}

type writeContentCmd struct {
	content           []byte
	start             uint
	ignorePreviousEnd bool
	ignoreEndMarker   bool
}

type eraseContentCmd struct {
	start uint
}

// setTrailersCmd backs both ResetAccessAndKeys and UseKeys.
type setTrailersCmd struct {
	name   string
	access Access
}

type changeTrailersCmd struct {
	access Access
}

type checkTrailersCmd struct{}

type readAccessBitsCmd struct{}

type customCmd struct {
	text string
}

func (readContentCmd) op() string    { return OpReadContent }
func (writeContentCmd) op() string   { return OpWriteContent }
func (eraseContentCmd) op() string   { return OpEraseContent }
func (c setTrailersCmd) op() string  { return c.name }
func (changeTrailersCmd) op() string { return OpChangeKeys }
func (checkTrailersCmd) op() string  { return OpCheckKeys }
func (readAccessBitsCmd) op() string { return OpReadAccessBits }
func (customCmd) op() string         { return OpCustom }

// execute runs cmd on the worker. The returned data is published with the
// command result.
func (p *Programmer) execute(ctx context.Context, c *connection, cmd command) ([]byte, error) {
	switch cmd := cmd.(type) {
	case readContentCmd:
		return p.readContent(ctx, c, cmd)
	case writeContentCmd:
		return p.writeContent(ctx, c, cmd)
	case eraseContentCmd:
		return nil, p.eraseContent(ctx, c, cmd)
	case setTrailersCmd:
		return nil, p.setTrailers(ctx, c, cmd)
	case changeTrailersCmd:
		return nil, p.changeTrailers(ctx, c, cmd)
	case checkTrailersCmd:
		return nil, p.exchange(ctx, c, OpCheckKeys, ServiceCheckTrailers, nil)
	case readAccessBitsCmd:
		return p.readAccessBits(ctx, c)
	case customCmd:
		return nil, p.sendCustom(c, cmd)
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}
