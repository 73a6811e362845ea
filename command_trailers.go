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
	"fmt"
)

func (p *Programmer) setTrailers(ctx context.Context, c *connection, cmd setTrailersCmd) error {
	if err := p.exchange(ctx, c, cmd.name, ServiceSetTrailers, cmd.access.Payload()); err != nil {
		return err
	}
	p.setAccess(&cmd.access)
	return nil
}

func (p *Programmer) changeTrailers(ctx context.Context, c *connection, cmd changeTrailersCmd) error {
	if err := p.exchange(ctx, c, OpChangeKeys, ServiceChangeTrailers, cmd.access.Payload()); err != nil {
		return err
	}
	if p.Card() != nil {
		p.setAccess(&cmd.access)
	}
	return nil
}

// readAccessBits reads the trailer of every sector. All trailers must match;
// a card with mixed trailers has to be fixed by hand.
func (p *Programmer) readAccessBits(ctx context.Context, c *connection) ([]byte, error) {
	var first []byte
	for sector := 0; sector < Sectors; sector++ {
		block := sector*BlocksPerSector + trailerBlock
		trailer, err := p.readBlocks(ctx, c, OpReadAccessBits, block, 1)
		if err != nil {
			return nil, err
		}
		if p.Card() == nil {
			return nil, NewProtocolError(OpReadAccessBits, p.machine.State(), ErrNoCard)
		}
		if len(trailer) < TrailerLength {
			p.machine.service.MoveNext(ServiceFailure)
			return nil, NewProtocolError(OpReadAccessBits, p.machine.State(),
				fmt.Errorf("%w: sector %d trailer has %d bytes", ErrShortRead, sector, len(trailer)))
		}

		trailer = trailer[:TrailerLength]
		if first == nil {
			first = bytes.Clone(trailer)
			continue
		}
		if !bytes.Equal(first, trailer) {
			p.serviceMessage(msgAccessBitsDiffer)
			p.machine.service.MoveNext(ServiceFailure)
			return nil, NewProtocolError(OpReadAccessBits, p.machine.State(),
				fmt.Errorf("%w: sector %d", ErrAccessBitsDiffer, sector))
		}
	}

	sel := SelectKeyA
	if current := p.Access(); current != nil {
		sel = current.SelectedKey
	}
	access, err := AccessFromTrailer(first, sel)
	if err != nil {
		return nil, err
	}
	p.setAccess(&access)
	return first, nil
}
