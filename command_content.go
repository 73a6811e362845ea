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
)

func (p *Programmer) readContent(ctx context.Context, c *connection, cmd readContentCmd) ([]byte, error) {
	card := p.Card()
	if card == nil {
		return nil, NewProtocolError(OpReadContent, p.machine.State(), ErrNoCard)
	}

	first, err := BlockForOffset(cmd.start)
	if err != nil {
		return nil, err
	}
	lastOffset := uint(UsableBytes - 1)
	if cmd.length != 0 {
		lastOffset = cmd.start + cmd.length - 1
	}
	last, err := BlockForOffset(lastOffset)
	if err != nil {
		return nil, err
	}

	var raw []byte
	for block := first; block <= last; {
		count := min(trailerBlock-BlockInSector(block), last-block+1)
		chunk, err := p.readBlocks(ctx, c, OpReadContent, block, count)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		raw = append(raw, chunk...)
		if cmd.length == 0 && bytes.IndexByte(chunk, EndMarker) >= 0 {
			break
		}
		block += count + 1
	}

	skip := int(cmd.start % BlockSize)
	if cmd.length != 0 {
		end := skip + int(cmd.length)
		if len(raw) < end {
			p.machine.service.MoveNext(ServiceFailure)
			return nil, NewProtocolError(OpReadContent, p.machine.State(), ErrShortRead)
		}
		return bytes.Clone(raw[skip:end]), nil
	}

	data := []byte{}
	if skip < len(raw) {
		data = bytes.Clone(TrimContent(raw[skip:]))
	}
	if cmd.start == 0 {
		p.setCard(card.WithContent(data))
	}
	return data, nil
}

// readBlocks reads count consecutive blocks of one sector.
func (p *Programmer) readBlocks(ctx context.Context, c *connection, op string, block, count int) ([]byte, error) {
	args := []byte{byte(SectorOf(block)), byte(BlockInSector(block)), byte(count)}
	if err := p.exchange(ctx, c, op, ServiceReadCard, args); err != nil {
		return nil, err
	}
	return p.takeResult(), nil
}

func (p *Programmer) writeContent(ctx context.Context, c *connection, cmd writeContentCmd) ([]byte, error) {
	card := p.Card()
	if card == nil {
		return nil, NewProtocolError(OpWriteContent, p.machine.State(), ErrNoCard)
	}
	old, ok := card.Content()
	if !ok {
		return nil, NewProtocolError(OpWriteContent, p.machine.State(), ErrContentUnknown)
	}

	image := spliceContent(old, cmd.content, cmd.start, cmd.ignorePreviousEnd)
	buf := bytes.Clone(image)
	if needsEndMarker(buf, cmd.ignoreEndMarker) {
		buf = append(buf, EndMarker)
	}
	buf = padToBlock(buf)

	firstBlock := int(cmd.start / BlockSize)
	for i := firstBlock * BlockSize; i < len(buf); i += BlockSize {
		block, err := BlockForOffset(uint(i))
		if err != nil {
			return nil, err
		}
		if err := p.writeBlock(ctx, c, OpWriteContent, block, buf[i:i+BlockSize]); err != nil {
			return nil, err
		}
	}

	stored := TrimContent(buf)
	if cmd.ignoreEndMarker {
		stored = image
	}
	p.setCard(card.WithContent(stored))
	return stored, nil
}

func (p *Programmer) eraseContent(ctx context.Context, c *connection, cmd eraseContentCmd) error {
	card := p.Card()
	if card == nil {
		return NewProtocolError(OpEraseContent, p.machine.State(), ErrNoCard)
	}
	old, ok := card.Content()
	if !ok {
		return NewProtocolError(OpEraseContent, p.machine.State(), ErrContentUnknown)
	}

	if cmd.start < UsableBytes {
		block, err := BlockForOffset(cmd.start)
		if err != nil {
			return err
		}

		// keep the bytes in front of start that share its block
		if keep := int(cmd.start % BlockSize); keep != 0 {
			data := make([]byte, BlockSize)
			base := int(cmd.start) - keep
			if base < len(old) {
				copy(data, old[base:min(int(cmd.start), len(old))])
			}
			if err := p.writeBlock(ctx, c, OpEraseContent, block, data); err != nil {
				return err
			}
			block = NextContentBlock(block)
		}

		zero := make([]byte, BlockSize)
		for ; block < Blocks; block = NextContentBlock(block) {
			if err := p.writeBlock(ctx, c, OpEraseContent, block, zero); err != nil {
				return err
			}
		}
	}

	if int(cmd.start) < len(old) {
		p.setCard(card.WithContent(TrimContent(old[:cmd.start])))
	}
	return nil
}

// writeBlock writes one 16 byte block. A refused command puts the protocol
// into the unknown state.
func (p *Programmer) writeBlock(ctx context.Context, c *connection, op string, block int, data []byte) error {
	args := make([]byte, 0, 2+BlockSize)
	args = append(args, byte(SectorOf(block)), byte(BlockInSector(block)))
	args = append(args, data...)

	err := p.exchange(ctx, c, op, ServiceWriteCard, args)
	if errors.Is(err, ErrOperationNotAllowed) {
		p.machine.service.MoveNext(ServiceFailure)
	}
	return err
}

// spliceContent places content at start within the old card image. Gaps are
// zero filled; the old tail survives unless ignorePreviousEnd is set.
func spliceContent(old, content []byte, start uint, ignorePreviousEnd bool) []byte {
	end := int(start) + len(content)
	size := end
	if !ignorePreviousEnd && len(old) > size {
		size = len(old)
	}

	image := make([]byte, size)
	copy(image, old[:min(int(start), len(old))])
	copy(image[start:], content)
	if !ignorePreviousEnd && len(old) > end {
		copy(image[end:], old[end:])
	}
	return image
}

func needsEndMarker(image []byte, ignoreEndMarker bool) bool {
	if ignoreEndMarker || len(image) >= UsableBytes {
		return false
	}
	return len(image) == 0 || image[len(image)-1] != EndMarker
}

func padToBlock(buf []byte) []byte {
	if rem := len(buf) % BlockSize; rem != 0 {
		buf = append(buf, make([]byte, BlockSize-rem)...)
	}
	return buf
}
