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
	"fmt"
)

// Card memory layout of a 1K MIFARE Classic card as used by the programmer.
const (
	Sectors         = 16
	BlocksPerSector = 4
	Blocks          = Sectors * BlocksPerSector // 64
	BlockSize       = 16

	// UsableBlocks excludes every trailer and the manufacturer block.
	UsableBlocks = Sectors*(BlocksPerSector-1) - 1 // 47
	// UsableBytes is the size of the content address space.
	UsableBytes = UsableBlocks * BlockSize // 752
	// MaxContentBytes leaves room for the end marker.
	MaxContentBytes = UsableBytes - 1

	// EndMarker terminates variable length content on the card.
	EndMarker byte = 0x04

	trailerBlock      = BlocksPerSector - 1
	firstSectorBlocks = 2
	lastBlock         = Blocks - 1
)

// BlockForOffset returns the physical block holding the content byte at
// offset. Block 0 and all trailer blocks are skipped.
func BlockForOffset(offset uint) (int, error) {
	if offset >= UsableBytes {
		return 0, fmt.Errorf("%w: offset %d, capacity %d", ErrOutOfRange, offset, UsableBytes)
	}
	n := int(offset / BlockSize)
	if n < firstSectorBlocks {
		return n + 1, nil
	}
	n -= firstSectorBlocks
	return BlocksPerSector + n + n/(BlocksPerSector-1), nil
}

// SectorOf returns the sector a physical block belongs to.
func SectorOf(block int) int {
	return block / BlocksPerSector
}

// BlockInSector returns the index of a physical block within its sector.
func BlockInSector(block int) int {
	return block % BlocksPerSector
}

// IsTrailer reports whether block holds keys and access bits.
func IsTrailer(block int) bool {
	return block%BlocksPerSector == trailerBlock
}

// NextContentBlock returns the content block following block.
func NextContentBlock(block int) int {
	block++
	if IsTrailer(block) {
		block++
	}
	return block
}

// TrimContent cuts raw card content down to its logical length. All zero
// content is empty, content with an end marker ends before it, and otherwise
// trailing zero padding is removed.
func TrimContent(content []byte) []byte {
	if idx := bytes.IndexByte(content, EndMarker); idx >= 0 {
		return content[:idx:idx]
	}

	end := len(content)
	for end > 0 && content[end-1] == 0 {
		end--
	}
	return content[:end:end]
}
