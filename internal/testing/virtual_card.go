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
	"encoding/hex"
	"fmt"
)

// MIFARE Classic 1K geometry.
const (
	CardSectors     = 16
	BlocksPerSector = 4
	CardBlocks      = CardSectors * BlocksPerSector
	BlockSize       = 16
)

// DefaultTrailer is the factory trailer: key A, access bits, key B.
var DefaultTrailer = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // Key A
	0xFF, 0x07, 0x80, 0x69, // Access bits
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // Key B
}

// VirtualCard represents a simulated MIFARE Classic 1K card
type VirtualCard struct {
	UID    []byte
	Memory [][]byte // Block-based memory layout
}

// NewVirtualCard creates a blank card with default trailers
func NewVirtualCard(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestCardUID
	}

	card := &VirtualCard{
		UID:    append([]byte(nil), uid...),
		Memory: make([][]byte, CardBlocks),
	}

	// Block 0: UID (manufacturer block)
	card.Memory[0] = make([]byte, BlockSize)
	copy(card.Memory[0], card.UID)

	for i := 1; i < CardBlocks; i++ {
		card.Memory[i] = make([]byte, BlockSize)
	}
	for sector := 0; sector < CardSectors; sector++ {
		copy(card.Memory[TrailerBlock(sector)], DefaultTrailer)
	}
	return card
}

// TrailerBlock returns the trailer block number of sector
func TrailerBlock(sector int) int {
	return sector*BlocksPerSector + BlocksPerSector - 1
}

// UIDString returns the UID as a hex string
func (v *VirtualCard) UIDString() string {
	return hex.EncodeToString(v.UID)
}

// ReadBlock reads a specific memory block
func (v *VirtualCard) ReadBlock(block int) ([]byte, error) {
	if block < 0 || block >= len(v.Memory) {
		return nil, fmt.Errorf("block %d out of range", block)
	}

	// Return a copy to prevent modification
	data := make([]byte, BlockSize)
	copy(data, v.Memory[block])
	return data, nil
}

// WriteBlock writes a data block. The manufacturer block and trailers are
// protected; trailers change through SetTrailer.
func (v *VirtualCard) WriteBlock(block int, data []byte) error {
	if block <= 0 || block >= len(v.Memory) {
		return fmt.Errorf("block %d out of range", block)
	}
	if (block+1)%BlocksPerSector == 0 {
		return fmt.Errorf("block %d is a sector trailer", block)
	}
	if len(data) != BlockSize {
		return fmt.Errorf("data must be exactly %d bytes, got %d", BlockSize, len(data))
	}

	v.Memory[block] = make([]byte, BlockSize)
	copy(v.Memory[block], data)
	return nil
}

// SetTrailer replaces the trailer of sector
func (v *VirtualCard) SetTrailer(sector int, trailer []byte) error {
	if sector < 0 || sector >= CardSectors {
		return fmt.Errorf("sector %d out of range", sector)
	}
	if len(trailer) != BlockSize {
		return fmt.Errorf("trailer must be exactly %d bytes, got %d", BlockSize, len(trailer))
	}
	block := TrailerBlock(sector)
	v.Memory[block] = make([]byte, BlockSize)
	copy(v.Memory[block], trailer)
	return nil
}

// Content returns the data blocks in content order, skipping block 0 and
// all trailers.
func (v *VirtualCard) Content() []byte {
	var out []byte
	for block := 1; block < CardBlocks; block++ {
		if (block+1)%BlocksPerSector == 0 {
			continue
		}
		out = append(out, v.Memory[block]...)
	}
	return out
}
