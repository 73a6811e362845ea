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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Card is an immutable snapshot of the card on the programmer. Accessors
// return copies; updates create a new Card.
type Card struct {
	id         []byte
	content    []byte
	hasContent bool
}

// MinIDLength is the shortest UID a card can report.
const MinIDLength = 4

// NewCard creates a card whose content has not been read yet. The id must
// be at least MinIDLength bytes.
func NewCard(id []byte) (*Card, error) {
	if len(id) < MinIDLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCardID, len(id))
	}
	return &Card{id: bytes.Clone(id)}, nil
}

// WithContent returns a copy of c with known content.
func (c *Card) WithContent(content []byte) *Card {
	if content == nil {
		content = []byte{}
	}
	return &Card{id: bytes.Clone(c.id), content: bytes.Clone(content), hasContent: true}
}

// ID returns the card UID.
func (c *Card) ID() []byte {
	return bytes.Clone(c.id)
}

// IDHex returns the card UID as upper case hex.
func (c *Card) IDHex() string {
	return strings.ToUpper(hex.EncodeToString(c.id))
}

// Content returns the cached content and whether it is known.
func (c *Card) Content() ([]byte, bool) {
	if !c.hasContent {
		return nil, false
	}
	return bytes.Clone(c.content), true
}

// HasContent reports whether the content has been read.
func (c *Card) HasContent() bool {
	return c.hasContent
}

func (c *Card) String() string {
	if !c.hasContent {
		return fmt.Sprintf("card %s (content unknown)", c.IDHex())
	}
	return fmt.Sprintf("card %s (%d bytes)", c.IDHex(), len(c.content))
}

type cardJSON struct {
	Content *string `json:"content"`
	ID      string  `json:"id"`
}

// MarshalJSON encodes the card with hex strings; unknown content is null.
func (c *Card) MarshalJSON() ([]byte, error) {
	out := cardJSON{ID: c.IDHex()}
	if c.hasContent {
		s := strings.ToUpper(hex.EncodeToString(c.content))
		out.Content = &s
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal card: %w", err)
	}
	return data, nil
}

// SelectedKey chooses which trailer key authenticates card access
type SelectedKey byte

const (
	SelectKeyA SelectedKey = 'A'
	SelectKeyB SelectedKey = 'B'
)

// Valid reports whether k is A or B.
func (k SelectedKey) Valid() bool {
	return k == SelectKeyA || k == SelectKeyB
}

func (k SelectedKey) String() string {
	if !k.Valid() {
		return fmt.Sprintf("SelectedKey(%d)", byte(k))
	}
	return string(rune(k))
}

// Key and access bit sizes of a sector trailer.
const (
	KeyLength        = 6
	AccessBitsLength = 4
	TrailerLength    = KeyLength + AccessBitsLength + KeyLength
)

// Access holds the keys and access bits used for the card.
type Access struct {
	KeyA        [KeyLength]byte
	KeyB        [KeyLength]byte
	AccessBits  [AccessBitsLength]byte
	SelectedKey SelectedKey
}

// DefaultAccess returns the factory default transport keys.
func DefaultAccess() Access {
	return Access{
		KeyA:        [KeyLength]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		KeyB:        [KeyLength]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		AccessBits:  [AccessBitsLength]byte{0xFF, 0x07, 0x80, 0x69},
		SelectedKey: SelectKeyA,
	}
}

// NewAccess validates key lengths and builds an Access.
func NewAccess(keyA, keyB, accessBits []byte, sel SelectedKey) (Access, error) {
	if len(keyA) != KeyLength || len(keyB) != KeyLength || len(accessBits) != AccessBitsLength {
		return Access{}, fmt.Errorf("%w: got %d/%d/%d", ErrInvalidKeyLength, len(keyA), len(keyB), len(accessBits))
	}
	if !sel.Valid() {
		return Access{}, fmt.Errorf("%w: %v", ErrInvalidSelectedKey, sel)
	}
	var a Access
	copy(a.KeyA[:], keyA)
	copy(a.KeyB[:], keyB)
	copy(a.AccessBits[:], accessBits)
	a.SelectedKey = sel
	return a, nil
}

// AccessFromTrailer decodes a trailer block read from the card.
func AccessFromTrailer(trailer []byte, sel SelectedKey) (Access, error) {
	if len(trailer) < TrailerLength {
		return Access{}, fmt.Errorf("%w: trailer has %d bytes", ErrShortRead, len(trailer))
	}
	return NewAccess(
		trailer[:KeyLength],
		trailer[KeyLength+AccessBitsLength:TrailerLength],
		trailer[KeyLength:KeyLength+AccessBitsLength],
		sel,
	)
}

// Payload returns the argument bytes of the trailer commands:
// keyA, access bits, keyB and the selected key character.
func (a Access) Payload() []byte {
	payload := make([]byte, 0, TrailerLength+1)
	payload = append(payload, a.KeyA[:]...)
	payload = append(payload, a.AccessBits[:]...)
	payload = append(payload, a.KeyB[:]...)
	return append(payload, byte(a.SelectedKey))
}

type accessJSON struct {
	KeyA        string `json:"keyA"`
	KeyB        string `json:"keyB"`
	AccessBits  string `json:"accessBits"`
	SelectedKey string `json:"selectedKey"`
}

// MarshalJSON encodes the access record with upper case hex strings.
func (a Access) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(accessJSON{
		KeyA:        strings.ToUpper(hex.EncodeToString(a.KeyA[:])),
		KeyB:        strings.ToUpper(hex.EncodeToString(a.KeyB[:])),
		AccessBits:  strings.ToUpper(hex.EncodeToString(a.AccessBits[:])),
		SelectedKey: a.SelectedKey.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes an access record and rejects wrong key lengths.
func (a *Access) UnmarshalJSON(data []byte) error {
	var raw accessJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal access: %w", err)
	}

	keyA, err := decodeHex("keyA", raw.KeyA)
	if err != nil {
		return err
	}
	keyB, err := decodeHex("keyB", raw.KeyB)
	if err != nil {
		return err
	}
	bits, err := decodeHex("accessBits", raw.AccessBits)
	if err != nil {
		return err
	}
	if len(raw.SelectedKey) != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidSelectedKey, raw.SelectedKey)
	}

	decoded, err := NewAccess(keyA, keyB, bits, SelectedKey(raw.SelectedKey[0]))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// ParseHex decodes hex input, ignoring spaces.
func ParseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

func decodeHex(field, s string) ([]byte, error) {
	b, err := ParseHex(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}
