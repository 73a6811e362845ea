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

package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light int

const (
	off light = iota
	on
	broken
)

type button int

const (
	press button = iota
	kick
)

type signal string

const (
	repair signal = "repair"
	noise  signal = "noise"
)

func newLamp() (*Machine[light], *Alphabet[light, button], *Alphabet[light, signal]) {
	m := NewMachine(off)
	buttons := NewAlphabet[light, button](m)
	signals := NewAlphabet[light, signal](m)
	return m, buttons, signals
}

func TestMoveNext_NoTransition(t *testing.T) {
	t.Parallel()

	m, buttons, _ := newLamp()
	buttons.Add(on, off, press, nil, nil)

	assert.False(t, buttons.MoveNext(press))
	assert.Equal(t, off, m.State())
	assert.False(t, buttons.HasNext(press))
}

func TestMoveNext_FirstMatchWins(t *testing.T) {
	t.Parallel()

	m, buttons, _ := newLamp()
	var hits []string
	buttons.Add(off, on, press, nil, func(_, _ light, _ button) { hits = append(hits, "first") })
	buttons.Add(off, broken, press, nil, func(_, _ light, _ button) { hits = append(hits, "second") })

	require.True(t, buttons.MoveNext(press))
	assert.Equal(t, on, m.State())
	assert.Equal(t, []string{"first"}, hits)
}

func TestMoveNext_GuardSkipsToNextCandidate(t *testing.T) {
	t.Parallel()

	m, buttons, _ := newLamp()
	allowed := false
	var seenTo []light
	buttons.Add(off, on, press, func(_, to light, _ button) bool {
		seenTo = append(seenTo, to)
		return allowed
	}, nil)
	buttons.AddLoop(off, press, nil, nil)

	require.True(t, buttons.MoveNext(press))
	assert.Equal(t, off, m.State())
	assert.Equal(t, []light{on}, seenTo)

	allowed = true
	require.True(t, buttons.MoveNext(press))
	assert.Equal(t, on, m.State())
}

func TestMoveNext_GlobalAndAlphabetsShareState(t *testing.T) {
	t.Parallel()

	m, buttons, signals := newLamp()
	buttons.AddGlobal(broken, kick, nil, nil)
	signals.Add(broken, off, repair, nil, nil)

	for _, start := range []light{off, on} {
		m.set(start)
		require.True(t, buttons.MoveNext(kick))
		assert.Equal(t, broken, m.State())
	}

	require.True(t, signals.MoveNext(repair))
	assert.Equal(t, off, m.State())
}

func TestMoveNext_IgnoreTransition(t *testing.T) {
	t.Parallel()

	m, _, signals := newLamp()
	changes := 0
	m.OnChange(func(light) { changes++ })
	signals.AddGlobalIgnore(noise, nil)
	signals.AddGlobal(broken, noise, nil, nil)

	require.True(t, signals.MoveNext(noise))
	assert.Equal(t, off, m.State())
	assert.Zero(t, changes)
}

func TestMoveNext_IgnoreGuardVeto(t *testing.T) {
	t.Parallel()

	m, _, signals := newLamp()
	signals.AddGlobalIgnore(noise, func(from, to light, _ signal) bool {
		return from == to && from == on
	})
	signals.AddGlobal(broken, noise, nil, nil)

	require.True(t, signals.MoveNext(noise))
	assert.Equal(t, broken, m.State())
}

func TestOnChange_FiresOnlyOnDifferentValue(t *testing.T) {
	t.Parallel()

	m, buttons, _ := newLamp()
	var published []light
	m.OnChange(func(s light) { published = append(published, s) })

	actionState := light(-1)
	buttons.AddLoop(off, kick, nil, nil)
	buttons.Add(off, on, press, nil, func(_, _ light, _ button) { actionState = m.State() })

	require.True(t, buttons.MoveNext(kick))
	assert.Empty(t, published)

	require.True(t, buttons.MoveNext(press))
	assert.Equal(t, []light{on}, published)
	assert.Equal(t, off, actionState, "action runs before the state is published")
}

func TestMoveNextOrFail(t *testing.T) {
	t.Parallel()

	_, buttons, _ := newLamp()
	buttons.Add(off, on, press, nil, nil)

	require.NoError(t, buttons.MoveNextOrFail(press))
	err := buttons.MoveNextOrFail(press)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTransition))
}
