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

// Package fsm provides a small table driven state machine that accepts
// transitions from several independent event alphabets.
//
// A Machine owns the current state. Each Alphabet is bound to one machine and
// holds an ordered list of transitions for a single event type. Lookups return
// the first registered transition whose source state matches (exactly or as a
// global transition), whose event matches and whose guard accepts it.
package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoTransition is returned by MoveNextOrFail when no transition applies.
var ErrNoTransition = errors.New("no transition for event")

// Guard decides whether a candidate transition may be taken.
type Guard[S, E comparable] func(from, to S, ev E) bool

// Action runs once for a taken transition, before the new state is published.
type Action[S, E comparable] func(from, to S, ev E)

// Machine holds the current state shared by all alphabets bound to it.
//
// Transitions are expected to be fired from a single goroutine. State may be
// read from any goroutine.
type Machine[S comparable] struct {
	onChange func(S)
	state    S
	mu       sync.RWMutex
}

// NewMachine creates a machine in the given initial state.
func NewMachine[S comparable](initial S) *Machine[S] {
	return &Machine[S]{state: initial}
}

// OnChange registers the observer called whenever the state value changes.
// The observer runs synchronously on the goroutine that fired the transition.
func (m *Machine[S]) OnChange(fn func(S)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine[S]) set(next S) {
	m.mu.Lock()
	changed := m.state != next
	m.state = next
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(next)
	}
}

type transition[S, E comparable] struct {
	from   *S
	to     *S
	guard  Guard[S, E]
	action Action[S, E]
	event  E
}

func (t *transition[S, E]) target(current S) S {
	if t.to == nil {
		return current
	}
	return *t.to
}

// Alphabet is the transition table for one event type.
type Alphabet[S, E comparable] struct {
	machine     *Machine[S]
	transitions []transition[S, E]
}

// NewAlphabet binds a new, empty event alphabet to m.
func NewAlphabet[S, E comparable](m *Machine[S]) *Alphabet[S, E] {
	return &Alphabet[S, E]{machine: m}
}

// Add registers a transition from one state to another.
func (a *Alphabet[S, E]) Add(from, to S, ev E, guard Guard[S, E], action Action[S, E]) {
	a.transitions = append(a.transitions, transition[S, E]{
		from: &from, to: &to, event: ev, guard: guard, action: action,
	})
}

// AddLoop registers a self transition.
func (a *Alphabet[S, E]) AddLoop(state S, ev E, guard Guard[S, E], action Action[S, E]) {
	a.Add(state, state, ev, guard, action)
}

// AddGlobal registers a transition that applies in any state.
func (a *Alphabet[S, E]) AddGlobal(to S, ev E, guard Guard[S, E], action Action[S, E]) {
	a.transitions = append(a.transitions, transition[S, E]{
		to: &to, event: ev, guard: guard, action: action,
	})
}

// AddGlobalIgnore registers a transition that matches in any state but never
// changes it. The guard can still veto the match.
func (a *Alphabet[S, E]) AddGlobalIgnore(ev E, guard Guard[S, E]) {
	a.transitions = append(a.transitions, transition[S, E]{event: ev, guard: guard})
}

func (a *Alphabet[S, E]) lookup(current S, ev E) *transition[S, E] {
	for i := range a.transitions {
		t := &a.transitions[i]
		if t.from != nil && *t.from != current {
			continue
		}
		if t.event != ev {
			continue
		}
		if t.guard != nil && !t.guard(current, t.target(current), ev) {
			continue
		}
		return t
	}
	return nil
}

// HasNext reports whether ev would match a transition in the current state.
func (a *Alphabet[S, E]) HasNext(ev E) bool {
	return a.lookup(a.machine.State(), ev) != nil
}

// MoveNext fires ev. It returns false and leaves the state untouched when no
// transition matches.
func (a *Alphabet[S, E]) MoveNext(ev E) bool {
	current := a.machine.State()
	t := a.lookup(current, ev)
	if t == nil {
		return false
	}
	if t.to == nil {
		return true
	}

	next := *t.to
	if t.action != nil {
		t.action(current, next, ev)
	}
	a.machine.set(next)
	return true
}

// MoveNextOrFail fires ev and returns an error wrapping ErrNoTransition when
// no transition matches.
func (a *Alphabet[S, E]) MoveNextOrFail(ev E) error {
	if !a.MoveNext(ev) {
		return fmt.Errorf("%w: %v in state %v", ErrNoTransition, ev, a.machine.State())
	}
	return nil
}
