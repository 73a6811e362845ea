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

import "sync"

// Observer receives programmer notifications. Callbacks run synchronously
// on the goroutine that caused the change, usually the worker, and must not
// block. Nil callbacks are skipped.
type Observer struct {
	OnStateChanged  func(State)
	OnCardChanged   func(*Card)
	OnAccessChanged func(*Access)
	OnOutput        func(OutputEvent)
	OnCommandDone   func(CommandResult)
}

// CommandResult reports the outcome of a queued command
type CommandResult struct {
	Err  error
	Op   string
	Data []byte
}

type observerSet struct {
	subs   map[uint64]Observer
	mu     sync.RWMutex
	nextID uint64
}

func newObserverSet() *observerSet {
	return &observerSet{subs: make(map[uint64]Observer)}
}

func (s *observerSet) add(o Observer) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *observerSet) snapshot() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Observer, 0, len(s.subs))
	for _, o := range s.subs {
		out = append(out, o)
	}
	return out
}

func (s *observerSet) stateChanged(state State) {
	for _, o := range s.snapshot() {
		if o.OnStateChanged != nil {
			o.OnStateChanged(state)
		}
	}
}

func (s *observerSet) cardChanged(card *Card) {
	for _, o := range s.snapshot() {
		if o.OnCardChanged != nil {
			o.OnCardChanged(card)
		}
	}
}

func (s *observerSet) accessChanged(access *Access) {
	for _, o := range s.snapshot() {
		if o.OnAccessChanged != nil {
			o.OnAccessChanged(access)
		}
	}
}

func (s *observerSet) output(ev OutputEvent) {
	for _, o := range s.snapshot() {
		if o.OnOutput != nil {
			o.OnOutput(ev)
		}
	}
}

func (s *observerSet) commandDone(res CommandResult) {
	for _, o := range s.snapshot() {
		if o.OnCommandDone != nil {
			o.OnCommandDone(res)
		}
	}
}
