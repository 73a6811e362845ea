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

package polling

import (
	"sync"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
)

type eventKind int

const (
	eventCard eventKind = iota
	eventState
	eventResult
)

type event struct {
	card   *rfidprog.Card
	result rfidprog.CommandResult
	kind   eventKind
	state  rfidprog.State
}

// eventQueue buffers observer callbacks so the programmer worker never
// waits for the session.
type eventQueue struct {
	signal chan struct{}
	items  []event
	mu     sync.Mutex
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) observer() rfidprog.Observer {
	return rfidprog.Observer{
		OnCardChanged: func(c *rfidprog.Card) {
			q.push(event{kind: eventCard, card: c})
		},
		OnStateChanged: func(s rfidprog.State) {
			q.push(event{kind: eventState, state: s})
		},
		OnCommandDone: func(res rfidprog.CommandResult) {
			q.push(event{kind: eventResult, result: res})
		},
	}
}
