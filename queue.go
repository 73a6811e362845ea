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

// commandQueue is an unbounded FIFO with many producers and the worker as
// its only consumer.
type commandQueue struct {
	signal  chan struct{}
	items   []command
	mu      sync.Mutex
	running bool
}

func newCommandQueue() *commandQueue {
	return &commandQueue{signal: make(chan struct{}, 1)}
}

// push appends commands in order and wakes the worker.
func (q *commandQueue) push(cmds ...command) {
	q.mu.Lock()
	q.items = append(q.items, cmds...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop removes the head of the queue and marks it running.
func (q *commandQueue) pop() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.running = true
	return cmd, true
}

// finish marks the popped command as done.
func (q *commandQueue) finish() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// clear drops all queued commands and returns how many were dropped.
func (q *commandQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// len returns the number of queued commands.
func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// busy reports whether commands are queued or one is running.
func (q *commandQueue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.items) > 0
}

func (q *commandQueue) wake() <-chan struct{} {
	return q.signal
}
