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
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// writeRequest is a write held until a card is placed
type writeRequest struct {
	ctx       context.Context
	result    chan error
	createdAt time.Time
	content   []byte
	keepTail  bool
	claimed   atomic.Bool
}

// WriteToNextCard waits for the next card placed on the reader and writes
// content from offset 0. A card already on the reader when the call is made
// does not count. It blocks until the write completes, times out or ctx is
// cancelled. Only one write can wait at a time; a concurrent call returns
// ErrWriteAlreadyPending straight away.
func (s *Session) WriteToNextCard(ctx context.Context, timeout time.Duration, content []byte, keepTail bool) error {
	if !s.running.Load() {
		return ErrSessionNotRunning
	}

	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &writeRequest{
		ctx:       writeCtx,
		result:    make(chan error, 1),
		createdAt: time.Now(),
		content:   append([]byte(nil), content...),
		keepTail:  keepTail,
	}
	if !s.pendingWrite.CompareAndSwap(nil, req) {
		return ErrWriteAlreadyPending
	}
	defer s.pendingWrite.CompareAndSwap(req, nil)

	select {
	case err := <-req.result:
		return err
	case <-writeCtx.Done():
		return writeCtx.Err()
	}
}

// HasPendingWrite reports whether a write waits for a card or is in progress
func (s *Session) HasPendingWrite() bool {
	return s.pendingWrite.Load() != nil
}

// startPendingWrite queues the pending write for the card just detected.
// It runs on the session goroutine. The request stays pending until its
// caller returns.
func (s *Session) startPendingWrite() bool {
	req := s.pendingWrite.Load()
	if req == nil || !req.claimed.CompareAndSwap(false, true) {
		return false
	}
	if err := req.ctx.Err(); err != nil {
		sendWriteResult(req, err)
		return false
	}

	if err := s.device.WriteContent(req.content, 0, !req.keepTail, false); err != nil {
		sendWriteResult(req, fmt.Errorf("write card: %w", err))
		return true
	}
	s.activeWrite = req
	s.stateMu.Lock()
	s.state.TransitionToWriting()
	s.stateMu.Unlock()
	return true
}

func (s *Session) completeActiveWrite(err error) {
	req := s.activeWrite
	s.activeWrite = nil
	if req == nil {
		return
	}
	if err != nil {
		err = fmt.Errorf("write card: %w", err)
	}
	sendWriteResult(req, err)
}

func (s *Session) failActiveWrite(err error) {
	if s.activeWrite != nil {
		s.completeActiveWrite(err)
	}
}

func sendWriteResult(req *writeRequest, err error) {
	select {
	case req.result <- err:
	default:
	}
}
