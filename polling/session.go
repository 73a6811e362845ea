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

// Package polling runs a card session on top of a programmer: it reports
// cards as they come and go, reads their content and can hold a write for the
// next card placed on the reader.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
	itransport "github.com/ZaparooProject/go-rfidprog/internal/transport"
	"github.com/rs/zerolog/log"
)

// Device is the part of the programmer a session drives.
// *rfidprog.Programmer implements it.
type Device interface {
	State() rfidprog.State
	Card() *rfidprog.Card
	Observe(o rfidprog.Observer) (cancel func())
	ReadContent(start, length uint) error
	WriteContent(content []byte, start uint, ignorePreviousEnd, ignoreEndMarker bool) error
	SwitchPort(cfg rfidprog.PortConfig) error
}

// Config holds session configuration
type Config struct {
	// Port is reopened when Reconnect is set and the connection is lost.
	Port              rfidprog.PortConfig
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	MaxReconnects     int
	AutoRead          bool
	Reconnect         bool
}

// DefaultConfig returns the default session configuration
func DefaultConfig() *Config {
	return &Config{
		ReconnectInterval: time.Second,
		ConnectTimeout:    5 * time.Second,
		MaxReconnects:     5,
		AutoRead:          true,
	}
}

// Session errors
var (
	ErrSessionRunning      = errors.New("session is already running")
	ErrSessionNotRunning   = errors.New("session is not running")
	ErrWriteAlreadyPending = errors.New("write operation already pending")
	ErrReconnectFailed     = errors.New("reconnect failed")
)

// Session follows the cards placed on a programmer
type Session struct {
	device         Device
	config         *Config
	events         *eventQueue
	activeWrite    *writeRequest
	OnCardDetected func(card *rfidprog.Card) error
	OnCardRemoved  func()
	OnCardRead     func(card *rfidprog.Card) error
	OnError        func(err error)
	pendingWrite   atomic.Pointer[writeRequest]
	state          CardState
	stateMu        sync.RWMutex
	running        atomic.Bool
}

// NewSession creates a session for device
func NewSession(device Device, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		device: device,
		config: config,
		events: newEventQueue(),
	}
}

// GetState returns the current card state
func (s *Session) GetState() CardState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsRunning returns whether Start is active
func (s *Session) IsRunning() bool {
	return s.running.Load()
}

// Start follows the programmer until ctx is cancelled. It blocks and returns
// ctx.Err() on cancellation, or ErrReconnectFailed when a lost connection
// could not be restored.
func (s *Session) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)

	cancel := s.device.Observe(s.events.observer())
	defer cancel()
	defer s.failActiveWrite(ErrSessionNotRunning)

	if card := s.device.Card(); card != nil {
		s.handleCard(card)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.events.signal:
		}
		for _, ev := range s.events.drain() {
			if err := s.handleEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventCard:
		s.handleCard(ev.card)
	case eventResult:
		s.handleResult(ev.result)
	case eventState:
		return s.handleState(ctx)
	}
	return nil
}

func (s *Session) handleCard(card *rfidprog.Card) {
	s.stateMu.Lock()
	if card == nil {
		present := s.state.Present
		s.state.TransitionToIdle()
		s.stateMu.Unlock()
		s.failActiveWrite(rfidprog.ErrNoCard)
		if present && s.OnCardRemoved != nil {
			s.OnCardRemoved()
		}
		return
	}

	id := card.IDHex()
	if s.state.Present && s.state.LastID == id {
		s.stateMu.Unlock()
		return
	}
	s.state.TransitionToDetected(id)
	s.stateMu.Unlock()

	log.Debug().Str("card", id).Msg("card detected")
	if s.OnCardDetected != nil {
		if err := s.OnCardDetected(card); err != nil {
			s.reportError(fmt.Errorf("card detected callback: %w", err))
		}
	}

	if s.startPendingWrite() {
		return
	}
	if s.config.AutoRead {
		s.startRead()
	}
}

func (s *Session) startRead() {
	if err := s.device.ReadContent(0, 0); err != nil {
		s.reportError(fmt.Errorf("read card: %w", err))
		return
	}
	s.stateMu.Lock()
	s.state.TransitionToReading()
	s.stateMu.Unlock()
}

func (s *Session) handleResult(res rfidprog.CommandResult) {
	s.stateMu.Lock()
	detection := s.state.DetectionState
	s.stateMu.Unlock()

	switch detection {
	case StateReading:
		if res.Op != rfidprog.OpReadContent {
			return
		}
		s.finishOperation()
		if res.Err != nil {
			s.reportError(fmt.Errorf("read card: %w", res.Err))
			return
		}
		if s.OnCardRead != nil {
			if card := s.device.Card(); card != nil {
				if err := s.OnCardRead(card); err != nil {
					s.reportError(fmt.Errorf("card read callback: %w", err))
				}
			}
		}
	case StateWriting:
		// The implicit read of a write only reports failures.
		if res.Op == rfidprog.OpWriteContent || (res.Op == rfidprog.OpReadContent && res.Err != nil) {
			s.finishOperation()
			s.completeActiveWrite(res.Err)
		}
	default:
	}
}

func (s *Session) finishOperation() {
	s.stateMu.Lock()
	s.state.TransitionToDone()
	s.stateMu.Unlock()
}

// handleState looks at the current programmer state rather than the event
// value so stale events queued during a reconnect are harmless.
func (s *Session) handleState(ctx context.Context) error {
	if !s.config.Reconnect {
		return nil
	}
	switch s.device.State() {
	case rfidprog.StateUnknown, rfidprog.StateNotConnected:
	default:
		return nil
	}

	log.Warn().Str("port", s.config.Port.Port).Msg("programmer connection lost, reconnecting")
	if err := s.reconnect(ctx); err != nil {
		return err
	}
	log.Info().Str("port", s.config.Port.Port).Msg("programmer reconnected")
	return nil
}

func (s *Session) reconnect(ctx context.Context) error {
	attempts := 0
	err := itransport.Retry(ctx, itransport.RetryConfig{
		MaxRetries: s.config.MaxReconnects,
		RetryDelay: s.config.ReconnectInterval,
	}, func() (bool, error) {
		attempts++
		if err := s.device.SwitchPort(s.config.Port); err != nil {
			log.Debug().Err(err).Int("attempt", attempts).Msg("reconnect attempt failed")
			return false, nil
		}
		return s.waitConnected(ctx), nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, itransport.ErrAttemptsExhausted):
		return fmt.Errorf("%w after %d attempts", ErrReconnectFailed, attempts)
	default:
		return err
	}
}

func (s *Session) waitConnected(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()
	err := itransport.PollUntil(waitCtx, 5*time.Millisecond, nil, func() (bool, error) {
		return s.device.State() == rfidprog.StateConnected, nil
	})
	return err == nil
}

func (s *Session) reportError(err error) {
	log.Debug().Err(err).Msg("session error")
	if s.OnError != nil {
		s.OnError(err)
	}
}
