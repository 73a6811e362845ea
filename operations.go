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
	"context"
	"fmt"
	"slices"
)

// SwitchPort closes any open connection and connects to cfg.Port. Zero
// fields of cfg take the defaults of DefaultPortConfig. The worker starts
// in Connecting and becomes Connected once the device reports ready.
func (p *Programmer) SwitchPort(cfg PortConfig) error {
	cfg = p.completePortConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ports, err := p.AvailablePorts()
	if err != nil {
		return err
	}
	if !slices.Contains(ports, cfg.Port) {
		return fmt.Errorf("%w: %s", ErrPortUnavailable, cfg.Port)
	}
	if p.config.TransportFactory == nil {
		return ErrNoTransportFactory
	}

	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	if err := p.closePort(); err != nil {
		debugf("closing previous port: %v", err)
	}

	t, err := p.config.TransportFactory(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		transport: t,
		cancel:    cancel,
		done:      make(chan struct{}),
		cfg:       cfg,
	}
	p.connMu.Lock()
	p.conn = c
	p.connMu.Unlock()

	debugEvent().Str("config", cfg.String()).Msg("port opened")
	go p.worker(ctx, c)
	return nil
}

func (p *Programmer) completePortConfig(cfg PortConfig) PortConfig {
	def := DefaultPortConfig(cfg.Port)
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = def.DataBits
	}
	if cfg.LineBufferSize == 0 {
		cfg.LineBufferSize = p.config.LineBufferSize
	}
	return cfg
}

// ClosePort stops the worker, waits for it, drops queued commands and clears
// the card. It must not be called from an Observer callback.
func (p *Programmer) ClosePort() error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()
	return p.closePort()
}

func (p *Programmer) closePort() error {
	p.connMu.Lock()
	c := p.conn
	p.conn = nil
	p.connMu.Unlock()

	if c == nil {
		p.queue.clear()
		return nil
	}

	c.cancel()
	<-c.done
	if n := p.queue.clear(); n > 0 {
		debugf("dropped %d queued commands", n)
	}
	p.setCard(nil)
	p.serviceMessage(msgSessionSeparator)

	if c.closeErr != nil {
		return NewTransportError("close", c.cfg.Port, c.closeErr)
	}
	return nil
}

// Close releases the port. The programmer can be reconnected afterwards.
func (p *Programmer) Close() error {
	return p.ClosePort()
}

func (p *Programmer) requirePort() error {
	if !p.IsConnected() {
		return ErrNoPort
	}
	return nil
}

func (p *Programmer) requireCard() (*Card, error) {
	if err := p.requirePort(); err != nil {
		return nil, err
	}
	card := p.Card()
	if card == nil {
		return nil, ErrNoCard
	}
	return card, nil
}

// ReadContent reads length content bytes from start and reports them in the
// CommandResult. A zero length reads up to the end marker and trims the
// result.
//
// Only ReadContent(0, 0) replaces the cached card content. Any read with a
// non-zero start or length leaves Card() untouched; the bytes it returns are
// not merged into the cache.
func (p *Programmer) ReadContent(start, length uint) error {
	if _, err := p.requireCard(); err != nil {
		return err
	}
	if start >= UsableBytes || start+length > UsableBytes {
		return fmt.Errorf("%w: start %d length %d", ErrOutOfRange, start, length)
	}
	p.queue.push(readContentCmd{start: start, length: length})
	return nil
}

// WriteContent writes content at start. The old content after the written
// range is kept unless ignorePreviousEnd is set, and an end marker is added
// unless ignoreEndMarker is set. Unknown card content is read first.
func (p *Programmer) WriteContent(content []byte, start uint, ignorePreviousEnd, ignoreEndMarker bool) error {
	card, err := p.requireCard()
	if err != nil {
		return err
	}
	if start+uint(len(content)) > UsableBytes {
		return fmt.Errorf("%w: %d bytes at offset %d", ErrContentTooLarge, len(content), start)
	}

	write := writeContentCmd{
		content:           bytes.Clone(content),
		start:             start,
		ignorePreviousEnd: ignorePreviousEnd,
		ignoreEndMarker:   ignoreEndMarker,
	}
	if !card.HasContent() {
		p.queue.push(readContentCmd{}, write)
		return nil
	}
	p.queue.push(write)
	return nil
}

// EraseContent zero fills the card from start to its end, keeping the bytes
// before start. Unknown card content is read first.
func (p *Programmer) EraseContent(start uint) error {
	card, err := p.requireCard()
	if err != nil {
		return err
	}
	if start > UsableBytes {
		return fmt.Errorf("%w: start %d", ErrOutOfRange, start)
	}

	if !card.HasContent() {
		p.queue.push(readContentCmd{}, eraseContentCmd{start: start})
		return nil
	}
	p.queue.push(eraseContentCmd{start: start})
	return nil
}

// ResetAccessAndKeys switches the programmer back to the default keys.
func (p *Programmer) ResetAccessAndKeys() error {
	if _, err := p.requireCard(); err != nil {
		return err
	}
	p.queue.push(setTrailersCmd{name: OpResetKeys, access: DefaultAccess()})
	return nil
}

// UseKeys tells the programmer which keys authenticate card access.
func (p *Programmer) UseKeys(keyA, keyB, accessBits []byte, sel SelectedKey) error {
	if err := p.requirePort(); err != nil {
		return err
	}
	access, err := NewAccess(keyA, keyB, accessBits, sel)
	if err != nil {
		return err
	}
	p.queue.push(setTrailersCmd{name: OpUseKeys, access: access})
	return nil
}

// ChangeKeys rewrites the trailers of the card with new keys and access bits.
func (p *Programmer) ChangeKeys(keyA, keyB, accessBits []byte, sel SelectedKey) error {
	if _, err := p.requireCard(); err != nil {
		return err
	}
	access, err := NewAccess(keyA, keyB, accessBits, sel)
	if err != nil {
		return err
	}
	p.queue.push(changeTrailersCmd{access: access})
	return nil
}

// CheckKeys verifies the keys in use against the card.
func (p *Programmer) CheckKeys() error {
	if _, err := p.requireCard(); err != nil {
		return err
	}
	p.queue.push(checkTrailersCmd{})
	return nil
}

// ReadAccessBits reads the keys and access bits from the card trailers.
func (p *Programmer) ReadAccessBits() error {
	if _, err := p.requireCard(); err != nil {
		return err
	}
	p.queue.push(readAccessBitsCmd{})
	return nil
}

// SendCustomCommand sends text to the device unchanged. A leading 'b'
// toggles byte mode. Empty text is ignored.
func (p *Programmer) SendCustomCommand(text string) error {
	if text == "" {
		return nil
	}
	if err := p.requirePort(); err != nil {
		return err
	}
	p.queue.push(customCmd{text: text})
	return nil
}
