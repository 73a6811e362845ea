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

package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// client is one websocket connection. All writes go through the send queue
// and a single writer goroutine.
type client struct {
	conn   *websocket.Conn
	queue  chan []byte
	id     string
	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn, buffer int) *client {
	if buffer <= 0 {
		buffer = 1
	}
	return &client{id: id, conn: conn, queue: make(chan []byte, buffer)}
}

// send queues data without blocking. Messages for a client that cannot keep
// up are dropped.
func (c *client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- data:
	default:
		log.Warn().Str("client", c.id).Msg("client too slow, message dropped")
	}
}

func (c *client) push(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("client", c.id).Msg("encode failed")
		return
	}
	c.send(data)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *client) writePump(timeout time.Duration) {
	for data := range c.queue {
		if timeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("websocket write failed")
			_ = c.conn.Close()
			for range c.queue {
			}
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
