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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
)

// Outbound message types.
const (
	TypeState       = "state"
	TypeCard        = "card"
	TypeAccess      = "access"
	TypeOutput      = "output"
	TypeCommandDone = "commandDone"
	TypeResponse    = "response"
)

// Request types accepted from clients.
const (
	RequestReadContent    = rfidprog.OpReadContent
	RequestWriteContent   = rfidprog.OpWriteContent
	RequestEraseContent   = rfidprog.OpEraseContent
	RequestResetKeys      = rfidprog.OpResetKeys
	RequestUseKeys        = rfidprog.OpUseKeys
	RequestChangeKeys     = rfidprog.OpChangeKeys
	RequestCheckKeys      = rfidprog.OpCheckKeys
	RequestReadAccessBits = rfidprog.OpReadAccessBits
	RequestCustom         = rfidprog.OpCustom
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Payload any    `json:"payload"`
	Type    string `json:"type"`
}

// Request is a client request frame
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResponsePayload answers a request. Success means the operation was
// accepted and queued; its outcome follows as a commandDone message.
type ResponsePayload struct {
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Success bool   `json:"success"`
}

// StatePayload reports a protocol state change
type StatePayload struct {
	State       rfidprog.State `json:"state"`
	Description string         `json:"description"`
	Port        string         `json:"port,omitempty"`
}

// CommandDonePayload reports the outcome of a queued command
type CommandDonePayload struct {
	Op      string `json:"op"`
	Error   string `json:"error,omitempty"`
	Data    string `json:"data,omitempty"`
	Success bool   `json:"success"`
}

// OutputPayload carries the accumulated device output of the snapshot
type OutputPayload struct {
	Text string `json:"text"`
}

// ContentPayload addresses card content for readContent and eraseContent.
type ContentPayload struct {
	Start  uint `json:"start"`
	Length uint `json:"length"`
}

// WritePayload is the writeContent request. Content is hex; Text, when set,
// is written as is instead.
type WritePayload struct {
	IgnorePreviousEnd *bool  `json:"ignorePreviousEnd,omitempty"`
	Content           string `json:"content"`
	Text              string `json:"text,omitempty"`
	Start             uint   `json:"start"`
	IgnoreEndMarker   bool   `json:"ignoreEndMarker"`
}

func (p WritePayload) bytes() ([]byte, error) {
	if p.Text != "" {
		return []byte(p.Text), nil
	}
	b, err := rfidprog.ParseHex(p.Content)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	return b, nil
}

// ignorePreviousEnd defaults to true when omitted.
func (p WritePayload) ignorePreviousEnd() bool {
	return p.IgnorePreviousEnd == nil || *p.IgnorePreviousEnd
}

// CustomPayload is a raw command line
type CustomPayload struct {
	Text string `json:"text"`
}

func statePayload(s rfidprog.State, port string) StatePayload {
	return StatePayload{State: s, Description: s.Description(), Port: port}
}

func commandDonePayload(res rfidprog.CommandResult) CommandDonePayload {
	out := CommandDonePayload{Op: res.Op, Success: res.Err == nil}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if len(res.Data) > 0 {
		out.Data = strings.ToUpper(hex.EncodeToString(res.Data))
	}
	return out
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}
	return data, nil
}
