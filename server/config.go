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

import "time"

// mDNS registration values.
const (
	MDNSServiceType = "_rfidprog._tcp"
	MDNSDomain      = "local."
)

// Config holds the server configuration
type Config struct {
	Host        string
	ServiceName string
	// Secret, when set, must be passed as the secret query parameter of /ws.
	Secret string
	// CertFile and KeyFile enable TLS (wss) when both are set.
	CertFile        string
	KeyFile         string
	Port            int
	SendBuffer      int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MDNS            bool
}

// TLS reports whether the server is configured for TLS.
func (c Config) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Port:            18670,
		ServiceName:     "rfidprog",
		SendBuffer:      256,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}
