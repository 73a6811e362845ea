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
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	debugEnabled atomic.Bool
	logger       atomic.Pointer[zerolog.Logger]
)

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "rfidprog").Logger()
	logger.Store(&l)
}

// SetDebugEnabled toggles debug output of the programmer engine.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// SetLogger replaces the sink used for debug and error logging.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

func currentLogger() *zerolog.Logger {
	return logger.Load()
}

// debugf logs a formatted debug message when debugging is enabled
func debugf(format string, args ...any) {
	if debugEnabled.Load() {
		currentLogger().Debug().Msgf(format, args...)
	}
}

// debugln logs a debug message when debugging is enabled
func debugln(args ...any) {
	if debugEnabled.Load() {
		currentLogger().Debug().Msg(fmt.Sprint(args...))
	}
}

// debugEvent returns a debug event for structured fields, or nil when
// debugging is off. zerolog treats methods on a nil event as no-ops.
func debugEvent() *zerolog.Event {
	if !debugEnabled.Load() {
		return nil
	}
	return currentLogger().Debug()
}

func errorEvent() *zerolog.Event {
	return currentLogger().Error()
}
