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

package frame

import (
	"bytes"
	"fmt"
	"io"
)

// LineReader frames CRLF terminated lines from a byte source without
// blocking. The source is expected to return 0, nil when no bytes are pending
// (a serial port with a short read timeout behaves this way).
//
// The buffer never grows. When it fills up without a terminator the whole
// buffer is handed out as one line and a fresh buffer is started, so a single
// line longer than the buffer is split.
//
// Bytes already searched for a terminator are not searched again on the next
// poll.
type LineReader struct {
	src     io.Reader
	buf     []byte
	pos     int
	scanned int
}

// NewLineReader creates a line reader over src with the given buffer size.
// Sizes below MinBufferSize fall back to DefaultBufferSize.
func NewLineReader(src io.Reader, size int) *LineReader {
	if size < MinBufferSize {
		size = DefaultBufferSize
	}
	return &LineReader{src: src, buf: make([]byte, size)}
}

// Buffered returns the number of bytes waiting for a terminator.
func (r *LineReader) Buffered() int {
	return r.pos
}

// Size returns the capacity of the line buffer.
func (r *LineReader) Size() int {
	return len(r.buf)
}

// TryReadLine polls the source once and returns the next complete line, if
// any. Scanning for the terminator resumes where the previous poll stopped,
// or at skip when that is further in.
func (r *LineReader) TryReadLine(skip int) ([]byte, bool, error) {
	if r.pos < len(r.buf) {
		n, err := r.src.Read(r.buf[r.pos:])
		if n > 0 {
			r.pos += n
		}
		if err != nil && err != io.EOF {
			return nil, false, fmt.Errorf("line read failed: %w", err)
		}
	}

	if r.pos == 0 {
		return nil, false, nil
	}

	skip = max(skip, r.scanned, 0)
	if skip < r.pos {
		if idx := bytes.Index(r.buf[skip:r.pos], Terminator); idx >= 0 {
			end := skip + idx
			line := make([]byte, end)
			copy(line, r.buf[:end])
			rest := r.pos - end - len(Terminator)
			copy(r.buf, r.buf[end+len(Terminator):r.pos])
			r.pos = rest
			r.scanned = 0
			return line, true, nil
		}
	}

	if r.pos == len(r.buf) {
		line := r.buf
		r.buf = make([]byte, len(line))
		r.pos = 0
		r.scanned = 0
		return line, true, nil
	}

	// the last byte may be the first half of a terminator
	r.scanned = max(r.pos-len(Terminator)+1, 0)
	return nil, false, nil
}
