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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_Order(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	q.push(readContentCmd{}, writeContentCmd{start: 3})
	q.push(checkTrailersCmd{})
	assert.Equal(t, 3, q.len())
	assert.True(t, q.busy())

	var ops []string
	for {
		cmd, ok := q.pop()
		if !ok {
			break
		}
		ops = append(ops, cmd.op())
	}
	assert.Equal(t, []string{OpReadContent, OpWriteContent, OpCheckKeys}, ops)
	assert.True(t, q.busy(), "last popped command still running")

	q.finish()
	assert.False(t, q.busy())
}

func TestCommandQueue_WakeCoalesces(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	q.push(customCmd{text: "a"})
	q.push(customCmd{text: "b"})

	select {
	case <-q.wake():
	default:
		t.Fatal("expected a wake signal")
	}
	select {
	case <-q.wake():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestCommandQueue_Clear(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	q.push(readAccessBitsCmd{}, checkTrailersCmd{})
	assert.Equal(t, 2, q.clear())
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestCommandQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.push(checkTrailersCmd{})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 400, q.len())
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	line := []byte{'C', 0x12, 0x7F, 'o', 'k', '\n', 0xFF}
	assert.Equal(t, "C??ok??", sanitize(line, false))
	assert.Equal(t, "C??ok\n?", sanitize(line, true))
}

func TestOutputLog(t *testing.T) {
	t.Parallel()

	var o outputLog
	o.append("I")
	o.append("#card")
	assert.Equal(t, "I\n#card\n", o.String())
}

func TestOutputKind_MarshalText(t *testing.T) {
	t.Parallel()

	text, err := OutputService.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "service", string(text))
	assert.Equal(t, "unknown", OutputKind(9).String())
}
