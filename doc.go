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

/*
Package rfidprog drives a MIFARE Classic card programmer: an Arduino running
the RfidWriter firmware, attached over a serial port.

High level operations (read, write and erase card content, manage sector
trailer keys, send raw commands) are turned into single CRLF terminated
command lines. The replies of the device drive a protocol state machine that
decides when a command has finished and whether it succeeded.

Features:
  - Serial transport through go.bug.st/serial with port detection
  - Content addressing that skips the manufacturer block and sector trailers
  - Echo verification of every command before it is executed
  - Key and access bit management for all 16 sectors
  - Raw command and text mode passthrough
  - Observer callbacks for state, card, access, output and command results

Basic Usage:

	import (
	    rfidprog "github.com/ZaparooProject/go-rfidprog"
	    "github.com/ZaparooProject/go-rfidprog/transport/uart"
	)

	prog, err := rfidprog.New(
	    rfidprog.WithTransportFactory(uart.Open),
	    rfidprog.WithObserver(rfidprog.Observer{
	        OnCommandDone: func(res rfidprog.CommandResult) {
	            fmt.Printf("%s done: %v %q\n", res.Op, res.Err, res.Data)
	        },
	    }),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer prog.Close()

	if err := prog.SwitchPort(rfidprog.DefaultPortConfig("/dev/ttyACM0")); err != nil {
	    log.Fatal(err)
	}

	// Once a card is on the reader
	if err := prog.ReadContent(0, 0); err != nil {
	    log.Fatal(err)
	}
	_ = prog.WaitIdle(ctx)

Operations:

Every operation checks its preconditions synchronously and returns an error
such as ErrNoPort, ErrNoCard or ErrOutOfRange without touching the device.
Otherwise the command is queued and runs on the worker goroutine of the open
port; its outcome is published through Observer.OnCommandDone.

Card Layout:

Content starts at block 1. Block 0 holds manufacturer data and block 3 of
every sector is a trailer with the sector keys, so 47 blocks (752 bytes) are
usable. Variable length content is terminated by EndMarker (0x04).

Error Handling:

Errors are classified with KindOf:

	switch rfidprog.KindOf(err) {
	case rfidprog.ErrorKindPrecondition:
	    // nothing was sent
	case rfidprog.ErrorKindTransport:
	    // the port was closed
	}

Thread Safety:

All exported methods of Programmer are safe for concurrent use. Observer
callbacks run on the worker goroutine and must not call ClosePort or
SwitchPort.
*/
package rfidprog
