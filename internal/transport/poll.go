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

// Package transport provides internal polling utilities shared by the
// programmer worker and its transports.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned by Retry when every attempt asked to retry.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// PollOperation represents one polling step.
// Returns: done, error
// - done: true once the awaited condition holds
// - error: any permanent error that should stop polling
type PollOperation func() (bool, error)

// PollUntil runs op until it reports done, returns an error or ctx ends.
// Between unsuccessful attempts it sleeps for interval, waking early when
// wake fires. A nil wake channel never fires.
func PollUntil(ctx context.Context, interval time.Duration, wake <-chan struct{}, op PollOperation) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := op()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := Sleep(ctx, interval, wake); err != nil {
			return err
		}
	}
}

// Sleep waits for interval, an early wake signal or ctx cancellation.
// Only cancellation is reported as an error.
func Sleep(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	if interval <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-timer.C:
		return nil
	}
}

// RetryConfig configures bounded retry behavior
type RetryConfig struct {
	OnRetry    func()
	MaxRetries int
	RetryDelay time.Duration
}

// Retry executes op until it reports done, fails or runs out of attempts.
func Retry(ctx context.Context, config RetryConfig, op PollOperation) error {
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		done, err := op()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if attempt >= config.MaxRetries {
			break
		}
		if config.OnRetry != nil {
			config.OnRetry()
		}
		if err := Sleep(ctx, config.RetryDelay, nil); err != nil {
			return err
		}
	}
	return ErrAttemptsExhausted
}
