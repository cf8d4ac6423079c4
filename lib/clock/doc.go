// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that backoff
// and idle-timeout logic can be tested without real waiting.
//
// Components hold a Clock field set to Real() in production:
//
//	policy := retry.Policy{Clock: clock.Real(), BaseDelay: 3 * time.Second}
//
// Tests substitute a FakeClock, wait until the code under test has
// registered its sleep or ticker, then move time forward:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go monitor.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// waiter and the test advancing past its deadline.
package clock
