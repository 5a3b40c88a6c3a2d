// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Kernel code never calls time.Now, time.After, time.NewTicker,
// time.AfterFunc, or time.Sleep directly — it accepts a Clock and uses
// that. In production, Real() provides standard library behavior. In
// tests, Fake() provides a deterministic clock that advances only when
// Advance is called, which is how the anti-thrash window, the debit
// velocity window, and the Guardian's re-review deadline are tested
// without wall-clock sleeps.
//
// Wiring pattern:
//
//	type Guardian struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	g := NewGuardian(..., c)
//	c.WaitForTimers(1)            // re-review timer registered
//	c.Advance(30 * time.Second)   // deadline fires deterministically
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing the clock; no test in this repository
// synchronizes on time.Sleep.
package clock
