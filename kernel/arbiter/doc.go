// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package arbiter is the sole authority over the system's operational
// mode.
//
// The mode (observe, alert, act, defend) is a singleton. Nothing else
// in the kernel mutates it; every change flows through
// [Arbiter.RequestModeChange], which evaluates an explicit transition
// table, an escalation-privilege policy, and an anti-thrash rule, and
// then applies the approved transition and its ledger entry in one
// transaction. Denied requests are recorded too, with the denial
// reason — a request is resolved exactly once and never retried
// automatically.
//
// The anti-thrash rule watches a trailing window of applied
// transitions. When the window is over the configured limit, every
// non-defend request is denied regardless of privilege: a system
// oscillating between postures is pushed toward defend rather than
// allowed to flap.
package arbiter
