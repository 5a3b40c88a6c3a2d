// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel composes the constraint-enforcement kernel: the
// hash-chained ledger, the budget register, the mode arbiter, and the
// guardian, all sharing one SQLite database.
//
// The composition wires the behavioral feedback paths the components
// expose as callbacks: budget velocity anomalies, debit outcomes, and
// mode-request resolutions all flow into guardian rule evaluation.
// Every agent-facing operation passes the guardian's status gate
// before any cost or mode logic runs.
package kernel
