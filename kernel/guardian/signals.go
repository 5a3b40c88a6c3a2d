// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package guardian

import "time"

// SignalKind classifies the behavioral signals the guardian consumes.
type SignalKind string

const (
	// SignalDebitVelocity reports that an agent's debit rate exceeded
	// the policy velocity limit. The budget register applies the
	// threshold; receiving this signal always fires the quarantine
	// rule.
	SignalDebitVelocity SignalKind = "debit_velocity"

	// SignalBudgetRejected reports an insufficient-budget debit
	// rejection. Consecutive rejections past the policy limit fire.
	SignalBudgetRejected SignalKind = "budget_rejected"

	// SignalDebitAccepted reports an accepted debit. Resets the
	// rejection streak.
	SignalDebitAccepted SignalKind = "debit_accepted"

	// SignalModeDenied reports a denied mode-change request.
	// Consecutive denials past the policy limit fire.
	SignalModeDenied SignalKind = "mode_denied"

	// SignalModeApproved reports an approved mode-change request.
	// Resets the denial streak.
	SignalModeApproved SignalKind = "mode_approved"
)

// Signal is one behavioral observation about an agent.
type Signal struct {
	// Kind classifies the observation.
	Kind SignalKind

	// Observed is the measured value for threshold signals (the
	// debit count for velocity anomalies). Zero otherwise.
	Observed int

	// Window is the measurement window for threshold signals.
	Window time.Duration
}

// Decision is the outcome of evaluating a signal.
type Decision struct {
	// Quarantined reports whether a rule fired and the agent is now
	// quarantined.
	Quarantined bool

	// Provisional reports that evaluation overran its time budget
	// and the action was allowed pending review. When set,
	// Quarantined is false and FlagSeq references the review flag.
	Provisional bool

	// Rule names the rule that fired, when one did.
	Rule string

	// FlagSeq is the ledger sequence of the review flag entry for
	// provisional decisions.
	FlagSeq uint64
}

// verdict is the internal result of running the rules for a signal.
type verdict struct {
	fire   bool
	rule   string
	reason string
}

// RuleFunc is an optional external rule consulted on every signal,
// after the built-in rules. It returns whether to quarantine, and the
// rule name and reason when it fires. A slow RuleFunc is what pushes
// evaluation past its time budget.
type RuleFunc func(agentID string, signal Signal) (fire bool, rule, reason string)
