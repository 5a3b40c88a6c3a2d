// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardian polices agent behavior and holds the authority
// over agent status.
//
// The guardian consumes signals — debit velocity anomalies,
// insufficient-budget rejections, mode-request denials — and applies
// configured rules. A fired rule quarantines the agent: its status
// flips, a quarantine record opens, and a ledger entry documents the
// decision, all in one transaction. Quarantine is structural: the
// kernel consults [Guardian.CheckActive] before any budget or mode
// logic runs, so a quarantined agent's requests fail at the door.
//
// Rule evaluation is bounded. When a signal's evaluation exceeds the
// policy time budget, the triggering action is provisionally allowed
// and a review flag is appended to the ledger; the evaluation keeps
// running in the background. A verdict arriving before the review
// deadline resolves the flag; a flag still unresolved at the deadline
// escalates to automatic quarantine. Availability wins in the moment,
// but nothing escapes review.
//
// The guardian also owns checkpoints. A checkpoint names a ledger
// position as "last known good"; rollback marks one checkpoint
// active, which redefines budget reconstruction as "replay the ledger
// up to that sequence". History is never rewritten.
package guardian
