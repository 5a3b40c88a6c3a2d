// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Amounts are int64 credits. Integer accounting keeps the
// check-and-decrement invariant exact; there is no float arithmetic
// anywhere in the kernel's money path.

// Account is the per-agent budget record. Remaining is derived, never
// stored: remaining = allocated − consumed, and the debit transaction
// guarantees it never goes negative.
type Account struct {
	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`

	// Allocated is the total credits granted to the agent.
	Allocated int64 `json:"allocated"`

	// Consumed is the total credits spent through accepted debits.
	Consumed int64 `json:"consumed"`
}

// Remaining returns allocated − consumed.
func (a Account) Remaining() int64 { return a.Allocated - a.Consumed }

// DebitResult is the outcome of a debit attempt. Both accepted and
// rejected debits are ledger-recorded, so LedgerSeq is always set.
type DebitResult struct {
	// Accepted reports whether the debit was applied. When false the
	// caller must not execute the underlying action.
	Accepted bool `json:"accepted"`

	// Remaining is the account balance after the attempt (unchanged
	// when rejected).
	Remaining int64 `json:"remaining"`

	// LedgerSeq references the ledger entry that recorded the
	// attempt.
	LedgerSeq uint64 `json:"ledger_seq"`
}
