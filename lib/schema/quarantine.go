// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// QuarantineStatus is the state of a quarantine record.
type QuarantineStatus string

const (
	// QuarantineActive means the agent is currently isolated.
	QuarantineActive QuarantineStatus = "active"

	// QuarantineReleased means a privileged override or expiry policy
	// lifted the quarantine.
	QuarantineReleased QuarantineStatus = "released"

	// QuarantineEscalated means the quarantine was escalated to
	// termination.
	QuarantineEscalated QuarantineStatus = "escalated"
)

// QuarantineRecord documents one quarantine decision. Repeat triggers
// against an already-quarantined agent accumulate onto the active
// record's Reason rather than opening a second record.
type QuarantineRecord struct {
	// AgentID is the quarantined agent.
	AgentID string `json:"agent_id"`

	// Rule names the guardian rule that fired (e.g.,
	// "debit_velocity", "mode_denial_streak", "manual").
	Rule string `json:"rule"`

	// Reason is the human-readable explanation. Accumulates on
	// repeat triggers, separated by "; ".
	Reason string `json:"reason"`

	// Status is the record's current state.
	Status QuarantineStatus `json:"status"`

	// QuarantinedAt is when the quarantine took effect.
	QuarantinedAt time.Time `json:"quarantined_at"`

	// ReleasedAt is when the quarantine was lifted, if it was.
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	// LedgerSeq references the ledger entry that recorded the
	// quarantine.
	LedgerSeq uint64 `json:"ledger_seq"`
}

// Checkpoint designates a ledger sequence number as "last known
// good". Rollback never deletes entries — it changes which checkpoint
// downstream readers treat as authoritative, and reconstruction is
// defined as replaying the ledger up to the active checkpoint.
type Checkpoint struct {
	// ID uniquely identifies the checkpoint.
	ID string `json:"id"`

	// Sequence is the ledger position the checkpoint names.
	Sequence uint64 `json:"sequence"`

	// CreatedBy identifies the operator who created it.
	CreatedBy string `json:"created_by"`

	// CreatedAt is when the checkpoint was created.
	CreatedAt time.Time `json:"created_at"`

	// Description is a human-readable label.
	Description string `json:"description"`
}
