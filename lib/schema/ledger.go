// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Hash is a 32-byte BLAKE3 digest. Entry hashes, chain links, and
// payload digests are all this size. Hashes serialize as lowercase
// hex text (64 characters) in both CBOR and JSON.
type Hash [32]byte

// IsZero reports whether the hash is all zeroes. The first ledger
// entry has a zero PrevHash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the hex encoding of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// ActionKind names a class of agent action. Costs are quoted per
// action kind from the policy cost table. Kernel-internal decisions
// (registration, transitions, quarantine) use reserved kinds with the
// "kernel/" prefix, which never appear in the cost table.
type ActionKind string

// Reserved kernel action kinds. These record kernel decisions in the
// ledger; they are not billable agent actions.
const (
	KindAgentRegistered  ActionKind = "kernel/agent_registered"
	KindBudgetAllocated  ActionKind = "kernel/budget_allocated"
	KindBudgetDebit      ActionKind = "kernel/budget_debit"
	KindModeTransition   ActionKind = "kernel/mode_transition"
	KindModeDenied       ActionKind = "kernel/mode_denied"
	KindQuarantine       ActionKind = "kernel/quarantine"
	KindQuarantineLifted ActionKind = "kernel/quarantine_lifted"
	KindTermination      ActionKind = "kernel/termination"
	KindCheckpoint       ActionKind = "kernel/checkpoint"
	KindRollback         ActionKind = "kernel/rollback"
	KindReviewFlag       ActionKind = "kernel/review_flag"
	KindReviewResolved   ActionKind = "kernel/review_resolved"
)

// Outcome records what a ledger entry witnesses about its action.
type Outcome string

const (
	// OutcomeIntent records that an action was declared before
	// execution. An intent without a later matching committed or
	// failed entry is diagnostic information for the auditor, not a
	// condition the kernel repairs.
	OutcomeIntent Outcome = "intent"

	// OutcomeCommitted records that the action (or kernel decision)
	// took effect.
	OutcomeCommitted Outcome = "committed"

	// OutcomeFailed records that the action was attempted and
	// rejected or failed. Rejected debits and denied mode requests
	// are recorded with this outcome so every rejection has a ledger
	// reference.
	OutcomeFailed Outcome = "failed"
)

// ParseOutcome validates a string as an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeIntent, OutcomeCommitted, OutcomeFailed:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Entry is one immutable record in the hash-chained ledger.
//
// The entry hash is BLAKE3 (keyed, ledger-entry domain) over the
// deterministic CBOR encoding of (sequence, actor, action_kind,
// payload_digest, timestamp_ns, outcome, prev_hash). For every entry
// except the first, PrevHash equals the hash of the preceding entry;
// any mismatch signals tampering.
type Entry struct {
	// Sequence is the monotonically assigned position in the chain,
	// starting at 1.
	Sequence uint64 `json:"sequence"`

	// Actor is the agent or operator the entry is about.
	Actor string `json:"actor"`

	// ActionKind classifies the recorded action.
	ActionKind ActionKind `json:"action_kind"`

	// PayloadDigest is the BLAKE3 digest of the raw payload bytes.
	// Only the digest participates in the entry hash; the payload
	// itself is stored alongside the entry for replay.
	PayloadDigest Hash `json:"payload_digest"`

	// TimestampNS is the entry creation time in Unix nanoseconds.
	// An integer rather than time.Time so the canonical encoding has
	// exactly one representation.
	TimestampNS int64 `json:"timestamp_ns"`

	// Outcome is what this entry witnesses.
	Outcome Outcome `json:"outcome"`

	// PrevHash links to the preceding entry. Zero for sequence 1.
	PrevHash Hash `json:"prev_hash"`

	// Hash is the entry's own content hash.
	Hash Hash `json:"hash"`
}

// Time returns the entry timestamp as a time.Time.
func (e Entry) Time() time.Time { return time.Unix(0, e.TimestampNS) }
