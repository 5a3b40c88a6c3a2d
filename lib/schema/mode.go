// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// Mode is the system-wide operational posture. It governs what
// classes of action are permitted and is mutated only by the Arbiter.
type Mode string

const (
	// ModeObserve is passive monitoring, the default posture.
	ModeObserve Mode = "observe"

	// ModeAlert means an anomaly is suspected; heightened scrutiny.
	ModeAlert Mode = "alert"

	// ModeAct authorizes active intervention.
	ModeAct Mode = "act"

	// ModeDefend is the protective posture. Reachable from any mode;
	// leaving it requires operator confirmation.
	ModeDefend Mode = "defend"
)

// ParseMode validates a string as a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeObserve, ModeAlert, ModeAct, ModeDefend:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// ModeState is the singleton record of the current operational mode.
type ModeState struct {
	// Mode is the current operational mode.
	Mode Mode `json:"mode"`

	// EnteredAt is when the current mode was entered.
	EnteredAt time.Time `json:"entered_at"`

	// RecentTransitions is the count of transitions inside the
	// trailing anti-thrash window at the time the state was read.
	RecentTransitions int `json:"recent_transitions"`
}

// Resolution is the outcome of a mode-change request. A request is
// resolved exactly once and never mutated afterward; retrying means
// filing a new request.
type Resolution string

const (
	// ResolutionPending means the request has been recorded but not
	// yet evaluated. Requests are evaluated synchronously, so callers
	// never observe this state through the public surface.
	ResolutionPending Resolution = "pending"

	// ResolutionApproved means the transition was applied.
	ResolutionApproved Resolution = "approved"

	// ResolutionDenied means the transition was rejected; Reason
	// explains why.
	ResolutionDenied Resolution = "denied"
)

// ModeChangeRequest records one request to change the operational
// mode, with its resolution.
type ModeChangeRequest struct {
	// ID uniquely identifies the request.
	ID string `json:"id"`

	// Requester identifies who asked.
	Requester string `json:"requester"`

	// RequesterClass is the privilege class the requester held.
	RequesterClass CallerClass `json:"requester_class"`

	// From is the mode at evaluation time.
	From Mode `json:"from"`

	// Target is the requested mode.
	Target Mode `json:"target"`

	// Justification is the requester's stated reason.
	Justification string `json:"justification"`

	// SubmittedAt is when the request was filed.
	SubmittedAt time.Time `json:"submitted_at"`

	// Resolution is the final decision.
	Resolution Resolution `json:"resolution"`

	// Reason is a human-readable explanation for a denial. Empty for
	// approvals.
	Reason string `json:"reason,omitempty"`

	// LedgerSeq references the ledger entry that recorded the
	// decision.
	LedgerSeq uint64 `json:"ledger_seq"`
}
