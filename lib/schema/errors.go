// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// ErrorCode classifies kernel errors. Every rejection the kernel
// surfaces carries one of these codes, a human-readable reason, and a
// reference to the ledger entry (if any) that recorded the attempt.
type ErrorCode string

const (
	// CodeConcurrentAppend means another writer advanced the ledger
	// tail since the caller last observed it. Retryable with the
	// refreshed tail.
	CodeConcurrentAppend ErrorCode = "concurrent_append_conflict"

	// CodeUnknownActionKind means the cost table has no entry for the
	// requested action kind.
	CodeUnknownActionKind ErrorCode = "unknown_action_kind"

	// CodeInsufficientBudget means the debit would drive the account
	// negative. Not retryable without reallocation.
	CodeInsufficientBudget ErrorCode = "insufficient_budget"

	// CodeInvalidTransition means the requested mode is not reachable
	// from the current mode in the transition table.
	CodeInvalidTransition ErrorCode = "invalid_transition"

	// CodeArbitrationDenied means the transition table permits the
	// move but policy rejected it (privilege or anti-thrash).
	CodeArbitrationDenied ErrorCode = "arbitration_denied"

	// CodeAgentQuarantined means the calling agent is quarantined.
	// Terminal for that agent until manual release.
	CodeAgentQuarantined ErrorCode = "agent_quarantined"

	// CodeAgentTerminated means the calling agent is terminated.
	// Permanent.
	CodeAgentTerminated ErrorCode = "agent_terminated"

	// CodeChainVerification means the hash chain is broken. Fatal;
	// surfaced to auditors and never auto-corrected.
	CodeChainVerification ErrorCode = "chain_verification_failure"

	// CodeUnknownAgent means no agent with the given ID is
	// registered.
	CodeUnknownAgent ErrorCode = "unknown_agent"

	// CodePermissionDenied means the caller's class does not hold the
	// privilege the operation requires.
	CodePermissionDenied ErrorCode = "permission_denied"
)

// KernelError is the structured error for every kernel rejection.
// Callers extract it with errors.As or test a code with [IsCode]:
//
//	var kerr *schema.KernelError
//	if errors.As(err, &kerr) && kerr.Code == schema.CodeInsufficientBudget { ... }
type KernelError struct {
	// Code classifies the rejection.
	Code ErrorCode

	// Reason is the human-readable explanation.
	Reason string

	// LedgerSeq references the ledger entry that recorded the
	// attempt, when one exists. Zero when the rejection occurred
	// before anything was logged (e.g., an append conflict).
	LedgerSeq uint64
}

func (e *KernelError) Error() string {
	if e.LedgerSeq != 0 {
		return fmt.Sprintf("%s: %s (ledger seq %d)", e.Code, e.Reason, e.LedgerSeq)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// NewError constructs a KernelError with no ledger reference.
func NewError(code ErrorCode, format string, args ...any) *KernelError {
	return &KernelError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// NewLoggedError constructs a KernelError referencing the ledger
// entry that recorded the attempt.
func NewLoggedError(code ErrorCode, seq uint64, format string, args ...any) *KernelError {
	return &KernelError{Code: code, Reason: fmt.Sprintf(format, args...), LedgerSeq: seq}
}

// IsCode reports whether err is (or wraps) a KernelError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var kernelErr *KernelError
	if errors.As(err, &kernelErr) {
		return kernelErr.Code == code
	}
	return false
}

// ErrSeq extracts the ledger sequence from a KernelError, or zero.
func ErrSeq(err error) uint64 {
	var kernelErr *KernelError
	if errors.As(err, &kernelErr) {
		return kernelErr.LedgerSeq
	}
	return 0
}
