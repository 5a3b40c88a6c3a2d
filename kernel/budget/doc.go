// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package budget implements per-agent credit accounting.
//
// Every billable action kind has a policy-quoted cost in whole
// credits. A debit is check-and-decrement in one SQLite transaction
// with its ledger entry: either the balance covers the cost and both
// the decremented account and the committed entry persist, or the
// rejection is recorded with a failed entry and the balance is
// untouched. There is no window where interleaved debits can drive a
// balance negative, and every rejection carries a ledger reference.
//
// The register also watches debit velocity: a per-agent count of
// debit attempts over a rolling window. Exceeding the policy limit
// does not reject the debit — it emits an advisory anomaly signal
// that the guardian converts into quarantine decisions.
package budget
