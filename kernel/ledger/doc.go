// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger implements the append-only hash-chained action log.
//
// Every consequential action in the substrate — agent actions, budget
// debits, mode transitions, quarantines, checkpoints — is recorded as
// an [schema.Entry] whose hash covers its content and the hash of the
// preceding entry. The chain makes silent history rewrites detectable:
// an auditor re-derives every hash from sequence 1 and any mismatch
// pinpoints the first tampered entry.
//
// Appends are compare-and-swap on the chain tail. A caller observes
// the current tail, prepares an entry, and submits it with the
// expected tail hash; if another writer advanced the chain in between,
// the append is rejected with a concurrent-append error and the caller
// retries against the refreshed tail. Kernel components that mutate
// state and log in the same SQLite transaction use [Store.AppendTx]
// instead, where the transaction itself provides the serialization.
//
// Entry hashes are BLAKE3 keyed hashes with distinct domain keys for
// entry headers and payload bytes. Only the payload digest
// participates in the entry hash; the raw payload is stored alongside
// the entry so budget state can be reconstructed by replay.
package ledger
