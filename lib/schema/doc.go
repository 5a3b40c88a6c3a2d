// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the record types the kernel owns and the
// error taxonomy it surfaces.
//
// Five entity families are defined here: agents, budget accounts,
// ledger entries, mode state (with mode-change requests), and
// quarantine records with checkpoints. The kernel exclusively owns
// all of them — external collaborators only ever see these types as
// values returned through kernel operations, never as handles to
// stored state.
//
// # Struct Tag Rules
//
// Types in this package carry `json` struct tags. fxamacker/cbor v2
// reads `json` tags as fallback when `cbor` tags are absent, so a
// single tag controls field naming for both the CBOR socket protocol
// and CLI --json output. Types that are only ever CBOR (socket
// request envelopes in lib/service) use `cbor` tags instead.
package schema
