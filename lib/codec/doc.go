// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the Substrate standard CBOR encoding
// configuration.
//
// The kernel depends on one serialization format everywhere: CBOR with
// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. Same logical
// data always produces identical bytes. Determinism is load-bearing
// here, not cosmetic — the ledger's entry hash is computed over the
// canonical CBOR encoding of the entry header, so two encoders that
// disagree about byte layout would disagree about history.
//
// The same configuration serves the kernel socket protocol and the
// ledger export framing, so every package encodes identically without
// duplicating options.
//
// For buffer-oriented operations (hashing, tokens, stored payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets, export files):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
