// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the kernel's request/response contract:
// a CBOR protocol over a Unix domain socket.
//
// This is the only surface external collaborators (agent runtimes,
// operators, auditors) ever see. They never hold references to ledger
// storage, the budget table, or the mode variable — every interaction
// is a request through this socket and a synchronous accepted/rejected
// response.
//
// Each connection handles exactly one request-response cycle: the
// client writes a CBOR value containing an "action" field plus
// handler-specific fields, the server processes it and writes a CBOR
// response, then the connection closes. CBOR is self-delimiting, so
// no framing protocol is needed.
package service
