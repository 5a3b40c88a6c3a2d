// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// The substrate-kernel daemon serves the constraint-enforcement
// kernel over a Unix domain socket. It owns the SQLite database and
// is the only process that writes to it; agent runtimes, operators,
// and auditors all go through the socket protocol.
package main
