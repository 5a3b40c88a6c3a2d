// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the kernel's SQLite connection pool.
//
// All persisted kernel state — the ledger, budget accounts, mode
// state, quarantine records, checkpoints — lives in one SQLite
// database accessed through this pool. It wraps zombiezen.com/go/sqlite
// with production defaults: WAL journal mode, FULL synchronous, and a
// busy timeout to absorb write contention gracefully.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for
// the duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. Reads never block writes; writes never block
//     reads.
//   - synchronous=FULL: the ledger is the record of truth for the
//     whole substrate, so committed transactions must survive OS
//     crashes and power loss, not just process crashes. The fsync
//     cost is acceptable at kernel decision rates.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the kernel manages referential integrity
//     explicitly through its transaction choke points.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Kernel components
// write SQL, use sqlitex.Execute for cached statements, and manage
// transactions with sqlitex.ImmediateTransaction. There is no query
// builder and no attempt to hide SQLite's connection model.
package sqlitepool
