// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/sqlitepool"
)

// Schema is the ledger's SQLite schema. The kernel applies it (along
// with the other component schemas) on every new pool connection.
const Schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		sequence       INTEGER PRIMARY KEY,
		actor          TEXT NOT NULL,
		action_kind    TEXT NOT NULL,
		payload_digest BLOB NOT NULL,
		payload        BLOB,
		timestamp_ns   INTEGER NOT NULL,
		outcome        TEXT NOT NULL,
		prev_hash      BLOB NOT NULL,
		hash           BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_actor ON ledger_entries(actor, sequence);
	CREATE INDEX IF NOT EXISTS idx_ledger_kind ON ledger_entries(action_kind, sequence);
`

// Record is the caller-supplied portion of a ledger entry. The store
// assigns the sequence, timestamp, digests, and chain link.
type Record struct {
	// Actor is the agent or operator the entry is about. Required.
	Actor string

	// Kind classifies the action.
	Kind schema.ActionKind

	// Payload is the raw encoded action detail. May be nil. Stored
	// verbatim for replay; only its digest enters the entry hash.
	Payload []byte

	// Outcome is what the entry witnesses.
	Outcome schema.Outcome
}

// Config holds the parameters for opening a ledger store.
type Config struct {
	// Pool is the shared kernel database pool. Required.
	Pool *sqlitepool.Pool

	// Clock provides entry timestamps. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store provides append, read, and verification access to the chain.
// Safe for concurrent use; SQLite serializes the writes and the CAS
// tail check rejects stale appends.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a ledger store over the shared kernel pool. The schema
// must already be applied (the pool's OnConnect hook handles this).
func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("ledger: Pool is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ledger: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("ledger: Logger is required")
	}
	return &Store{
		pool:   cfg.Pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Head returns the current chain tail: the highest sequence number
// and the hash of that entry. An empty chain reports sequence 0 and a
// zero hash.
func (s *Store) Head(ctx context.Context) (uint64, schema.Hash, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, schema.Hash{}, fmt.Errorf("ledger: head: %w", err)
	}
	defer s.pool.Put(conn)
	return headConn(conn)
}

// Append adds an entry to the chain if and only if the current tail
// hash equals expectedTail. A mismatch means another writer advanced
// the chain since the caller observed it; the append is rejected with
// [schema.CodeConcurrentAppend] and no entry is written.
func (s *Store) Append(ctx context.Context, record Record, expectedTail schema.Hash) (entry schema.Entry, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Entry{}, fmt.Errorf("ledger: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.Entry{}, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	_, tail, err := headConn(conn)
	if err != nil {
		return schema.Entry{}, err
	}
	if tail != expectedTail {
		return schema.Entry{}, schema.NewError(schema.CodeConcurrentAppend,
			"chain tail is %s, caller expected %s", tail, expectedTail)
	}

	return s.appendConn(conn, record)
}

// AppendRetry appends an entry, refreshing the tail and retrying with
// capped backoff when a concurrent writer wins the race. Use this for
// appends that carry no compare-and-swap intent of their own.
func (s *Store) AppendRetry(ctx context.Context, record Record) (schema.Entry, error) {
	const maxAttempts = 8
	backoff := time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.clock.Sleep(backoff)
			backoff *= 2
			if backoff > 50*time.Millisecond {
				backoff = 50 * time.Millisecond
			}
		}

		_, tail, err := s.Head(ctx)
		if err != nil {
			return schema.Entry{}, err
		}
		entry, err := s.Append(ctx, record, tail)
		if err == nil {
			return entry, nil
		}
		if !schema.IsCode(err, schema.CodeConcurrentAppend) {
			return schema.Entry{}, err
		}
		lastErr = err
	}
	return schema.Entry{}, fmt.Errorf("ledger: append lost the tail race %d times: %w", maxAttempts, lastErr)
}

// AppendTx appends an entry on a connection that already holds an
// open transaction. The caller's transaction both serializes the
// append and makes it atomic with whatever state mutation the entry
// records — a budget debit and its ledger entry commit or roll back
// together.
func (s *Store) AppendTx(conn *sqlite.Conn, record Record) (schema.Entry, error) {
	return s.appendConn(conn, record)
}

// appendConn links a record onto the current tail and inserts it. The
// caller must hold a write transaction on conn.
func (s *Store) appendConn(conn *sqlite.Conn, record Record) (schema.Entry, error) {
	if record.Actor == "" {
		return schema.Entry{}, fmt.Errorf("ledger: record has no actor")
	}

	sequence, tail, err := headConn(conn)
	if err != nil {
		return schema.Entry{}, err
	}

	entry := schema.Entry{
		Sequence:      sequence + 1,
		Actor:         record.Actor,
		ActionKind:    record.Kind,
		PayloadDigest: PayloadDigest(record.Payload),
		TimestampNS:   s.clock.Now().UnixNano(),
		Outcome:       record.Outcome,
		PrevHash:      tail,
	}
	entry.Hash, err = EntryHash(entry)
	if err != nil {
		return schema.Entry{}, fmt.Errorf("ledger: hashing entry: %w", err)
	}

	err = sqlitex.Execute(conn, `INSERT INTO ledger_entries
		(sequence, actor, action_kind, payload_digest, payload,
		 timestamp_ns, outcome, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			int64(entry.Sequence),
			entry.Actor,
			string(entry.ActionKind),
			entry.PayloadDigest[:],
			record.Payload,
			entry.TimestampNS,
			string(entry.Outcome),
			entry.PrevHash[:],
			entry.Hash[:],
		},
	})
	if err != nil {
		return schema.Entry{}, fmt.Errorf("ledger: inserting entry %d: %w", entry.Sequence, err)
	}

	return entry, nil
}

// headConn reads the chain tail on an existing connection.
func headConn(conn *sqlite.Conn) (uint64, schema.Hash, error) {
	var sequence uint64
	var tail schema.Hash

	err := sqlitex.Execute(conn, `SELECT sequence, hash FROM ledger_entries
		ORDER BY sequence DESC LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sequence = uint64(stmt.ColumnInt64(0))
			if n := stmt.ColumnBytes(1, tail[:]); n != len(tail) {
				return fmt.Errorf("tail hash is %d bytes, want %d", n, len(tail))
			}
			return nil
		},
	})
	if err != nil {
		return 0, schema.Hash{}, fmt.Errorf("ledger: reading tail: %w", err)
	}
	return sequence, tail, nil
}

// Range returns entries with from <= sequence <= to, in sequence
// order. A to of zero means "through the current head". Sequences
// beyond the head simply yield fewer (or no) entries.
func (s *Store) Range(ctx context.Context, from, to uint64) ([]schema.Entry, error) {
	var entries []schema.Entry
	err := s.scanRange(ctx, from, to, false, func(entry schema.Entry, _ []byte) error {
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// Replay streams entries with their raw payloads through fn, in
// sequence order. Budget reconstruction uses this to re-derive
// account state from debit and allocation payloads.
func (s *Store) Replay(ctx context.Context, from, to uint64, fn func(schema.Entry, []byte) error) error {
	return s.scanRange(ctx, from, to, true, fn)
}

func (s *Store) scanRange(ctx context.Context, from, to uint64, withPayload bool, fn func(schema.Entry, []byte) error) error {
	if from == 0 {
		from = 1
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: range: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT sequence, actor, action_kind, payload_digest, payload,
		timestamp_ns, outcome, prev_hash, hash FROM ledger_entries
		WHERE sequence >= ?`
	args := []any{int64(from)}
	if to != 0 {
		query += ` AND sequence <= ?`
		args = append(args, int64(to))
	}
	query += ` ORDER BY sequence`

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, payload, err := scanEntry(stmt, withPayload)
			if err != nil {
				return err
			}
			return fn(entry, payload)
		},
	})
	if err != nil {
		return fmt.Errorf("ledger: scanning range [%d, %d]: %w", from, to, err)
	}
	return nil
}

// scanEntry decodes one ledger_entries row. Column order must match
// the SELECT in scanRange.
func scanEntry(stmt *sqlite.Stmt, withPayload bool) (schema.Entry, []byte, error) {
	var entry schema.Entry
	entry.Sequence = uint64(stmt.ColumnInt64(0))
	entry.Actor = stmt.ColumnText(1)
	entry.ActionKind = schema.ActionKind(stmt.ColumnText(2))

	if n := stmt.ColumnBytes(3, entry.PayloadDigest[:]); n != len(entry.PayloadDigest) {
		return schema.Entry{}, nil, fmt.Errorf("entry %d: payload digest is %d bytes", entry.Sequence, n)
	}

	var payload []byte
	if withPayload && stmt.ColumnLen(4) > 0 {
		payload = make([]byte, stmt.ColumnLen(4))
		stmt.ColumnBytes(4, payload)
	}

	entry.TimestampNS = stmt.ColumnInt64(5)
	entry.Outcome = schema.Outcome(stmt.ColumnText(6))

	if n := stmt.ColumnBytes(7, entry.PrevHash[:]); n != len(entry.PrevHash) {
		return schema.Entry{}, nil, fmt.Errorf("entry %d: prev hash is %d bytes", entry.Sequence, n)
	}
	if n := stmt.ColumnBytes(8, entry.Hash[:]); n != len(entry.Hash) {
		return schema.Entry{}, nil, fmt.Errorf("entry %d: hash is %d bytes", entry.Sequence, n)
	}

	return entry, payload, nil
}

// VerifyReport summarizes a chain verification pass.
type VerifyReport struct {
	// Entries is the number of entries checked before stopping.
	Entries uint64 `json:"entries"`

	// Intact is true when every hash and chain link checked out.
	Intact bool `json:"intact"`

	// BrokenSeq is the sequence of the first entry that failed
	// verification. Zero when the chain is intact. Everything before
	// BrokenSeq is trustworthy; everything from it on is suspect.
	BrokenSeq uint64 `json:"broken_seq,omitempty"`

	// Detail describes what failed at BrokenSeq.
	Detail string `json:"detail,omitempty"`
}

// VerifyChain re-derives every entry hash from sequence 1 and checks
// each chain link and payload digest. It reports the first break and
// stops there. A broken chain additionally returns a
// [schema.CodeChainVerification] error; the kernel never repairs the
// chain, it only reports.
func (s *Store) VerifyChain(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport
	var expectedPrev schema.Hash
	expectedSeq := uint64(1)

	fail := func(seq uint64, format string, args ...any) error {
		report.BrokenSeq = seq
		report.Detail = fmt.Sprintf(format, args...)
		return schema.NewError(schema.CodeChainVerification,
			"entry %d: %s", seq, report.Detail)
	}

	err := s.scanRange(ctx, 1, 0, true, func(entry schema.Entry, payload []byte) error {
		if entry.Sequence != expectedSeq {
			return fail(entry.Sequence, "sequence gap: want %d", expectedSeq)
		}
		if entry.PrevHash != expectedPrev {
			return fail(entry.Sequence, "chain link mismatch: prev hash %s, want %s",
				entry.PrevHash, expectedPrev)
		}
		if digest := PayloadDigest(payload); digest != entry.PayloadDigest {
			return fail(entry.Sequence, "payload digest mismatch: stored payload hashes to %s, entry records %s",
				digest, entry.PayloadDigest)
		}
		computed, err := EntryHash(entry)
		if err != nil {
			return fmt.Errorf("hashing entry %d: %w", entry.Sequence, err)
		}
		if computed != entry.Hash {
			return fail(entry.Sequence, "content hash mismatch: computed %s, stored %s",
				computed, entry.Hash)
		}

		report.Entries++
		expectedPrev = entry.Hash
		expectedSeq++
		return nil
	})
	if err != nil {
		if report.BrokenSeq != 0 {
			s.logger.Error("ledger chain verification failed",
				"broken_seq", report.BrokenSeq,
				"detail", report.Detail,
			)
			// scanRange wraps the callback error; surface the
			// structured error directly.
			return report, schema.NewError(schema.CodeChainVerification,
				"entry %d: %s", report.BrokenSeq, report.Detail)
		}
		return report, err
	}

	report.Intact = true
	return report, nil
}
