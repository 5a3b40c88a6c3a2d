// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/sqlitepool"
)

// Schema is the budget register's SQLite schema.
const Schema = `
	CREATE TABLE IF NOT EXISTS budget_accounts (
		agent_id  TEXT PRIMARY KEY,
		allocated INTEGER NOT NULL DEFAULT 0,
		consumed  INTEGER NOT NULL DEFAULT 0
	);
`

// AnomalyFunc receives debit-velocity anomaly signals. Called outside
// any database transaction, after the triggering debit has settled.
type AnomalyFunc func(agentID string, observed int, window time.Duration)

// Config holds the parameters for creating a budget register.
type Config struct {
	// Pool is the shared kernel database pool. Required.
	Pool *sqlitepool.Pool

	// Ledger records debits and allocations. Required.
	Ledger *ledger.Store

	// Policy supplies the cost table and velocity parameters.
	// Required.
	Policy *policy.Policy

	// Clock drives the velocity window. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// OnAnomaly, if set, receives velocity anomaly signals.
	OnAnomaly AnomalyFunc
}

// Register tracks per-agent credit accounts. Safe for concurrent use.
type Register struct {
	pool      *sqlitepool.Pool
	ledger    *ledger.Store
	policy    *policy.Policy
	clock     clock.Clock
	logger    *slog.Logger
	onAnomaly AnomalyFunc

	// velocityMu guards recentDebits: per-agent timestamps of debit
	// attempts inside the rolling window. In-memory only — velocity
	// is an advisory signal about current behavior, not durable
	// state, so it resets on kernel restart.
	velocityMu   sync.Mutex
	recentDebits map[string][]time.Time
}

// allocationPayload is the ledger payload for budget allocations.
type allocationPayload struct {
	AgentID   string `json:"agent_id"`
	Amount    int64  `json:"amount"`
	Allocated int64  `json:"allocated"`
}

// debitPayload is the ledger payload for debit attempts, accepted and
// rejected alike.
type debitPayload struct {
	AgentID   string            `json:"agent_id"`
	Kind      schema.ActionKind `json:"kind"`
	Cost      int64             `json:"cost"`
	Remaining int64             `json:"remaining"`
}

// New creates a budget register over the shared kernel pool.
func New(cfg Config) (*Register, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("budget: Pool is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("budget: Ledger is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("budget: Policy is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("budget: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("budget: Logger is required")
	}
	return &Register{
		pool:         cfg.Pool,
		ledger:       cfg.Ledger,
		policy:       cfg.Policy,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		onAnomaly:    cfg.OnAnomaly,
		recentDebits: make(map[string][]time.Time),
	}, nil
}

// Quote returns the credit cost for an action kind without touching
// any account. Unknown kinds fail with UnknownActionKind.
func (r *Register) Quote(kind schema.ActionKind) (int64, error) {
	return r.policy.Quote(kind)
}

// CreateAccountTx creates a zero-balance account on a connection that
// already holds an open transaction. The kernel calls this while
// registering an agent, so the agent row and its account commit
// together. Creating an account that already exists is a no-op.
func (r *Register) CreateAccountTx(conn *sqlite.Conn, agentID string) error {
	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO budget_accounts
		(agent_id, allocated, consumed) VALUES (?, 0, 0)`, &sqlitex.ExecOptions{
		Args: []any{agentID},
	})
	if err != nil {
		return fmt.Errorf("budget: creating account for %s: %w", agentID, err)
	}
	return nil
}

// Account returns the current account state for an agent.
func (r *Register) Account(ctx context.Context, agentID string) (schema.Account, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return schema.Account{}, fmt.Errorf("budget: account: %w", err)
	}
	defer r.pool.Put(conn)
	return accountConn(conn, agentID)
}

func accountConn(conn *sqlite.Conn, agentID string) (schema.Account, error) {
	account := schema.Account{AgentID: agentID}
	found := false
	err := sqlitex.Execute(conn, `SELECT allocated, consumed FROM budget_accounts
		WHERE agent_id = ?`, &sqlitex.ExecOptions{
		Args: []any{agentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			account.Allocated = stmt.ColumnInt64(0)
			account.Consumed = stmt.ColumnInt64(1)
			found = true
			return nil
		},
	})
	if err != nil {
		return schema.Account{}, fmt.Errorf("budget: reading account %s: %w", agentID, err)
	}
	if !found {
		return schema.Account{}, schema.NewError(schema.CodeUnknownAgent, "no budget account for agent %q", agentID)
	}
	return account, nil
}

// Allocate grants credits to an agent's account and records the grant
// in the ledger. The operator performing the grant is the ledger
// actor. Amount must be positive.
func (r *Register) Allocate(ctx context.Context, operator, agentID string, amount int64) (account schema.Account, seq uint64, err error) {
	if amount <= 0 {
		return schema.Account{}, 0, fmt.Errorf("budget: allocation amount %d must be positive", amount)
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return schema.Account{}, 0, fmt.Errorf("budget: allocate: %w", err)
	}
	defer r.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.Account{}, 0, fmt.Errorf("budget: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	account, err = accountConn(conn, agentID)
	if err != nil {
		return schema.Account{}, 0, err
	}
	account.Allocated += amount

	err = sqlitex.Execute(conn, `UPDATE budget_accounts SET allocated = ?
		WHERE agent_id = ?`, &sqlitex.ExecOptions{
		Args: []any{account.Allocated, agentID},
	})
	if err != nil {
		return schema.Account{}, 0, fmt.Errorf("budget: updating allocation for %s: %w", agentID, err)
	}

	payload, err := codec.Marshal(allocationPayload{
		AgentID:   agentID,
		Amount:    amount,
		Allocated: account.Allocated,
	})
	if err != nil {
		return schema.Account{}, 0, fmt.Errorf("budget: encoding allocation payload: %w", err)
	}

	entry, err := r.ledger.AppendTx(conn, ledger.Record{
		Actor:   operator,
		Kind:    schema.KindBudgetAllocated,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	})
	if err != nil {
		return schema.Account{}, 0, err
	}

	r.logger.Info("budget allocated",
		"agent", agentID,
		"operator", operator,
		"amount", amount,
		"allocated", account.Allocated,
		"ledger_seq", entry.Sequence,
	)
	return account, entry.Sequence, nil
}

// Debit attempts to spend the quoted cost of an action kind from an
// agent's account. The balance check, the decrement, and the ledger
// entry are one transaction. Rejected debits are also ledger-recorded
// (with a failed outcome, no balance change) and return an
// InsufficientBudget error carrying the entry's sequence; the result
// is populated in both cases.
func (r *Register) Debit(ctx context.Context, agentID string, kind schema.ActionKind) (schema.DebitResult, error) {
	cost, err := r.policy.Quote(kind)
	if err != nil {
		return schema.DebitResult{}, err
	}

	result, err := r.debitOnce(ctx, agentID, kind, cost)
	if err != nil {
		return schema.DebitResult{}, err
	}

	r.noteDebitAttempt(agentID)

	if !result.Accepted {
		return result, schema.NewLoggedError(schema.CodeInsufficientBudget, result.LedgerSeq,
			"agent %s has %d credits, action %q costs %d", agentID, result.Remaining, kind, cost)
	}
	return result, nil
}

// debitOnce runs the debit transaction. The transaction commits for
// both accepted and rejected debits — the rejection entry must
// persist — so the returned error covers infrastructure failures
// only.
func (r *Register) debitOnce(ctx context.Context, agentID string, kind schema.ActionKind, cost int64) (result schema.DebitResult, err error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return schema.DebitResult{}, fmt.Errorf("budget: debit: %w", err)
	}
	defer r.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.DebitResult{}, fmt.Errorf("budget: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	account, err := accountConn(conn, agentID)
	if err != nil {
		return schema.DebitResult{}, err
	}

	accepted := account.Remaining() >= cost
	outcome := schema.OutcomeFailed
	if accepted {
		account.Consumed += cost
		outcome = schema.OutcomeCommitted

		err = sqlitex.Execute(conn, `UPDATE budget_accounts SET consumed = ?
			WHERE agent_id = ?`, &sqlitex.ExecOptions{
			Args: []any{account.Consumed, agentID},
		})
		if err != nil {
			return schema.DebitResult{}, fmt.Errorf("budget: updating account %s: %w", agentID, err)
		}
	}

	payload, err := codec.Marshal(debitPayload{
		AgentID:   agentID,
		Kind:      kind,
		Cost:      cost,
		Remaining: account.Remaining(),
	})
	if err != nil {
		return schema.DebitResult{}, fmt.Errorf("budget: encoding debit payload: %w", err)
	}

	entry, err := r.ledger.AppendTx(conn, ledger.Record{
		Actor:   agentID,
		Kind:    schema.KindBudgetDebit,
		Payload: payload,
		Outcome: outcome,
	})
	if err != nil {
		return schema.DebitResult{}, err
	}

	return schema.DebitResult{
		Accepted:  accepted,
		Remaining: account.Remaining(),
		LedgerSeq: entry.Sequence,
	}, nil
}

// noteDebitAttempt records a debit attempt in the agent's velocity
// window and emits an anomaly signal when the count exceeds the
// policy limit.
func (r *Register) noteDebitAttempt(agentID string) {
	now := r.clock.Now()
	window := r.policy.Budget.VelocityWindow
	cutoff := now.Add(-window)

	r.velocityMu.Lock()
	recent := r.recentDebits[agentID]
	pruned := recent[:0]
	for _, at := range recent {
		if at.After(cutoff) {
			pruned = append(pruned, at)
		}
	}
	pruned = append(pruned, now)
	r.recentDebits[agentID] = pruned
	observed := len(pruned)
	r.velocityMu.Unlock()

	if observed > r.policy.Budget.VelocityLimit {
		r.logger.Warn("debit velocity anomaly",
			"agent", agentID,
			"observed", observed,
			"limit", r.policy.Budget.VelocityLimit,
			"window", window,
		)
		if r.onAnomaly != nil {
			r.onAnomaly(agentID, observed, window)
		}
	}
}

// SummaryAt reconstructs every account's state as of a ledger
// sequence by replaying allocation and committed debit entries from
// the start of the chain. Rollback recovery uses this with the active
// checkpoint's sequence; passing zero replays to the current head.
func (r *Register) SummaryAt(ctx context.Context, upTo uint64) (map[string]schema.Account, error) {
	accounts := make(map[string]schema.Account)

	err := r.ledger.Replay(ctx, 1, upTo, func(entry schema.Entry, payload []byte) error {
		switch entry.ActionKind {
		case schema.KindBudgetAllocated:
			var alloc allocationPayload
			if err := codec.Unmarshal(payload, &alloc); err != nil {
				return fmt.Errorf("entry %d: decoding allocation: %w", entry.Sequence, err)
			}
			account := accounts[alloc.AgentID]
			account.AgentID = alloc.AgentID
			account.Allocated += alloc.Amount
			accounts[alloc.AgentID] = account

		case schema.KindBudgetDebit:
			if entry.Outcome != schema.OutcomeCommitted {
				return nil
			}
			var debit debitPayload
			if err := codec.Unmarshal(payload, &debit); err != nil {
				return fmt.Errorf("entry %d: decoding debit: %w", entry.Sequence, err)
			}
			account := accounts[debit.AgentID]
			account.AgentID = debit.AgentID
			account.Consumed += debit.Cost
			accounts[debit.AgentID] = account
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("budget: replaying ledger: %w", err)
	}
	return accounts, nil
}
