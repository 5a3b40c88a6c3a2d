// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/kernel/arbiter"
	"github.com/substrate-foundation/substrate/kernel/budget"
	"github.com/substrate-foundation/substrate/kernel/guardian"
	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/sqlitepool"
)

// Config holds the parameters for assembling a kernel.
type Config struct {
	// DBPath is the SQLite database file. Required.
	DBPath string

	// Policy supplies the cost table and all enforcement parameters.
	// If nil, the embedded default policy is used.
	Policy *policy.Policy

	// Clock drives timestamps, velocity windows, and review
	// deadlines. If nil, the real clock is used.
	Clock clock.Clock

	// Logger receives operational messages. If nil, logging is
	// discarded.
	Logger *slog.Logger

	// PoolSize overrides the connection pool size when positive.
	PoolSize int
}

// Kernel is the assembled constraint-enforcement kernel. The
// components share one database and one ledger; the kernel adds the
// agent-facing operations that cross component boundaries.
type Kernel struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	policy *policy.Policy

	Ledger   *ledger.Store
	Budget   *budget.Register
	Arbiter  *arbiter.Arbiter
	Guardian *guardian.Guardian
}

// New opens the database, applies every component schema, and wires
// the components together.
func New(cfg Config) (*Kernel, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("kernel: DBPath is required")
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.Default()
	}
	kernelClock := cfg.Clock
	if kernelClock == nil {
		kernelClock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.DBPath,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn,
				ledger.Schema+budget.Schema+arbiter.Schema+guardian.Schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}

	ledgerStore, err := ledger.New(ledger.Config{
		Pool:   pool,
		Clock:  kernelClock,
		Logger: logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Mode transitions and rollback share one lock: both change what
	// the rest of the system must treat as authoritative state.
	stateMu := &sync.Mutex{}

	guard, err := guardian.New(guardian.Config{
		Pool:    pool,
		Ledger:  ledgerStore,
		Policy:  pol,
		Clock:   kernelClock,
		Logger:  logger,
		StateMu: stateMu,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	register, err := budget.New(budget.Config{
		Pool:   pool,
		Ledger: ledgerStore,
		Policy: pol,
		Clock:  kernelClock,
		Logger: logger,
		OnAnomaly: func(agentID string, observed int, window time.Duration) {
			guard.Evaluate(context.Background(), agentID, guardian.Signal{
				Kind:     guardian.SignalDebitVelocity,
				Observed: observed,
				Window:   window,
			})
		},
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	arb, err := arbiter.New(arbiter.Config{
		Pool:    pool,
		Ledger:  ledgerStore,
		Policy:  pol,
		Clock:   kernelClock,
		Logger:  logger,
		StateMu: stateMu,
		OnResolution: func(requester string, approved bool) {
			kind := guardian.SignalModeDenied
			if approved {
				kind = guardian.SignalModeApproved
			}
			guard.Evaluate(context.Background(), requester, guardian.Signal{Kind: kind})
		},
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Kernel{
		pool:     pool,
		logger:   logger,
		policy:   pol,
		Ledger:   ledgerStore,
		Budget:   register,
		Arbiter:  arb,
		Guardian: guard,
	}, nil
}

// Close releases the database pool. In-flight operations fail once
// their connections are returned.
func (k *Kernel) Close() error {
	return k.pool.Close()
}

// Policy returns the active policy.
func (k *Kernel) Policy() *policy.Policy {
	return k.policy
}

// RegisterAgent registers an agent and creates its budget account in
// the same transaction as the registration entry. The account starts
// empty; an operator funds it with Budget.Allocate.
func (k *Kernel) RegisterAgent(ctx context.Context, id string, kind schema.AgentKind) (schema.Agent, error) {
	return k.Guardian.RegisterAgent(ctx, id, kind, func(conn *sqlite.Conn) error {
		return k.Budget.CreateAccountTx(conn, id)
	})
}

// Debit runs the guardian gate, attempts the debit, and feeds the
// outcome back into guardian rule evaluation. Rejected debits return
// the populated result alongside the budget error.
func (k *Kernel) Debit(ctx context.Context, caller schema.Caller, kind schema.ActionKind) (schema.DebitResult, error) {
	if err := k.Guardian.CheckActive(caller.ID); err != nil {
		return schema.DebitResult{}, err
	}

	result, err := k.Budget.Debit(ctx, caller.ID, kind)
	if err != nil {
		if schema.IsCode(err, schema.CodeInsufficientBudget) {
			k.Guardian.Evaluate(ctx, caller.ID, guardian.Signal{Kind: guardian.SignalBudgetRejected})
		}
		return result, err
	}
	k.Guardian.Evaluate(ctx, caller.ID, guardian.Signal{Kind: guardian.SignalDebitAccepted})
	return result, nil
}

// SubmitIntent declares an action before execution. The guardian gate
// runs first, then the debit; only an accepted debit produces the
// intent entry. Intent submission subsumes the charge: callers that
// declare through here must not also call Debit for the same action.
func (k *Kernel) SubmitIntent(ctx context.Context, caller schema.Caller, kind schema.ActionKind, payload []byte) (schema.DebitResult, schema.Entry, error) {
	result, err := k.Debit(ctx, caller, kind)
	if err != nil {
		return result, schema.Entry{}, err
	}

	entry, err := k.Ledger.AppendRetry(ctx, ledger.Record{
		Actor:   caller.ID,
		Kind:    kind,
		Payload: payload,
		Outcome: schema.OutcomeIntent,
	})
	if err != nil {
		return result, schema.Entry{}, err
	}
	return result, entry, nil
}

// SubmitOutcome records the result of a previously declared action.
// Outcomes are not billed; the debit happened at intent time. An
// intent without a matching outcome is diagnostic information for the
// auditor, not a condition the kernel repairs.
func (k *Kernel) SubmitOutcome(ctx context.Context, caller schema.Caller, kind schema.ActionKind, payload []byte, succeeded bool) (schema.Entry, error) {
	if err := k.Guardian.CheckActive(caller.ID); err != nil {
		return schema.Entry{}, err
	}

	outcome := schema.OutcomeCommitted
	if !succeeded {
		outcome = schema.OutcomeFailed
	}
	return k.Ledger.AppendRetry(ctx, ledger.Record{
		Actor:   caller.ID,
		Kind:    kind,
		Payload: payload,
		Outcome: outcome,
	})
}

// BudgetSummary reconstructs every account's state. Under an active
// checkpoint the summary is replayed only up to the checkpoint's
// sequence, so a rolled-back kernel reports pre-checkpoint balances.
func (k *Kernel) BudgetSummary(ctx context.Context) (map[string]schema.Account, error) {
	checkpoint, err := k.Guardian.ActiveCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	var upTo uint64
	if checkpoint != nil {
		upTo = checkpoint.Sequence
	}
	return k.Budget.SummaryAt(ctx, upTo)
}

// ModeState reports the arbitration mode. Under an active checkpoint
// the mode is replayed from transition entries up to the checkpoint's
// sequence, so a rolled-back kernel reports the pre-checkpoint mode
// the same way BudgetSummary reports pre-checkpoint balances.
func (k *Kernel) ModeState(ctx context.Context) (schema.ModeState, error) {
	checkpoint, err := k.Guardian.ActiveCheckpoint(ctx)
	if err != nil {
		return schema.ModeState{}, err
	}
	if checkpoint == nil {
		return k.Arbiter.Current(), nil
	}
	return k.Arbiter.ModeAt(ctx, checkpoint.Sequence)
}
