// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/sqlitepool"
)

// Schema is the arbiter's SQLite schema. mode_state is a singleton
// row; mode_requests retains every request with its resolution.
const Schema = `
	CREATE TABLE IF NOT EXISTS mode_state (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		mode          TEXT NOT NULL,
		entered_at_ns INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS mode_requests (
		id              TEXT PRIMARY KEY,
		requester       TEXT NOT NULL,
		requester_class TEXT NOT NULL,
		from_mode       TEXT NOT NULL,
		target_mode     TEXT NOT NULL,
		justification   TEXT,
		submitted_at_ns INTEGER NOT NULL,
		resolution      TEXT NOT NULL,
		reason          TEXT,
		ledger_seq      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mode_requests_time ON mode_requests(submitted_at_ns);
`

// transitionTable is the total map of reachable modes. Escalation
// climbs one posture at a time; defend is reachable from everything;
// the only way out of defend is back to observe. Requesting a pair
// absent here (including the current mode itself) is an invalid
// transition, never a silent coercion.
var transitionTable = map[schema.Mode][]schema.Mode{
	schema.ModeObserve: {schema.ModeAlert, schema.ModeDefend},
	schema.ModeAlert:   {schema.ModeAct, schema.ModeObserve, schema.ModeDefend},
	schema.ModeAct:     {schema.ModeObserve, schema.ModeDefend},
	schema.ModeDefend:  {schema.ModeObserve},
}

// reachable reports whether target is in from's transition row.
func reachable(from, target schema.Mode) bool {
	for _, mode := range transitionTable[from] {
		if mode == target {
			return true
		}
	}
	return false
}

// ResolutionFunc receives the outcome of every mode-change request.
// The guardian uses this to track per-requester denial streaks.
type ResolutionFunc func(requester string, approved bool)

// Config holds the parameters for creating an arbiter.
type Config struct {
	// Pool is the shared kernel database pool. Required.
	Pool *sqlitepool.Pool

	// Ledger records transitions and denials. Required.
	Ledger *ledger.Store

	// Policy supplies escalation privileges and anti-thrash
	// parameters. Required.
	Policy *policy.Policy

	// Clock drives the anti-thrash window. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// StateMu serializes mode changes. The guardian's checkpoint
	// pointer shares this lock because rollback and mode transitions
	// follow the same exclusive-access discipline. Optional; the
	// arbiter allocates its own when nil.
	StateMu *sync.Mutex

	// OnResolution, if set, receives every request outcome.
	OnResolution ResolutionFunc
}

// Arbiter evaluates and applies mode-change requests. Safe for
// concurrent use; all mutation happens under StateMu.
type Arbiter struct {
	pool         *sqlitepool.Pool
	ledger       *ledger.Store
	policy       *policy.Policy
	clock        clock.Clock
	logger       *slog.Logger
	onResolution ResolutionFunc

	mu *sync.Mutex

	// current mirrors the mode_state row. transitions holds the
	// timestamps of applied transitions inside the trailing
	// anti-thrash window; it is in-memory, so a restart clears the
	// window the same way it clears the velocity window.
	current     schema.Mode
	enteredAt   time.Time
	transitions []time.Time
}

// transitionPayload is the ledger payload for mode decisions,
// approvals and denials alike.
type transitionPayload struct {
	RequestID     string             `json:"request_id"`
	Requester     string             `json:"requester"`
	Class         schema.CallerClass `json:"class"`
	From          schema.Mode        `json:"from"`
	Target        schema.Mode        `json:"target"`
	Justification string             `json:"justification,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// New creates an arbiter over the shared kernel pool, seeding the
// mode_state row with observe if this is the first boot.
func New(cfg Config) (*Arbiter, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("arbiter: Pool is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("arbiter: Ledger is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("arbiter: Policy is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("arbiter: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("arbiter: Logger is required")
	}

	mu := cfg.StateMu
	if mu == nil {
		mu = &sync.Mutex{}
	}

	a := &Arbiter{
		pool:         cfg.Pool,
		ledger:       cfg.Ledger,
		policy:       cfg.Policy,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		onResolution: cfg.OnResolution,
		mu:           mu,
	}
	if err := a.loadState(); err != nil {
		return nil, err
	}
	return a, nil
}

// loadState reads or seeds the singleton mode_state row.
func (a *Arbiter) loadState() error {
	ctx := context.Background()
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("arbiter: loading state: %w", err)
	}
	defer a.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT mode, entered_at_ns FROM mode_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				mode, err := schema.ParseMode(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				a.current = mode
				a.enteredAt = time.Unix(0, stmt.ColumnInt64(1))
				found = true
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("arbiter: reading mode state: %w", err)
	}
	if found {
		return nil
	}

	a.current = schema.ModeObserve
	a.enteredAt = a.clock.Now()
	err = sqlitex.Execute(conn, `INSERT INTO mode_state (id, mode, entered_at_ns)
		VALUES (1, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{string(a.current), a.enteredAt.UnixNano()},
	})
	if err != nil {
		return fmt.Errorf("arbiter: seeding mode state: %w", err)
	}
	return nil
}

// Current returns the mode state, including the transition count
// inside the trailing anti-thrash window.
func (a *Arbiter) Current() schema.ModeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return schema.ModeState{
		Mode:              a.current,
		EnteredAt:         a.enteredAt,
		RecentTransitions: a.recentTransitionsLocked(),
	}
}

// ModeAt reconstructs the mode as of a ledger sequence by replaying
// approved transition entries from the start of the chain. Rollback
// recovery uses this with the active checkpoint's sequence; passing
// zero replays to the current head. A chain with no transitions is in
// observe, the seed mode.
func (a *Arbiter) ModeAt(ctx context.Context, upTo uint64) (schema.ModeState, error) {
	state := schema.ModeState{Mode: schema.ModeObserve}
	err := a.ledger.Replay(ctx, 1, upTo, func(entry schema.Entry, payload []byte) error {
		if entry.ActionKind != schema.KindModeTransition {
			return nil
		}
		var transition transitionPayload
		if err := codec.Unmarshal(payload, &transition); err != nil {
			return fmt.Errorf("entry %d: decoding transition: %w", entry.Sequence, err)
		}
		state.Mode = transition.Target
		state.EnteredAt = entry.Time()
		return nil
	})
	if err != nil {
		return schema.ModeState{}, fmt.Errorf("arbiter: replaying ledger: %w", err)
	}
	return state, nil
}

// recentTransitionsLocked prunes the window and returns its size.
// Caller must hold a.mu.
func (a *Arbiter) recentTransitionsLocked() int {
	cutoff := a.clock.Now().Add(-a.policy.Arbiter.ThrashWindow)
	pruned := a.transitions[:0]
	for _, at := range a.transitions {
		if at.After(cutoff) {
			pruned = append(pruned, at)
		}
	}
	a.transitions = pruned
	return len(a.transitions)
}

// RequestModeChange evaluates a mode-change request and resolves it
// exactly once. The decision is a pure function of the transition
// table, the escalation-privilege policy, and the anti-thrash window
// state at evaluation time:
//
//  1. target must be reachable from the current mode, or the request
//     is denied with InvalidTransition;
//  2. when the window is over the thrash limit, every non-defend
//     request is denied with ArbitrationDenied regardless of
//     privilege;
//  3. the caller must hold the policy's required class for the
//     target, and leaving defend always requires an operator.
//
// Approved requests mutate the mode and append the ledger entry in
// the same transaction. Denied requests are recorded with their
// reason and returned alongside a structured error carrying the
// denial's ledger sequence.
func (a *Arbiter) RequestModeChange(ctx context.Context, caller schema.Caller, target schema.Mode, justification string) (schema.ModeChangeRequest, error) {
	if _, err := schema.ParseMode(string(target)); err != nil {
		return schema.ModeChangeRequest{}, schema.NewError(schema.CodeInvalidTransition, "%v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	request := schema.ModeChangeRequest{
		ID:             uuid.NewString(),
		Requester:      caller.ID,
		RequesterClass: caller.Class,
		From:           a.current,
		Target:         target,
		Justification:  justification,
		SubmittedAt:    a.clock.Now(),
	}

	var denialCode schema.ErrorCode
	switch {
	case !reachable(a.current, target):
		denialCode = schema.CodeInvalidTransition
		request.Reason = fmt.Sprintf("mode %s is not reachable from %s", target, a.current)

	case target != schema.ModeDefend && a.recentTransitionsLocked() >= a.policy.Arbiter.ThrashLimit:
		denialCode = schema.CodeArbitrationDenied
		request.Reason = fmt.Sprintf("%d transitions in the last %s, limit %d: only defend is available until the window clears",
			len(a.transitions), a.policy.Arbiter.ThrashWindow, a.policy.Arbiter.ThrashLimit)

	case !a.privileged(caller.Class, target):
		denialCode = schema.CodeArbitrationDenied
		request.Reason = fmt.Sprintf("caller class %s may not request mode %s", caller.Class, target)

	case a.current == schema.ModeDefend && caller.Class != schema.ClassOperator:
		denialCode = schema.CodeArbitrationDenied
		request.Reason = "leaving defend requires operator confirmation"
	}

	approved := denialCode == ""
	if approved {
		request.Resolution = schema.ResolutionApproved
	} else {
		request.Resolution = schema.ResolutionDenied
	}

	seq, err := a.persistDecision(ctx, &request)
	if err != nil {
		return schema.ModeChangeRequest{}, err
	}
	request.LedgerSeq = seq

	if approved {
		a.current = target
		a.enteredAt = request.SubmittedAt
		a.transitions = append(a.transitions, request.SubmittedAt)
		a.logger.Info("mode transition",
			"from", request.From,
			"to", request.Target,
			"requester", caller.ID,
			"ledger_seq", seq,
		)
	} else {
		a.logger.Warn("mode request denied",
			"from", request.From,
			"target", request.Target,
			"requester", caller.ID,
			"reason", request.Reason,
			"ledger_seq", seq,
		)
	}

	if a.onResolution != nil {
		a.onResolution(caller.ID, approved)
	}

	if !approved {
		return request, schema.NewLoggedError(denialCode, seq, "%s", request.Reason)
	}
	return request, nil
}

// privileged reports whether a caller class satisfies the policy's
// escalation privilege for a target mode. Operators satisfy every
// requirement; agents and auditors only agent-level ones.
func (a *Arbiter) privileged(class schema.CallerClass, target schema.Mode) bool {
	required := a.policy.Arbiter.EscalationPrivilege[target]
	if required == schema.ClassOperator {
		return class == schema.ClassOperator
	}
	return true
}

// persistDecision writes the resolved request, its ledger entry, and
// (for approvals) the mode_state row in one transaction. Caller must
// hold a.mu.
func (a *Arbiter) persistDecision(ctx context.Context, request *schema.ModeChangeRequest) (seq uint64, err error) {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("arbiter: persisting decision: %w", err)
	}
	defer a.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("arbiter: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	payload, err := codec.Marshal(transitionPayload{
		RequestID:     request.ID,
		Requester:     request.Requester,
		Class:         request.RequesterClass,
		From:          request.From,
		Target:        request.Target,
		Justification: request.Justification,
		Reason:        request.Reason,
	})
	if err != nil {
		return 0, fmt.Errorf("arbiter: encoding payload: %w", err)
	}

	kind := schema.KindModeTransition
	outcome := schema.OutcomeCommitted
	if request.Resolution == schema.ResolutionDenied {
		kind = schema.KindModeDenied
		outcome = schema.OutcomeFailed
	}

	entry, err := a.ledger.AppendTx(conn, ledger.Record{
		Actor:   request.Requester,
		Kind:    kind,
		Payload: payload,
		Outcome: outcome,
	})
	if err != nil {
		return 0, err
	}

	if request.Resolution == schema.ResolutionApproved {
		err = sqlitex.Execute(conn, `UPDATE mode_state SET mode = ?, entered_at_ns = ?
			WHERE id = 1`, &sqlitex.ExecOptions{
			Args: []any{string(request.Target), request.SubmittedAt.UnixNano()},
		})
		if err != nil {
			return 0, fmt.Errorf("arbiter: updating mode state: %w", err)
		}
	}

	err = sqlitex.Execute(conn, `INSERT INTO mode_requests
		(id, requester, requester_class, from_mode, target_mode,
		 justification, submitted_at_ns, resolution, reason, ledger_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			request.ID,
			request.Requester,
			string(request.RequesterClass),
			string(request.From),
			string(request.Target),
			request.Justification,
			request.SubmittedAt.UnixNano(),
			string(request.Resolution),
			request.Reason,
			int64(entry.Sequence),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("arbiter: recording request: %w", err)
	}

	return entry.Sequence, nil
}

// Requests returns the most recent mode-change requests, newest
// first, up to limit.
func (a *Arbiter) Requests(ctx context.Context, limit int) ([]schema.ModeChangeRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := a.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("arbiter: listing requests: %w", err)
	}
	defer a.pool.Put(conn)

	var requests []schema.ModeChangeRequest
	err = sqlitex.Execute(conn, `SELECT id, requester, requester_class, from_mode,
		target_mode, justification, submitted_at_ns, resolution, reason, ledger_seq
		FROM mode_requests ORDER BY submitted_at_ns DESC, rowid DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				requests = append(requests, schema.ModeChangeRequest{
					ID:             stmt.ColumnText(0),
					Requester:      stmt.ColumnText(1),
					RequesterClass: schema.CallerClass(stmt.ColumnText(2)),
					From:           schema.Mode(stmt.ColumnText(3)),
					Target:         schema.Mode(stmt.ColumnText(4)),
					Justification:  stmt.ColumnText(5),
					SubmittedAt:    time.Unix(0, stmt.ColumnInt64(6)),
					Resolution:     schema.Resolution(stmt.ColumnText(7)),
					Reason:         stmt.ColumnText(8),
					LedgerSeq:      uint64(stmt.ColumnInt64(9)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("arbiter: scanning requests: %w", err)
	}
	return requests, nil
}
