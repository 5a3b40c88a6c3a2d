// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package guardian

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

// Schema is the guardian's SQLite schema: the agent registry it is
// the status authority for, quarantine records, checkpoints, and the
// active checkpoint pointer.
const Schema = `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id         TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		status           TEXT NOT NULL,
		registered_at_ns INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS quarantine_records (
		agent_id          TEXT NOT NULL,
		rule              TEXT NOT NULL,
		reason            TEXT NOT NULL,
		status            TEXT NOT NULL,
		quarantined_at_ns INTEGER NOT NULL,
		released_at_ns    INTEGER,
		ledger_seq        INTEGER NOT NULL,
		PRIMARY KEY (agent_id, quarantined_at_ns)
	);
	CREATE TABLE IF NOT EXISTS checkpoints (
		id            TEXT PRIMARY KEY,
		sequence      INTEGER NOT NULL,
		created_by    TEXT NOT NULL,
		created_at_ns INTEGER NOT NULL,
		description   TEXT
	);
	CREATE TABLE IF NOT EXISTS guardian_state (
		id                INTEGER PRIMARY KEY CHECK (id = 1),
		active_checkpoint TEXT
	);
`

// guardianActor is the ledger actor for automatic guardian decisions.
// Manual overrides record the operator as the actor instead.
const guardianActor = "kernel/guardian"

// Config holds the parameters for creating a guardian.
type Config struct {
	// Pool is the shared kernel database pool. Required.
	Pool *sqlitepool.Pool

	// Ledger records guardian decisions. Required.
	Ledger *ledger.Store

	// Policy supplies rule thresholds and time budgets. Required.
	Policy *policy.Policy

	// Clock bounds evaluation and schedules review deadlines.
	// Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// StateMu serializes rollback with mode transitions. Share the
	// arbiter's lock here. Optional; the guardian allocates its own
	// when nil.
	StateMu *sync.Mutex

	// Rule is an optional external rule consulted after the built-in
	// ones.
	Rule RuleFunc
}

// Guardian polices agent behavior. Safe for concurrent use.
type Guardian struct {
	pool    *sqlitepool.Pool
	ledger  *ledger.Store
	policy  *policy.Policy
	clock   clock.Clock
	logger  *slog.Logger
	stateMu *sync.Mutex
	rule    RuleFunc

	// mu guards the in-memory mirrors: agent statuses (the fast path
	// for CheckActive), behavior streaks, and pending reviews.
	mu              sync.Mutex
	statuses        map[string]schema.AgentStatus
	rejectionStreak map[string]int
	denialStreak    map[string]int
	pendingReviews  map[uint64]*pendingReview
}

// pendingReview is a provisionally allowed action awaiting a verdict.
type pendingReview struct {
	agentID string
	timer   *clock.Timer
}

// Ledger payload shapes for guardian decisions.
type quarantinePayload struct {
	AgentID string `json:"agent_id"`
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
}

type releasePayload struct {
	AgentID  string `json:"agent_id"`
	Operator string `json:"operator"`
}

type terminatePayload struct {
	AgentID  string `json:"agent_id"`
	Operator string `json:"operator"`
	Reason   string `json:"reason,omitempty"`
}

type registrationPayload struct {
	AgentID string           `json:"agent_id"`
	Kind    schema.AgentKind `json:"kind"`
}

type reviewFlagPayload struct {
	AgentID string     `json:"agent_id"`
	Signal  SignalKind `json:"signal"`
}

type reviewResolvedPayload struct {
	FlagSeq uint64 `json:"flag_seq"`
	Fired   bool   `json:"fired"`
	Rule    string `json:"rule,omitempty"`
}

// New creates a guardian over the shared kernel pool, loading agent
// statuses from the registry.
func New(cfg Config) (*Guardian, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("guardian: Pool is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("guardian: Ledger is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("guardian: Policy is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("guardian: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("guardian: Logger is required")
	}

	stateMu := cfg.StateMu
	if stateMu == nil {
		stateMu = &sync.Mutex{}
	}

	g := &Guardian{
		pool:            cfg.Pool,
		ledger:          cfg.Ledger,
		policy:          cfg.Policy,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		stateMu:         stateMu,
		rule:            cfg.Rule,
		statuses:        make(map[string]schema.AgentStatus),
		rejectionStreak: make(map[string]int),
		denialStreak:    make(map[string]int),
		pendingReviews:  make(map[uint64]*pendingReview),
	}
	if err := g.loadStatuses(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Guardian) loadStatuses() error {
	conn, err := g.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("guardian: loading statuses: %w", err)
	}
	defer g.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT agent_id, status FROM agents`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			g.statuses[stmt.ColumnText(0)] = schema.AgentStatus(stmt.ColumnText(1))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("guardian: scanning statuses: %w", err)
	}
	return nil
}

// RegisterAgent registers a new agent as active, creating its
// registry row, running the caller's setup (the budget account), and
// appending the registration entry in one transaction.
func (g *Guardian) RegisterAgent(ctx context.Context, id string, kind schema.AgentKind, setup func(*sqlite.Conn) error) (agent schema.Agent, err error) {
	g.mu.Lock()
	_, exists := g.statuses[id]
	g.mu.Unlock()
	if exists {
		return schema.Agent{}, fmt.Errorf("guardian: agent %q is already registered", id)
	}

	agent = schema.Agent{
		ID:           id,
		Kind:         kind,
		Status:       schema.StatusActive,
		RegisteredAt: g.clock.Now(),
	}

	conn, err := g.pool.Take(ctx)
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: register: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `INSERT INTO agents
		(agent_id, kind, status, registered_at_ns) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{id, string(kind), string(agent.Status), agent.RegisteredAt.UnixNano()},
		})
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: inserting agent %s: %w", id, err)
	}

	if setup != nil {
		if err = setup(conn); err != nil {
			return schema.Agent{}, err
		}
	}

	payload, err := codec.Marshal(registrationPayload{AgentID: id, Kind: kind})
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: encoding registration: %w", err)
	}
	if _, err = g.ledger.AppendTx(conn, ledger.Record{
		Actor:   id,
		Kind:    schema.KindAgentRegistered,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	}); err != nil {
		return schema.Agent{}, err
	}

	g.mu.Lock()
	g.statuses[id] = schema.StatusActive
	g.mu.Unlock()

	g.logger.Info("agent registered", "agent", id, "kind", kind)
	return agent, nil
}

// CheckActive is the structural gate: it rejects quarantined and
// terminated agents before any cost or mode logic runs, and unknown
// agents before that.
func (g *Guardian) CheckActive(agentID string) error {
	g.mu.Lock()
	status, known := g.statuses[agentID]
	g.mu.Unlock()

	switch {
	case !known:
		return schema.NewError(schema.CodeUnknownAgent, "agent %q is not registered", agentID)
	case status == schema.StatusQuarantined:
		return schema.NewError(schema.CodeAgentQuarantined, "agent %q is quarantined", agentID)
	case status == schema.StatusTerminated:
		return schema.NewError(schema.CodeAgentTerminated, "agent %q is terminated", agentID)
	}
	return nil
}

// Agent returns the registry record for an agent.
func (g *Guardian) Agent(ctx context.Context, agentID string) (schema.Agent, error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: agent: %w", err)
	}
	defer g.pool.Put(conn)

	var agent schema.Agent
	found := false
	err = sqlitex.Execute(conn, `SELECT agent_id, kind, status, registered_at_ns
		FROM agents WHERE agent_id = ?`, &sqlitex.ExecOptions{
		Args: []any{agentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agent = schema.Agent{
				ID:           stmt.ColumnText(0),
				Kind:         schema.AgentKind(stmt.ColumnText(1)),
				Status:       schema.AgentStatus(stmt.ColumnText(2)),
				RegisteredAt: time.Unix(0, stmt.ColumnInt64(3)),
			}
			found = true
			return nil
		},
	})
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: reading agent %s: %w", agentID, err)
	}
	if !found {
		return schema.Agent{}, schema.NewError(schema.CodeUnknownAgent, "agent %q is not registered", agentID)
	}
	return agent, nil
}

// Agents returns every registered agent, ordered by registration.
func (g *Guardian) Agents(ctx context.Context) ([]schema.Agent, error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardian: agents: %w", err)
	}
	defer g.pool.Put(conn)

	var agents []schema.Agent
	err = sqlitex.Execute(conn, `SELECT agent_id, kind, status, registered_at_ns
		FROM agents ORDER BY registered_at_ns, agent_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agents = append(agents, schema.Agent{
				ID:           stmt.ColumnText(0),
				Kind:         schema.AgentKind(stmt.ColumnText(1)),
				Status:       schema.AgentStatus(stmt.ColumnText(2)),
				RegisteredAt: time.Unix(0, stmt.ColumnInt64(3)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("guardian: scanning agents: %w", err)
	}
	return agents, nil
}

// Evaluate runs the guardian rules against a signal, bounded by the
// policy evaluation budget. Within budget, a fired rule quarantines
// the agent before Evaluate returns. On overrun the action is
// provisionally allowed: a review flag is appended, the evaluation
// continues in the background, and a verdict that misses the review
// deadline escalates to automatic quarantine.
func (g *Guardian) Evaluate(ctx context.Context, agentID string, signal Signal) Decision {
	verdicts := make(chan verdict, 1)
	go func() {
		verdicts <- g.runRules(agentID, signal)
	}()

	select {
	case v := <-verdicts:
		return g.applyVerdict(ctx, agentID, v)

	case <-g.clock.After(g.policy.Guardian.EvaluationBudget):
		return g.provisionalAllow(agentID, signal, verdicts)
	}
}

// runRules applies the built-in rules, then the external one.
func (g *Guardian) runRules(agentID string, signal Signal) verdict {
	g.mu.Lock()
	var v verdict
	switch signal.Kind {
	case SignalDebitVelocity:
		v = verdict{fire: true, rule: "debit_velocity",
			reason: fmt.Sprintf("%d debits in %s", signal.Observed, signal.Window)}

	case SignalBudgetRejected:
		g.rejectionStreak[agentID]++
		if streak := g.rejectionStreak[agentID]; streak >= g.policy.Guardian.RejectionStreakLimit {
			g.rejectionStreak[agentID] = 0
			v = verdict{fire: true, rule: "budget_rejection_streak",
				reason: fmt.Sprintf("%d consecutive insufficient-budget rejections", streak)}
		}

	case SignalDebitAccepted:
		g.rejectionStreak[agentID] = 0

	case SignalModeDenied:
		g.denialStreak[agentID]++
		if streak := g.denialStreak[agentID]; streak >= g.policy.Guardian.DenialStreakLimit {
			g.denialStreak[agentID] = 0
			v = verdict{fire: true, rule: "mode_denial_streak",
				reason: fmt.Sprintf("%d consecutive denied mode requests", streak)}
		}

	case SignalModeApproved:
		g.denialStreak[agentID] = 0
	}
	g.mu.Unlock()

	if !v.fire && g.rule != nil {
		if fire, rule, reason := g.rule(agentID, signal); fire {
			v = verdict{fire: true, rule: rule, reason: reason}
		}
	}
	return v
}

// applyVerdict quarantines when the verdict fired.
func (g *Guardian) applyVerdict(ctx context.Context, agentID string, v verdict) Decision {
	if !v.fire {
		return Decision{}
	}
	if _, err := g.quarantine(ctx, guardianActor, agentID, v.rule, v.reason); err != nil {
		g.logger.Error("quarantine failed", "agent", agentID, "rule", v.rule, "error", err)
		return Decision{}
	}
	return Decision{Quarantined: true, Rule: v.rule}
}

// provisionalAllow flags an overrunning evaluation and schedules its
// deadline. The flag entry is the availability/enforcement tradeoff
// made auditable.
func (g *Guardian) provisionalAllow(agentID string, signal Signal, verdicts <-chan verdict) Decision {
	payload, err := codec.Marshal(reviewFlagPayload{AgentID: agentID, Signal: signal.Kind})
	if err != nil {
		g.logger.Error("encoding review flag", "agent", agentID, "error", err)
		return Decision{}
	}
	flag, err := g.ledger.AppendRetry(context.Background(), ledger.Record{
		Actor:   guardianActor,
		Kind:    schema.KindReviewFlag,
		Payload: payload,
		Outcome: schema.OutcomeIntent,
	})
	if err != nil {
		g.logger.Error("appending review flag", "agent", agentID, "error", err)
		return Decision{}
	}

	review := &pendingReview{agentID: agentID}
	review.timer = g.clock.AfterFunc(g.policy.Guardian.ReviewDeadline, func() {
		g.escalateReview(flag.Sequence)
	})

	g.mu.Lock()
	g.pendingReviews[flag.Sequence] = review
	g.mu.Unlock()

	go func() {
		g.resolveReview(flag.Sequence, <-verdicts)
	}()

	g.logger.Warn("evaluation overran its budget, action provisionally allowed",
		"agent", agentID,
		"signal", signal.Kind,
		"flag_seq", flag.Sequence,
		"deadline", g.policy.Guardian.ReviewDeadline,
	)
	return Decision{Provisional: true, FlagSeq: flag.Sequence}
}

// resolveReview lands a late verdict. First claimant wins: if the
// deadline already escalated, the verdict is dropped.
func (g *Guardian) resolveReview(flagSeq uint64, v verdict) {
	g.mu.Lock()
	review, ok := g.pendingReviews[flagSeq]
	if ok {
		delete(g.pendingReviews, flagSeq)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	review.timer.Stop()

	payload, err := codec.Marshal(reviewResolvedPayload{FlagSeq: flagSeq, Fired: v.fire, Rule: v.rule})
	if err != nil {
		g.logger.Error("encoding review resolution", "flag_seq", flagSeq, "error", err)
		return
	}
	if _, err := g.ledger.AppendRetry(context.Background(), ledger.Record{
		Actor:   guardianActor,
		Kind:    schema.KindReviewResolved,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	}); err != nil {
		g.logger.Error("appending review resolution", "flag_seq", flagSeq, "error", err)
	}

	if v.fire {
		if _, err := g.quarantine(context.Background(), guardianActor, review.agentID, v.rule, v.reason); err != nil {
			g.logger.Error("quarantine after review failed", "agent", review.agentID, "error", err)
		}
	}
}

// escalateReview fires when a flag outlives the review deadline
// unresolved: the provisional allowance expires into quarantine.
func (g *Guardian) escalateReview(flagSeq uint64) {
	g.mu.Lock()
	review, ok := g.pendingReviews[flagSeq]
	if ok {
		delete(g.pendingReviews, flagSeq)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	reason := fmt.Sprintf("review flag %d unresolved past the deadline", flagSeq)
	if _, err := g.quarantine(context.Background(), guardianActor, review.agentID, "review_timeout", reason); err != nil {
		g.logger.Error("deadline quarantine failed", "agent", review.agentID, "error", err)
	}
}

// PendingReviews reports how many provisional allowances are awaiting
// a verdict.
func (g *Guardian) PendingReviews() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pendingReviews)
}

// Quarantine is the manual override: an operator isolates an agent
// directly, outside the rule machinery.
func (g *Guardian) Quarantine(ctx context.Context, operator, agentID, reason string) (schema.QuarantineRecord, error) {
	return g.quarantine(ctx, operator, agentID, "manual", reason)
}

// quarantine isolates an agent. A repeat trigger against an
// already-quarantined agent accumulates its reason onto the active
// record instead of opening a second one; either way the trigger gets
// its own ledger entry.
func (g *Guardian) quarantine(ctx context.Context, actor, agentID, rule, reason string) (record schema.QuarantineRecord, err error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: quarantine: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	agent, err := agentConn(conn, agentID)
	if err != nil {
		return schema.QuarantineRecord{}, err
	}
	if agent.Status == schema.StatusTerminated {
		return schema.QuarantineRecord{}, schema.NewError(schema.CodeAgentTerminated,
			"agent %q is terminated", agentID)
	}

	payload, err := codec.Marshal(quarantinePayload{AgentID: agentID, Rule: rule, Reason: reason})
	if err != nil {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: encoding quarantine: %w", err)
	}
	entry, err := g.ledger.AppendTx(conn, ledger.Record{
		Actor:   actor,
		Kind:    schema.KindQuarantine,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	})
	if err != nil {
		return schema.QuarantineRecord{}, err
	}

	if agent.Status == schema.StatusQuarantined {
		record, err = activeRecordConn(conn, agentID)
		if err != nil {
			return schema.QuarantineRecord{}, err
		}
		record.Reason = record.Reason + "; " + reason
		err = sqlitex.Execute(conn, `UPDATE quarantine_records SET reason = ?
			WHERE agent_id = ? AND status = ?`, &sqlitex.ExecOptions{
			Args: []any{record.Reason, agentID, string(schema.QuarantineActive)},
		})
		if err != nil {
			return schema.QuarantineRecord{}, fmt.Errorf("guardian: accumulating reason for %s: %w", agentID, err)
		}
	} else {
		record = schema.QuarantineRecord{
			AgentID:       agentID,
			Rule:          rule,
			Reason:        reason,
			Status:        schema.QuarantineActive,
			QuarantinedAt: g.clock.Now(),
			LedgerSeq:     entry.Sequence,
		}
		err = sqlitex.Execute(conn, `INSERT INTO quarantine_records
			(agent_id, rule, reason, status, quarantined_at_ns, ledger_seq)
			VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				agentID, rule, record.Reason, string(record.Status),
				record.QuarantinedAt.UnixNano(), int64(entry.Sequence),
			},
		})
		if err != nil {
			return schema.QuarantineRecord{}, fmt.Errorf("guardian: recording quarantine of %s: %w", agentID, err)
		}
		err = setStatusConn(conn, agentID, schema.StatusQuarantined)
		if err != nil {
			return schema.QuarantineRecord{}, err
		}
	}

	g.mu.Lock()
	g.statuses[agentID] = schema.StatusQuarantined
	g.mu.Unlock()

	g.logger.Warn("agent quarantined",
		"agent", agentID,
		"rule", rule,
		"reason", reason,
		"ledger_seq", entry.Sequence,
	)
	return record, nil
}

// Release lifts an active quarantine. Operator-only by contract;
// terminated agents stay terminated.
func (g *Guardian) Release(ctx context.Context, operator, agentID string) (err error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("guardian: release: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	agent, err := agentConn(conn, agentID)
	if err != nil {
		return err
	}
	switch agent.Status {
	case schema.StatusTerminated:
		return schema.NewError(schema.CodeAgentTerminated, "agent %q is terminated", agentID)
	case schema.StatusActive:
		return fmt.Errorf("guardian: agent %q is not quarantined", agentID)
	}

	now := g.clock.Now()
	err = sqlitex.Execute(conn, `UPDATE quarantine_records
		SET status = ?, released_at_ns = ? WHERE agent_id = ? AND status = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(schema.QuarantineReleased), now.UnixNano(), agentID, string(schema.QuarantineActive)},
		})
	if err != nil {
		return fmt.Errorf("guardian: releasing %s: %w", agentID, err)
	}
	if err = setStatusConn(conn, agentID, schema.StatusActive); err != nil {
		return err
	}

	payload, err := codec.Marshal(releasePayload{AgentID: agentID, Operator: operator})
	if err != nil {
		return fmt.Errorf("guardian: encoding release: %w", err)
	}
	if _, err = g.ledger.AppendTx(conn, ledger.Record{
		Actor:   operator,
		Kind:    schema.KindQuarantineLifted,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	}); err != nil {
		return err
	}

	g.mu.Lock()
	g.statuses[agentID] = schema.StatusActive
	g.rejectionStreak[agentID] = 0
	g.denialStreak[agentID] = 0
	g.mu.Unlock()

	g.logger.Info("quarantine released", "agent", agentID, "operator", operator)
	return nil
}

// Terminate irreversibly retires an agent. An active quarantine
// record escalates; the agent row is never deleted.
func (g *Guardian) Terminate(ctx context.Context, operator, agentID, reason string) (err error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("guardian: terminate: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	agent, err := agentConn(conn, agentID)
	if err != nil {
		return err
	}
	if agent.Status == schema.StatusTerminated {
		return schema.NewError(schema.CodeAgentTerminated, "agent %q is already terminated", agentID)
	}

	if agent.Status == schema.StatusQuarantined {
		err = sqlitex.Execute(conn, `UPDATE quarantine_records SET status = ?
			WHERE agent_id = ? AND status = ?`, &sqlitex.ExecOptions{
			Args: []any{string(schema.QuarantineEscalated), agentID, string(schema.QuarantineActive)},
		})
		if err != nil {
			return fmt.Errorf("guardian: escalating quarantine of %s: %w", agentID, err)
		}
	}
	if err = setStatusConn(conn, agentID, schema.StatusTerminated); err != nil {
		return err
	}

	payload, err := codec.Marshal(terminatePayload{AgentID: agentID, Operator: operator, Reason: reason})
	if err != nil {
		return fmt.Errorf("guardian: encoding termination: %w", err)
	}
	if _, err = g.ledger.AppendTx(conn, ledger.Record{
		Actor:   operator,
		Kind:    schema.KindTermination,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	}); err != nil {
		return err
	}

	g.mu.Lock()
	g.statuses[agentID] = schema.StatusTerminated
	g.mu.Unlock()

	g.logger.Warn("agent terminated", "agent", agentID, "operator", operator, "reason", reason)
	return nil
}

// ActiveQuarantine returns the active quarantine record for an agent.
func (g *Guardian) ActiveQuarantine(ctx context.Context, agentID string) (schema.QuarantineRecord, error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: active quarantine: %w", err)
	}
	defer g.pool.Put(conn)
	return activeRecordConn(conn, agentID)
}

func agentConn(conn *sqlite.Conn, agentID string) (schema.Agent, error) {
	var agent schema.Agent
	found := false
	err := sqlitex.Execute(conn, `SELECT kind, status FROM agents WHERE agent_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{agentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				agent = schema.Agent{
					ID:     agentID,
					Kind:   schema.AgentKind(stmt.ColumnText(0)),
					Status: schema.AgentStatus(stmt.ColumnText(1)),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.Agent{}, fmt.Errorf("guardian: reading agent %s: %w", agentID, err)
	}
	if !found {
		return schema.Agent{}, schema.NewError(schema.CodeUnknownAgent, "agent %q is not registered", agentID)
	}
	return agent, nil
}

func setStatusConn(conn *sqlite.Conn, agentID string, status schema.AgentStatus) error {
	err := sqlitex.Execute(conn, `UPDATE agents SET status = ? WHERE agent_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(status), agentID}})
	if err != nil {
		return fmt.Errorf("guardian: setting status of %s: %w", agentID, err)
	}
	return nil
}

func activeRecordConn(conn *sqlite.Conn, agentID string) (schema.QuarantineRecord, error) {
	var record schema.QuarantineRecord
	found := false
	err := sqlitex.Execute(conn, `SELECT rule, reason, status, quarantined_at_ns, released_at_ns, ledger_seq
		FROM quarantine_records WHERE agent_id = ? AND status = ?`, &sqlitex.ExecOptions{
		Args: []any{agentID, string(schema.QuarantineActive)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = schema.QuarantineRecord{
				AgentID:       agentID,
				Rule:          stmt.ColumnText(0),
				Reason:        stmt.ColumnText(1),
				Status:        schema.QuarantineStatus(stmt.ColumnText(2)),
				QuarantinedAt: time.Unix(0, stmt.ColumnInt64(3)),
				LedgerSeq:     uint64(stmt.ColumnInt64(5)),
			}
			found = true
			return nil
		},
	})
	if err != nil {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: reading quarantine of %s: %w", agentID, err)
	}
	if !found {
		return schema.QuarantineRecord{}, fmt.Errorf("guardian: agent %q has no active quarantine", agentID)
	}
	return record, nil
}
