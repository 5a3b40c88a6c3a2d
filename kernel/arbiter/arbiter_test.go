// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package arbiter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/sqlitepool"
)

var (
	operator = schema.Caller{ID: "operator/alice", Class: schema.ClassOperator}
	agent    = schema.Caller{ID: "task/worker", Class: schema.ClassAgent}
)

type testEnv struct {
	arbiter *Arbiter
	ledger  *ledger.Store
	clock   *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "kernel.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, ledger.Schema+Schema, nil)
		},
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledgerStore, err := ledger.New(ledger.Config{Pool: pool, Clock: fakeClock, Logger: logger})
	if err != nil {
		t.Fatalf("creating ledger: %v", err)
	}

	arb, err := New(Config{
		Pool:   pool,
		Ledger: ledgerStore,
		Policy: policy.Default(),
		Clock:  fakeClock,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("creating arbiter: %v", err)
	}

	return &testEnv{arbiter: arb, ledger: ledgerStore, clock: fakeClock}
}

// escalateTo walks the arbiter from observe to the given mode using
// operator requests, advancing the clock past the thrash window
// between steps so the walk itself never trips the limit.
func (env *testEnv) escalateTo(t *testing.T, target schema.Mode) {
	t.Helper()
	path := map[schema.Mode][]schema.Mode{
		schema.ModeObserve: {},
		schema.ModeAlert:   {schema.ModeAlert},
		schema.ModeAct:     {schema.ModeAlert, schema.ModeAct},
		schema.ModeDefend:  {schema.ModeDefend},
	}
	for _, step := range path[target] {
		env.clock.Advance(2 * time.Minute)
		if _, err := env.arbiter.RequestModeChange(context.Background(), operator, step, "test setup"); err != nil {
			t.Fatalf("escalating to %s (step %s): %v", target, step, err)
		}
	}
	env.clock.Advance(2 * time.Minute)
}

func TestTransitionTableTotality(t *testing.T) {
	modes := []schema.Mode{schema.ModeObserve, schema.ModeAlert, schema.ModeAct, schema.ModeDefend}

	// Reachability as specified: one-step escalation, de-escalation
	// to observe, defend from anywhere, defend exits only to observe.
	wantReachable := map[schema.Mode]map[schema.Mode]bool{
		schema.ModeObserve: {schema.ModeAlert: true, schema.ModeDefend: true},
		schema.ModeAlert:   {schema.ModeAct: true, schema.ModeObserve: true, schema.ModeDefend: true},
		schema.ModeAct:     {schema.ModeObserve: true, schema.ModeDefend: true},
		schema.ModeDefend:  {schema.ModeObserve: true},
	}

	for _, from := range modes {
		for _, target := range modes {
			t.Run(string(from)+"_to_"+string(target), func(t *testing.T) {
				env := newTestEnv(t)
				env.escalateTo(t, from)

				request, err := env.arbiter.RequestModeChange(context.Background(), operator, target, "sweep")
				if wantReachable[from][target] {
					if err != nil {
						t.Fatalf("reachable pair rejected: %v", err)
					}
					if env.arbiter.Current().Mode != target {
						t.Errorf("mode = %s after approval, want %s", env.arbiter.Current().Mode, target)
					}
				} else {
					if !schema.IsCode(err, schema.CodeInvalidTransition) {
						t.Fatalf("unreachable pair error = %v, want invalid transition", err)
					}
					if request.Resolution != schema.ResolutionDenied {
						t.Errorf("resolution = %s, want denied", request.Resolution)
					}
					if env.arbiter.Current().Mode != from {
						t.Errorf("denied request moved the mode to %s", env.arbiter.Current().Mode)
					}
				}
			})
		}
	}
}

func TestEscalationPrivilege(t *testing.T) {
	// Default policy: alert is agent-requestable, act and defend need
	// an operator.
	t.Run("agent may raise alert", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.arbiter.RequestModeChange(context.Background(), agent, schema.ModeAlert, "saw something"); err != nil {
			t.Fatalf("agent alert request: %v", err)
		}
	})

	t.Run("agent may not reach act", func(t *testing.T) {
		env := newTestEnv(t)
		env.escalateTo(t, schema.ModeAlert)
		request, err := env.arbiter.RequestModeChange(context.Background(), agent, schema.ModeAct, "let me act")
		if !schema.IsCode(err, schema.CodeArbitrationDenied) {
			t.Fatalf("error = %v, want arbitration denied", err)
		}
		if request.LedgerSeq == 0 || schema.ErrSeq(err) != request.LedgerSeq {
			t.Errorf("denial not ledger-recorded: %+v", request)
		}
	})

	t.Run("agent may not request defend", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.arbiter.RequestModeChange(context.Background(), agent, schema.ModeDefend, "panic"); !schema.IsCode(err, schema.CodeArbitrationDenied) {
			t.Fatalf("error = %v, want arbitration denied", err)
		}
	})

	t.Run("agent may request de-escalation but not from defend", func(t *testing.T) {
		env := newTestEnv(t)
		env.escalateTo(t, schema.ModeAlert)
		if _, err := env.arbiter.RequestModeChange(context.Background(), agent, schema.ModeObserve, "all clear"); err != nil {
			t.Fatalf("agent de-escalation from alert: %v", err)
		}

		env.escalateTo(t, schema.ModeDefend)
		if _, err := env.arbiter.RequestModeChange(context.Background(), agent, schema.ModeObserve, "all clear"); !schema.IsCode(err, schema.CodeArbitrationDenied) {
			t.Fatalf("leaving defend must require an operator, got %v", err)
		}
		if _, err := env.arbiter.RequestModeChange(context.Background(), operator, schema.ModeObserve, "confirmed recovery"); err != nil {
			t.Fatalf("operator recovery from defend: %v", err)
		}
	})
}

func TestAntiThrashWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Default thrash policy: 3 transitions per minute. Oscillate
	// observe→alert→observe→alert inside 30 seconds: three approved
	// transitions, then the fourth request is denied solely by the
	// window, operator privilege notwithstanding.
	targets := []schema.Mode{schema.ModeAlert, schema.ModeObserve, schema.ModeAlert}
	for i, target := range targets {
		env.clock.Advance(10 * time.Second)
		if _, err := env.arbiter.RequestModeChange(ctx, operator, target, "oscillating"); err != nil {
			t.Fatalf("transition %d: %v", i+1, err)
		}
	}

	request, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeAct, "fourth in 30s")
	if !schema.IsCode(err, schema.CodeArbitrationDenied) {
		t.Fatalf("error = %v, want arbitration denied from the window limit", err)
	}
	if request.Resolution != schema.ResolutionDenied {
		t.Errorf("resolution = %s", request.Resolution)
	}

	// Defend stays available while the window is saturated.
	if _, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeDefend, "forced toward defend"); err != nil {
		t.Fatalf("defend during thrash: %v", err)
	}

	// Recovery attempt still inside the window is denied too.
	if _, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeObserve, "too soon"); !schema.IsCode(err, schema.CodeArbitrationDenied) {
		t.Fatalf("non-defend during thrash: %v", err)
	}

	// Once the window clears, normal arbitration resumes.
	env.clock.Advance(2 * time.Minute)
	if _, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeObserve, "window cleared"); err != nil {
		t.Fatalf("recovery after window: %v", err)
	}
}

func TestIdenticalRequestIdenticalDecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two identical requests under identical window state must get
	// identical decisions. Denials do not advance the window, so the
	// state really is identical.
	first, err1 := env.arbiter.RequestModeChange(ctx, agent, schema.ModeAct, "same request")
	second, err2 := env.arbiter.RequestModeChange(ctx, agent, schema.ModeAct, "same request")

	if !schema.IsCode(err1, schema.CodeInvalidTransition) || !schema.IsCode(err2, schema.CodeInvalidTransition) {
		t.Fatalf("errors differ: %v vs %v", err1, err2)
	}
	if first.Resolution != second.Resolution || first.Reason != second.Reason {
		t.Errorf("decisions differ: %+v vs %+v", first, second)
	}
}

func TestDecisionsAreLedgerRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeAlert, "up")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_, denyErr := env.arbiter.RequestModeChange(ctx, agent, schema.ModeAct, "up again")
	if denyErr == nil {
		t.Fatal("expected denial")
	}

	entries, err := env.ledger.Range(ctx, 1, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(entries))
	}
	if entries[0].ActionKind != schema.KindModeTransition || entries[0].Outcome != schema.OutcomeCommitted {
		t.Errorf("approval entry = %+v", entries[0])
	}
	if entries[0].Sequence != approved.LedgerSeq {
		t.Errorf("approval seq mismatch: %d vs %d", entries[0].Sequence, approved.LedgerSeq)
	}
	if entries[1].ActionKind != schema.KindModeDenied || entries[1].Outcome != schema.OutcomeFailed {
		t.Errorf("denial entry = %+v", entries[1])
	}

	// The timestamp precedes or equals the moment the mutation is
	// visible: the entry was written in the same transaction that
	// changed the mode.
	state := env.arbiter.Current()
	if entries[0].TimestampNS > state.EnteredAt.UnixNano() {
		t.Error("ledger entry postdates the mode change")
	}
}

// ModeAt derives the mode from transition entries alone: a cutoff
// before a transition excludes it, denials never count, and an empty
// prefix reconstructs the observe seed.
func TestModeAtReplaysTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seed, err := env.ledger.AppendRetry(ctx, ledger.Record{
		Actor:   operator.ID,
		Kind:    schema.KindAgentRegistered,
		Outcome: schema.OutcomeCommitted,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	toAlert, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeAlert, "up")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.arbiter.RequestModeChange(ctx, agent, schema.ModeAct, "up again"); err == nil {
		t.Fatal("expected denial")
	}
	env.clock.Advance(policy.Default().Arbiter.ThrashWindow + time.Second)
	toAct, err := env.arbiter.RequestModeChange(ctx, operator, schema.ModeAct, "engage")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	cases := []struct {
		upTo uint64
		want schema.Mode
	}{
		{seed.Sequence, schema.ModeObserve},
		{toAlert.LedgerSeq, schema.ModeAlert},
		{toAct.LedgerSeq - 1, schema.ModeAlert}, // denial entry changes nothing
		{toAct.LedgerSeq, schema.ModeAct},
		{0, schema.ModeAct},
	}
	for _, tc := range cases {
		state, err := env.arbiter.ModeAt(ctx, tc.upTo)
		if err != nil {
			t.Fatalf("ModeAt(%d): %v", tc.upTo, err)
		}
		if state.Mode != tc.want {
			t.Errorf("ModeAt(%d) = %s, want %s", tc.upTo, state.Mode, tc.want)
		}
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "kernel.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, ledger.Schema+Schema, nil)
		},
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerStore, err := ledger.New(ledger.Config{Pool: pool, Clock: fakeClock, Logger: logger})
	if err != nil {
		t.Fatalf("creating ledger: %v", err)
	}

	cfg := Config{Pool: pool, Ledger: ledgerStore, Policy: policy.Default(), Clock: fakeClock, Logger: logger}
	first, err := New(cfg)
	if err != nil {
		t.Fatalf("creating arbiter: %v", err)
	}
	if _, err := first.RequestModeChange(context.Background(), operator, schema.ModeAlert, "before restart"); err != nil {
		t.Fatalf("request: %v", err)
	}

	second, err := New(cfg)
	if err != nil {
		t.Fatalf("recreating arbiter: %v", err)
	}
	if second.Current().Mode != schema.ModeAlert {
		t.Errorf("mode after restart = %s, want alert", second.Current().Mode)
	}

	requests, err := second.Requests(context.Background(), 10)
	if err != nil || len(requests) != 1 {
		t.Fatalf("requests after restart: %v (%d)", err, len(requests))
	}
	if requests[0].Resolution != schema.ResolutionApproved {
		t.Errorf("recorded request = %+v", requests[0])
	}
}
