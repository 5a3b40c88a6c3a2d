// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/substrate-foundation/substrate/lib/clock"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
)

var agentCaller = schema.Caller{ID: "task/worker", Class: schema.ClassAgent}

type testKernel struct {
	kernel *Kernel
	clock  *clock.FakeClock
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	k, err := New(Config{
		DBPath: filepath.Join(t.TempDir(), "kernel.db"),
		Policy: policy.Default(),
		Clock:  fakeClock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("assembling kernel: %v", err)
	}
	t.Cleanup(func() { k.Close() })
	return &testKernel{kernel: k, clock: fakeClock}
}

func (tk *testKernel) fundAgent(t *testing.T, id string, credits int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := tk.kernel.RegisterAgent(ctx, id, schema.AgentTask); err != nil {
		t.Fatalf("registering %s: %v", id, err)
	}
	if _, _, err := tk.kernel.Budget.Allocate(ctx, "operator/test", id, credits); err != nil {
		t.Fatalf("funding %s: %v", id, err)
	}
}

func TestIntentDebitOutcomeFlow(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 100)
	ctx := context.Background()

	result, intent, err := tk.kernel.SubmitIntent(ctx, agentCaller, "api_call", []byte(`{"url":"https://example.test"}`))
	if err != nil {
		t.Fatalf("submit intent: %v", err)
	}
	if !result.Accepted || result.Remaining != 97 {
		t.Errorf("debit result = %+v", result)
	}
	if intent.ActionKind != "api_call" || intent.Outcome != schema.OutcomeIntent || intent.Actor != "task/worker" {
		t.Errorf("intent entry = %+v", intent)
	}

	outcome, err := tk.kernel.SubmitOutcome(ctx, agentCaller, "api_call", []byte(`{"status":200}`), true)
	if err != nil {
		t.Fatalf("submit outcome: %v", err)
	}
	if outcome.Outcome != schema.OutcomeCommitted || outcome.Sequence != intent.Sequence+1 {
		t.Errorf("outcome entry = %+v", outcome)
	}

	// Registration, allocation, debit, intent, outcome: five entries,
	// chain intact.
	head, _, err := tk.kernel.Ledger.Head(ctx)
	if err != nil || head != 5 {
		t.Errorf("head = %d, %v", head, err)
	}
	report, err := tk.kernel.Ledger.VerifyChain(ctx)
	if err != nil || !report.Intact {
		t.Errorf("chain report = %+v, %v", report, err)
	}
}

func TestQuarantineGateRunsBeforeCostLogic(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 100)
	ctx := context.Background()

	if _, err := tk.kernel.Guardian.Quarantine(ctx, "operator/test", "task/worker", "misbehaving"); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	headBefore, _, err := tk.kernel.Ledger.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	_, _, err = tk.kernel.SubmitIntent(ctx, agentCaller, "api_call", nil)
	if !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("intent error = %v, want quarantined", err)
	}
	if _, err := tk.kernel.SubmitOutcome(ctx, agentCaller, "api_call", nil, true); !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("outcome error = %v, want quarantined", err)
	}

	// No debit ran: balance and ledger untouched.
	account, err := tk.kernel.Budget.Account(ctx, "task/worker")
	if err != nil || account.Remaining() != 100 {
		t.Errorf("account = %+v, %v", account, err)
	}
	headAfter, _, err := tk.kernel.Ledger.Head(ctx)
	if err != nil || headAfter != headBefore {
		t.Errorf("head moved %d -> %d", headBefore, headAfter)
	}
}

func TestVelocityAnomalyTriggersQuarantine(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 100)
	ctx := context.Background()

	// Default velocity policy: more than 3 debits inside the rolling
	// window. The fourth intent fires the anomaly into the guardian.
	for i := 0; i < 4; i++ {
		if _, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "message_send", nil); err != nil {
			t.Fatalf("intent %d: %v", i+1, err)
		}
	}
	if err := tk.kernel.Guardian.CheckActive("task/worker"); !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("gate error = %v, want quarantined", err)
	}
	record, err := tk.kernel.Guardian.ActiveQuarantine(ctx, "task/worker")
	if err != nil || record.Rule != "debit_velocity" {
		t.Errorf("record = %+v, %v", record, err)
	}

	// The fifth intent is rejected at the gate.
	if _, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "message_send", nil); !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("gated intent error = %v", err)
	}

	// Release restores the agent; a slow cadence stays under the
	// limit.
	if err := tk.kernel.Guardian.Release(ctx, "operator/test", "task/worker"); err != nil {
		t.Fatalf("release: %v", err)
	}
	tk.clock.Advance(time.Minute)
	if _, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "message_send", nil); err != nil {
		t.Fatalf("post-release intent: %v", err)
	}
}

func TestModeDenialStreakTriggersQuarantine(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 100)
	ctx := context.Background()

	// Default limit: 3 consecutive denials. Observe cannot reach act,
	// so each request is denied and the resolution feeds the
	// guardian.
	for i := 0; i < 3; i++ {
		if _, err := tk.kernel.Arbiter.RequestModeChange(ctx, agentCaller, schema.ModeAct, "impatient"); err == nil {
			t.Fatalf("request %d approved unexpectedly", i+1)
		}
	}
	if err := tk.kernel.Guardian.CheckActive("task/worker"); !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("gate error = %v, want quarantined", err)
	}
	record, err := tk.kernel.Guardian.ActiveQuarantine(ctx, "task/worker")
	if err != nil || record.Rule != "mode_denial_streak" {
		t.Errorf("record = %+v, %v", record, err)
	}
}

func TestRejectionStreakTriggersQuarantine(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 2)
	ctx := context.Background()

	// Spread the attempts out so the velocity rule stays quiet and
	// the rejection streak is what fires. Default limit: 5.
	for i := 0; i < 4; i++ {
		_, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "model_inference", nil)
		if !schema.IsCode(err, schema.CodeInsufficientBudget) {
			t.Fatalf("intent %d error = %v", i+1, err)
		}
		tk.clock.Advance(time.Minute)
	}
	if err := tk.kernel.Guardian.CheckActive("task/worker"); err != nil {
		t.Fatalf("gated before streak limit: %v", err)
	}

	_, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "model_inference", nil)
	if !schema.IsCode(err, schema.CodeInsufficientBudget) {
		t.Fatalf("fifth intent error = %v", err)
	}
	if err := tk.kernel.Guardian.CheckActive("task/worker"); !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("gate error = %v, want quarantined", err)
	}
	record, err := tk.kernel.Guardian.ActiveQuarantine(ctx, "task/worker")
	if err != nil || record.Rule != "budget_rejection_streak" {
		t.Errorf("record = %+v, %v", record, err)
	}
}

func TestBudgetSummaryHonorsActiveCheckpoint(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 50)
	ctx := context.Background()

	checkpoint, err := tk.kernel.Guardian.CreateCheckpoint(ctx, "operator/test", "before the batch")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	if _, _, err := tk.kernel.SubmitIntent(ctx, agentCaller, "model_inference", nil); err != nil {
		t.Fatalf("intent: %v", err)
	}

	summary, err := tk.kernel.BudgetSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got := summary["task/worker"].Remaining(); got != 42 {
		t.Errorf("live remaining = %d, want 42", got)
	}

	if err := tk.kernel.Guardian.Rollback(ctx, "operator/test", checkpoint.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	summary, err = tk.kernel.BudgetSummary(ctx)
	if err != nil {
		t.Fatalf("summary after rollback: %v", err)
	}
	if got := summary["task/worker"].Remaining(); got != 50 {
		t.Errorf("checkpoint remaining = %d, want 50", got)
	}
}

// Rollback recovery applies to mode the same way it applies to
// balances: a transition approved after the checkpoint disappears
// from the reconstructed state.
func TestModeStateHonorsActiveCheckpoint(t *testing.T) {
	tk := newTestKernel(t)
	ctx := context.Background()
	operator := schema.Caller{ID: "operator/test", Class: schema.ClassOperator}

	checkpoint, err := tk.kernel.Guardian.CreateCheckpoint(ctx, "operator/test", "while observing")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	if _, err := tk.kernel.Arbiter.RequestModeChange(ctx, operator, schema.ModeAlert, "suspicious traffic"); err != nil {
		t.Fatalf("mode request: %v", err)
	}
	state, err := tk.kernel.ModeState(ctx)
	if err != nil {
		t.Fatalf("mode state: %v", err)
	}
	if state.Mode != schema.ModeAlert {
		t.Errorf("live mode = %s, want %s", state.Mode, schema.ModeAlert)
	}

	if err := tk.kernel.Guardian.Rollback(ctx, "operator/test", checkpoint.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	state, err = tk.kernel.ModeState(ctx)
	if err != nil {
		t.Fatalf("mode state after rollback: %v", err)
	}
	if state.Mode != schema.ModeObserve {
		t.Errorf("checkpoint mode = %s, want %s", state.Mode, schema.ModeObserve)
	}
	if tk.kernel.Arbiter.Current().Mode != schema.ModeAlert {
		t.Errorf("live arbiter mode changed during reconstruction")
	}
}

// Every balance must be derivable from the ledger alone: replaying the
// full chain reproduces the live accounts exactly.
func TestNoUnloggedMutation(t *testing.T) {
	tk := newTestKernel(t)
	tk.fundAgent(t, "task/worker", 30)
	tk.fundAgent(t, "task/helper", 10)
	ctx := context.Background()

	helper := schema.Caller{ID: "task/helper", Class: schema.ClassAgent}
	tk.kernel.SubmitIntent(ctx, agentCaller, "api_call", nil)
	tk.clock.Advance(time.Minute)
	tk.kernel.SubmitIntent(ctx, helper, "shell_command", nil)
	tk.clock.Advance(time.Minute)
	tk.kernel.SubmitIntent(ctx, helper, "model_inference", nil) // rejected: 10 - 5 < 8
	tk.clock.Advance(time.Minute)
	tk.kernel.SubmitIntent(ctx, agentCaller, "file_write", nil)

	summary, err := tk.kernel.BudgetSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, id := range []string{"task/worker", "task/helper"} {
		live, err := tk.kernel.Budget.Account(ctx, id)
		if err != nil {
			t.Fatalf("account %s: %v", id, err)
		}
		if summary[id] != live {
			t.Errorf("replayed %s = %+v, live %+v", id, summary[id], live)
		}
	}

	report, err := tk.kernel.Ledger.VerifyChain(ctx)
	if err != nil || !report.Intact {
		t.Errorf("chain report = %+v, %v", report, err)
	}
}
