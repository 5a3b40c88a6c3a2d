// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/substrate-foundation/substrate/kernel"
	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/service"
	"github.com/substrate-foundation/substrate/lib/testutil"
)

// startKernel assembles a kernel and serves the full action surface on
// a temporary socket.
func startKernel(t *testing.T) string {
	t.Helper()

	k, err := kernel.New(kernel.Config{
		DBPath: filepath.Join(t.TempDir(), "kernel.db"),
		Policy: policy.Default(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("assembling kernel: %v", err)
	}
	t.Cleanup(func() { k.Close() })

	socketPath := filepath.Join(testutil.SocketDir(t), "kernel.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	registerActions(server, k)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "socket server shutdown")
	})

	waitForSocket(t, socketPath)
	return socketPath
}

func waitForSocket(t *testing.T, socketPath string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never came up", socketPath)
}

func TestActionSurface(t *testing.T) {
	socketPath := startKernel(t)
	ctx := context.Background()

	operator := service.NewClient(socketPath, schema.Caller{ID: "operator/alice", Class: schema.ClassOperator})
	agent := service.NewClient(socketPath, schema.Caller{ID: "task/worker", Class: schema.ClassAgent})
	auditor := service.NewClient(socketPath, schema.Caller{ID: "auditor/scan", Class: schema.ClassAuditor})

	var registered schema.Agent
	err := operator.Call(ctx, "agent.register", map[string]any{
		"agent_id": "task/worker",
		"kind":     "task",
	}, &registered)
	if err != nil {
		t.Fatalf("agent.register: %v", err)
	}
	if registered.Status != schema.StatusActive {
		t.Errorf("registered = %+v", registered)
	}

	var allocation struct {
		Account   schema.Account `cbor:"account"`
		LedgerSeq uint64         `cbor:"ledger_seq"`
	}
	err = operator.Call(ctx, "budget.allocate", map[string]any{
		"agent_id": "task/worker",
		"amount":   int64(20),
	}, &allocation)
	if err != nil {
		t.Fatalf("budget.allocate: %v", err)
	}
	if allocation.Account.Allocated != 20 {
		t.Errorf("allocation = %+v", allocation)
	}

	var quote struct {
		Kind string `cbor:"kind"`
		Cost int64  `cbor:"cost"`
	}
	if err := agent.Call(ctx, "budget.quote", map[string]any{"kind": "api_call"}, &quote); err != nil {
		t.Fatalf("budget.quote: %v", err)
	}
	if quote.Cost != 3 {
		t.Errorf("quote = %+v", quote)
	}

	var intent struct {
		Debit schema.DebitResult `cbor:"debit"`
		Entry schema.Entry       `cbor:"entry"`
	}
	err = agent.Call(ctx, "action.intent", map[string]any{
		"kind":    "api_call",
		"payload": []byte(`{"url":"https://example.test"}`),
	}, &intent)
	if err != nil {
		t.Fatalf("action.intent: %v", err)
	}
	if !intent.Debit.Accepted || intent.Debit.Remaining != 17 {
		t.Errorf("intent = %+v", intent)
	}

	var outcome schema.Entry
	err = agent.Call(ctx, "action.outcome", map[string]any{
		"kind":      "api_call",
		"payload":   []byte(`{"status":200}`),
		"succeeded": true,
	}, &outcome)
	if err != nil {
		t.Fatalf("action.outcome: %v", err)
	}
	if outcome.Outcome != schema.OutcomeCommitted {
		t.Errorf("outcome entry = %+v", outcome)
	}

	var report ledger.VerifyReport
	if err := auditor.Call(ctx, "ledger.verify", nil, &report); err != nil {
		t.Fatalf("ledger.verify: %v", err)
	}
	if !report.Intact || report.Entries != 5 {
		t.Errorf("report = %+v", report)
	}

	var entries []schema.Entry
	if err := auditor.Call(ctx, "ledger.range", map[string]any{"from": uint64(1)}, &entries); err != nil {
		t.Fatalf("ledger.range: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries", len(entries))
	}
}

func TestCallerClassEnforced(t *testing.T) {
	socketPath := startKernel(t)
	ctx := context.Background()

	agent := service.NewClient(socketPath, schema.Caller{ID: "task/worker", Class: schema.ClassAgent})
	auditor := service.NewClient(socketPath, schema.Caller{ID: "auditor/scan", Class: schema.ClassAuditor})

	err := agent.Call(ctx, "budget.allocate", map[string]any{
		"agent_id": "task/worker",
		"amount":   int64(100),
	}, nil)
	if !schema.IsCode(err, schema.CodePermissionDenied) {
		t.Errorf("agent allocate error = %v", err)
	}

	for _, action := range []string{"guardian.release", "guardian.terminate", "checkpoint.rollback"} {
		err := auditor.Call(ctx, action, map[string]any{"agent_id": "task/worker", "checkpoint_id": "x"}, nil)
		if !schema.IsCode(err, schema.CodePermissionDenied) {
			t.Errorf("auditor %s error = %v", action, err)
		}
	}
}

func TestQuarantineOverSocket(t *testing.T) {
	socketPath := startKernel(t)
	ctx := context.Background()

	operator := service.NewClient(socketPath, schema.Caller{ID: "operator/alice", Class: schema.ClassOperator})
	agent := service.NewClient(socketPath, schema.Caller{ID: "task/worker", Class: schema.ClassAgent})

	if err := operator.Call(ctx, "agent.register", map[string]any{"agent_id": "task/worker", "kind": "task"}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	var record schema.QuarantineRecord
	err := operator.Call(ctx, "guardian.quarantine", map[string]any{
		"agent_id": "task/worker",
		"reason":   "operator judgment",
	}, &record)
	if err != nil {
		t.Fatalf("guardian.quarantine: %v", err)
	}

	// The structured rejection crosses the wire with its code and
	// ledger reference.
	err = agent.Call(ctx, "action.intent", map[string]any{"kind": "api_call"}, nil)
	if !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("intent error = %v", err)
	}

	if err := operator.Call(ctx, "guardian.release", map[string]any{"agent_id": "task/worker"}, nil); err != nil {
		t.Fatalf("guardian.release: %v", err)
	}
	err = agent.Call(ctx, "budget.debit", map[string]any{"kind": "message_send"}, nil)
	if !schema.IsCode(err, schema.CodeInsufficientBudget) {
		t.Fatalf("debit on empty account error = %v", err)
	}
}

func TestExportOverSocket(t *testing.T) {
	socketPath := startKernel(t)
	ctx := context.Background()

	operator := service.NewClient(socketPath, schema.Caller{ID: "operator/alice", Class: schema.ClassOperator})
	if err := operator.Call(ctx, "agent.register", map[string]any{"agent_id": "task/worker", "kind": "task"}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := operator.Call(ctx, "budget.allocate", map[string]any{"agent_id": "task/worker", "amount": int64(5)}, nil); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	var result struct {
		Archive []byte `cbor:"archive"`
	}
	err := operator.Call(ctx, "ledger.export", map[string]any{"compression": "lz4"}, &result)
	if err != nil {
		t.Fatalf("ledger.export: %v", err)
	}

	exported, err := ledger.ReadExport(bytes.NewReader(result.Archive))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("archive holds %d entries", len(exported))
	}
	if err := ledger.VerifySegment(exported); err != nil {
		t.Errorf("segment verification: %v", err)
	}
}
