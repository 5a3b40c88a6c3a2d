// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/substrate-foundation/substrate/kernel"
	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/service"
)

// registerActions wires every kernel operation to its socket action.
// Handlers decode their request fields from the raw CBOR request and
// perform the caller-class check before touching the kernel.
func registerActions(server *service.SocketServer, k *kernel.Kernel) {
	h := &handlers{kernel: k}

	server.Handle("agent.register", h.agentRegister)
	server.Handle("agent.list", h.agentList)
	server.Handle("action.intent", h.actionIntent)
	server.Handle("action.outcome", h.actionOutcome)
	server.Handle("budget.quote", h.budgetQuote)
	server.Handle("budget.debit", h.budgetDebit)
	server.Handle("budget.allocate", h.budgetAllocate)
	server.Handle("budget.summary", h.budgetSummary)
	server.Handle("mode.current", h.modeCurrent)
	server.Handle("mode.request", h.modeRequest)
	server.Handle("guardian.quarantine", h.guardianQuarantine)
	server.Handle("guardian.release", h.guardianRelease)
	server.Handle("guardian.terminate", h.guardianTerminate)
	server.Handle("checkpoint.create", h.checkpointCreate)
	server.Handle("checkpoint.rollback", h.checkpointRollback)
	server.Handle("ledger.range", h.ledgerRange)
	server.Handle("ledger.verify", h.ledgerVerify)
	server.Handle("ledger.export", h.ledgerExport)
}

type handlers struct {
	kernel *kernel.Kernel
}

// callerFields is embedded in every request struct. The client fills
// these automatically on every call.
type callerFields struct {
	Caller      string `cbor:"caller"`
	CallerClass string `cbor:"caller_class"`
}

// caller validates the identity fields into a schema.Caller.
func (f callerFields) caller() (schema.Caller, error) {
	if f.Caller == "" {
		return schema.Caller{}, fmt.Errorf("missing required field: caller")
	}
	class, err := schema.ParseCallerClass(f.CallerClass)
	if err != nil {
		return schema.Caller{}, err
	}
	return schema.Caller{ID: f.Caller, Class: class}, nil
}

// requireClass enforces the kernel's single capability check.
func requireClass(caller schema.Caller, allowed ...schema.CallerClass) error {
	for _, class := range allowed {
		if caller.Class == class {
			return nil
		}
	}
	return schema.NewError(schema.CodePermissionDenied,
		"caller class %s may not perform this operation", caller.Class)
}

func decodeRequest[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}

func (h *handlers) agentRegister(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		AgentID string `cbor:"agent_id"`
		Kind    string `cbor:"kind"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if _, err := request.caller(); err != nil {
		return nil, err
	}
	kind, err := schema.ParseAgentKind(request.Kind)
	if err != nil {
		return nil, err
	}
	return h.kernel.RegisterAgent(ctx, request.AgentID, kind)
}

func (h *handlers) agentList(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct{ callerFields }](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator, schema.ClassAuditor); err != nil {
		return nil, err
	}
	return h.kernel.Guardian.Agents(ctx)
}

// actionIntent is the billed declaration path: the debit is fused
// into intent submission, so a runtime submits the intent and never
// calls budget.debit for the same action. A rejected debit is
// ledger-recorded and no intent entry is appended.
func (h *handlers) actionIntent(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Kind    string `cbor:"kind"`
		Payload []byte `cbor:"payload"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassAgent); err != nil {
		return nil, err
	}

	result, entry, err := h.kernel.SubmitIntent(ctx, caller, schema.ActionKind(request.Kind), request.Payload)
	if err != nil {
		return nil, err
	}
	return struct {
		Debit schema.DebitResult `cbor:"debit"`
		Entry schema.Entry       `cbor:"entry"`
	}{result, entry}, nil
}

func (h *handlers) actionOutcome(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Kind      string `cbor:"kind"`
		Payload   []byte `cbor:"payload"`
		Succeeded bool   `cbor:"succeeded"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassAgent); err != nil {
		return nil, err
	}
	return h.kernel.SubmitOutcome(ctx, caller, schema.ActionKind(request.Kind), request.Payload, request.Succeeded)
}

func (h *handlers) budgetQuote(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Kind string `cbor:"kind"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if _, err := request.caller(); err != nil {
		return nil, err
	}
	cost, err := h.kernel.Budget.Quote(schema.ActionKind(request.Kind))
	if err != nil {
		return nil, err
	}
	return struct {
		Kind string `cbor:"kind"`
		Cost int64  `cbor:"cost"`
	}{request.Kind, cost}, nil
}

// budgetDebit charges for an action that carries no intent record.
// Actions declared through action.intent are already billed there;
// debiting them again here double-charges.
func (h *handlers) budgetDebit(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Kind string `cbor:"kind"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassAgent); err != nil {
		return nil, err
	}
	result, err := h.kernel.Debit(ctx, caller, schema.ActionKind(request.Kind))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *handlers) budgetAllocate(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		AgentID string `cbor:"agent_id"`
		Amount  int64  `cbor:"amount"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	account, seq, err := h.kernel.Budget.Allocate(ctx, caller.ID, request.AgentID, request.Amount)
	if err != nil {
		return nil, err
	}
	return struct {
		Account   schema.Account `cbor:"account"`
		LedgerSeq uint64         `cbor:"ledger_seq"`
	}{account, seq}, nil
}

// budgetSummary returns every account for operators and auditors, and
// only the caller's own account for agents.
func (h *handlers) budgetSummary(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct{ callerFields }](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}

	if caller.Class == schema.ClassAgent {
		account, err := h.kernel.Budget.Account(ctx, caller.ID)
		if err != nil {
			return nil, err
		}
		return map[string]schema.Account{caller.ID: account}, nil
	}
	return h.kernel.BudgetSummary(ctx)
}

func (h *handlers) modeCurrent(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct{ callerFields }](raw)
	if err != nil {
		return nil, err
	}
	if _, err := request.caller(); err != nil {
		return nil, err
	}
	return h.kernel.ModeState(ctx)
}

func (h *handlers) modeRequest(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Target        string `cbor:"target"`
		Justification string `cbor:"justification"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	// No class restriction here: the arbiter itself evaluates the
	// privilege of every request and records the decision.
	return h.kernel.Arbiter.RequestModeChange(ctx, caller, schema.Mode(request.Target), request.Justification)
}

func (h *handlers) guardianQuarantine(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		AgentID string `cbor:"agent_id"`
		Reason  string `cbor:"reason"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	return h.kernel.Guardian.Quarantine(ctx, caller.ID, request.AgentID, request.Reason)
}

func (h *handlers) guardianRelease(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		AgentID string `cbor:"agent_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	if err := h.kernel.Guardian.Release(ctx, caller.ID, request.AgentID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *handlers) guardianTerminate(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		AgentID string `cbor:"agent_id"`
		Reason  string `cbor:"reason"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	if err := h.kernel.Guardian.Terminate(ctx, caller.ID, request.AgentID, request.Reason); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *handlers) checkpointCreate(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		Description string `cbor:"description"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	return h.kernel.Guardian.CreateCheckpoint(ctx, caller.ID, request.Description)
}

func (h *handlers) checkpointRollback(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		CheckpointID string `cbor:"checkpoint_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator); err != nil {
		return nil, err
	}
	if err := h.kernel.Guardian.Rollback(ctx, caller.ID, request.CheckpointID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *handlers) ledgerRange(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		From uint64 `cbor:"from"`
		To   uint64 `cbor:"to"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator, schema.ClassAuditor); err != nil {
		return nil, err
	}
	from := request.From
	if from == 0 {
		from = 1
	}
	return h.kernel.Ledger.Range(ctx, from, request.To)
}

func (h *handlers) ledgerVerify(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct{ callerFields }](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator, schema.ClassAuditor); err != nil {
		return nil, err
	}
	report, err := h.kernel.Ledger.VerifyChain(ctx)
	if err != nil && !schema.IsCode(err, schema.CodeChainVerification) {
		return nil, err
	}
	// A broken chain is a successful verification with a negative
	// result: the report travels in the response either way.
	return report, nil
}

func (h *handlers) ledgerExport(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[struct {
		callerFields
		From        uint64 `cbor:"from"`
		To          uint64 `cbor:"to"`
		Compression string `cbor:"compression"`
	}](raw)
	if err != nil {
		return nil, err
	}
	caller, err := request.caller()
	if err != nil {
		return nil, err
	}
	if err := requireClass(caller, schema.ClassOperator, schema.ClassAuditor); err != nil {
		return nil, err
	}

	tag := ledger.CompressionZstd
	if request.Compression != "" {
		tag, err = ledger.ParseCompressionTag(request.Compression)
		if err != nil {
			return nil, err
		}
	}
	from := request.From
	if from == 0 {
		from = 1
	}

	var archive bytes.Buffer
	if err := h.kernel.Ledger.Export(ctx, &archive, from, request.To, tag); err != nil {
		return nil, err
	}
	return struct {
		Archive []byte `cbor:"archive"`
	}{archive.Bytes()}, nil
}
