// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// AgentKind is the declared type of a registered agent.
type AgentKind string

const (
	// AgentPerception ingests external signals into the substrate.
	AgentPerception AgentKind = "perception"

	// AgentTask performs goal-directed work.
	AgentTask AgentKind = "task"

	// AgentReflex reacts to events with fixed, low-latency responses.
	AgentReflex AgentKind = "reflex"

	// AgentAdaptation tunes the behavior of other agents over time.
	AgentAdaptation AgentKind = "adaptation"
)

// ParseAgentKind validates a string as an AgentKind.
func ParseAgentKind(s string) (AgentKind, error) {
	switch AgentKind(s) {
	case AgentPerception, AgentTask, AgentReflex, AgentAdaptation:
		return AgentKind(s), nil
	}
	return "", fmt.Errorf("unknown agent kind %q", s)
}

// AgentStatus is an agent's lifecycle state. Status is mutated only by
// the Guardian; agents are never deleted, only marked terminated.
type AgentStatus string

const (
	// StatusActive means the agent may submit intents and debits.
	StatusActive AgentStatus = "active"

	// StatusQuarantined means the agent is isolated: budget debits
	// and mode-change requests are rejected before any cost or mode
	// logic runs.
	StatusQuarantined AgentStatus = "quarantined"

	// StatusTerminated is irreversible. All subsequent operations
	// from the agent fail permanently.
	StatusTerminated AgentStatus = "terminated"
)

// Agent is a registered identity participating in the substrate.
type Agent struct {
	// ID uniquely identifies the agent (e.g., "task/indexer").
	ID string `json:"id"`

	// Kind is the agent's declared type.
	Kind AgentKind `json:"kind"`

	// Status is the lifecycle state, owned by the Guardian.
	Status AgentStatus `json:"status"`

	// RegisteredAt is when the agent registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// CallerClass is the privilege class of a kernel caller. This is the
// single capability check the kernel performs: "does this caller hold
// the privilege required by this operation." Who may hold each class
// is decided outside the kernel.
type CallerClass string

const (
	// ClassAgent is an autonomous agent runtime. May submit intents,
	// debits, outcomes, and de-escalating mode requests.
	ClassAgent CallerClass = "agent"

	// ClassOperator is a human-operator-class caller. Required for
	// budget allocation, escalating mode requests, quarantine
	// release, termination, and rollback.
	ClassOperator CallerClass = "operator"

	// ClassAuditor is a read-only privileged caller: chain
	// verification, ledger ranges, budget summaries.
	ClassAuditor CallerClass = "auditor"
)

// ParseCallerClass validates a string as a CallerClass.
func ParseCallerClass(s string) (CallerClass, error) {
	switch CallerClass(s) {
	case ClassAgent, ClassOperator, ClassAuditor:
		return CallerClass(s), nil
	}
	return "", fmt.Errorf("unknown caller class %q", s)
}

// Caller identifies who is invoking a kernel operation.
type Caller struct {
	// ID is the agent ID or operator identity.
	ID string `json:"id"`

	// Class is the caller's privilege class.
	Class CallerClass `json:"class"`
}
