// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/substrate-foundation/substrate/lib/schema"
)

//go:embed default.jsonc
var defaultPolicyFile []byte

// Policy holds every configurable parameter the kernel enforces.
// Construct with [Parse], [ReadFile], or [Default].
type Policy struct {
	// Costs maps billable action kinds to their credit cost. Action
	// kinds absent from the table are rejected with
	// UnknownActionKind.
	Costs map[schema.ActionKind]int64

	// Arbiter holds mode-arbitration parameters.
	Arbiter ArbiterPolicy

	// Budget holds cost-accounting parameters.
	Budget BudgetPolicy

	// Guardian holds behavioral-policing parameters.
	Guardian GuardianPolicy
}

// ArbiterPolicy configures mode arbitration.
type ArbiterPolicy struct {
	// ThrashWindow is the trailing window for the anti-thrash rule.
	ThrashWindow time.Duration

	// ThrashLimit is the transition count inside ThrashWindow at
	// which non-defend requests start being denied.
	ThrashLimit int

	// EscalationPrivilege maps each target mode to the caller class
	// required to request it.
	EscalationPrivilege map[schema.Mode]schema.CallerClass
}

// BudgetPolicy configures the debit velocity anomaly signal.
type BudgetPolicy struct {
	// VelocityWindow is the rolling window over which debits are
	// counted per agent.
	VelocityWindow time.Duration

	// VelocityLimit is the debit count above which the register
	// emits an anomaly signal. Advisory: the debit itself is not
	// rejected.
	VelocityLimit int
}

// GuardianPolicy configures guardian rules.
type GuardianPolicy struct {
	// DenialStreakLimit is the number of consecutive denied mode
	// requests that quarantines an agent.
	DenialStreakLimit int

	// RejectionStreakLimit is the number of consecutive
	// insufficient-budget rejections that quarantines an agent.
	RejectionStreakLimit int

	// EvaluationBudget bounds synchronous rule evaluation. Overruns
	// provisionally allow the action and flag it for re-review.
	EvaluationBudget time.Duration

	// ReviewDeadline is how long a re-review flag may stay
	// unresolved before escalating to automatic quarantine.
	ReviewDeadline time.Duration
}

// policyFile is the on-disk JSONC shape. Durations are strings in
// time.ParseDuration syntax and resolved during Parse.
type policyFile struct {
	Costs   map[string]int64 `json:"costs"`
	Arbiter struct {
		ThrashWindow        string            `json:"thrash_window"`
		ThrashLimit         int               `json:"thrash_limit"`
		EscalationPrivilege map[string]string `json:"escalation_privilege"`
	} `json:"arbiter"`
	Budget struct {
		VelocityWindow string `json:"velocity_window"`
		VelocityLimit  int    `json:"velocity_limit"`
	} `json:"budget"`
	Guardian struct {
		DenialStreakLimit    int    `json:"denial_streak_limit"`
		RejectionStreakLimit int    `json:"rejection_streak_limit"`
		EvaluationBudget     string `json:"evaluation_budget"`
		ReviewDeadline       string `json:"review_deadline"`
	} `json:"guardian"`
}

// Default returns the embedded default policy. Panics if the embedded
// file fails to parse — that indicates a build defect, not a runtime
// condition.
func Default() *Policy {
	parsed, err := Parse(defaultPolicyFile)
	if err != nil {
		panic("policy: embedded default policy invalid: " + err.Error())
	}
	return parsed
}

// ReadFile reads a JSONC policy file from disk and parses it.
func ReadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return parsed, nil
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the result into a Policy.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var file policyFile
	if err := json.Unmarshal(stripped, &file); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	return file.resolve()
}

// resolve validates the raw file values and converts them into a
// Policy with parsed durations and typed keys.
func (f *policyFile) resolve() (*Policy, error) {
	if len(f.Costs) == 0 {
		return nil, fmt.Errorf("policy: costs table is empty")
	}

	costs := make(map[schema.ActionKind]int64, len(f.Costs))
	for kind, cost := range f.Costs {
		if cost < 0 {
			return nil, fmt.Errorf("policy: cost for %q is negative", kind)
		}
		costs[schema.ActionKind(kind)] = cost
	}

	thrashWindow, err := parseDuration("arbiter.thrash_window", f.Arbiter.ThrashWindow)
	if err != nil {
		return nil, err
	}
	if f.Arbiter.ThrashLimit <= 0 {
		return nil, fmt.Errorf("policy: arbiter.thrash_limit must be positive")
	}

	privilege := make(map[schema.Mode]schema.CallerClass, len(f.Arbiter.EscalationPrivilege))
	for modeName, className := range f.Arbiter.EscalationPrivilege {
		mode, err := schema.ParseMode(modeName)
		if err != nil {
			return nil, fmt.Errorf("policy: arbiter.escalation_privilege: %w", err)
		}
		class, err := schema.ParseCallerClass(className)
		if err != nil {
			return nil, fmt.Errorf("policy: arbiter.escalation_privilege[%s]: %w", modeName, err)
		}
		privilege[mode] = class
	}
	for _, mode := range []schema.Mode{schema.ModeObserve, schema.ModeAlert, schema.ModeAct, schema.ModeDefend} {
		if _, ok := privilege[mode]; !ok {
			return nil, fmt.Errorf("policy: arbiter.escalation_privilege missing entry for %s", mode)
		}
	}

	velocityWindow, err := parseDuration("budget.velocity_window", f.Budget.VelocityWindow)
	if err != nil {
		return nil, err
	}
	if f.Budget.VelocityLimit <= 0 {
		return nil, fmt.Errorf("policy: budget.velocity_limit must be positive")
	}

	evaluationBudget, err := parseDuration("guardian.evaluation_budget", f.Guardian.EvaluationBudget)
	if err != nil {
		return nil, err
	}
	reviewDeadline, err := parseDuration("guardian.review_deadline", f.Guardian.ReviewDeadline)
	if err != nil {
		return nil, err
	}
	if f.Guardian.DenialStreakLimit <= 0 {
		return nil, fmt.Errorf("policy: guardian.denial_streak_limit must be positive")
	}
	if f.Guardian.RejectionStreakLimit <= 0 {
		return nil, fmt.Errorf("policy: guardian.rejection_streak_limit must be positive")
	}

	return &Policy{
		Costs: costs,
		Arbiter: ArbiterPolicy{
			ThrashWindow:        thrashWindow,
			ThrashLimit:         f.Arbiter.ThrashLimit,
			EscalationPrivilege: privilege,
		},
		Budget: BudgetPolicy{
			VelocityWindow: velocityWindow,
			VelocityLimit:  f.Budget.VelocityLimit,
		},
		Guardian: GuardianPolicy{
			DenialStreakLimit:    f.Guardian.DenialStreakLimit,
			RejectionStreakLimit: f.Guardian.RejectionStreakLimit,
			EvaluationBudget:     evaluationBudget,
			ReviewDeadline:       reviewDeadline,
		},
	}, nil
}

// parseDuration parses a required duration field, rejecting absent,
// malformed, and non-positive values.
func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("policy: %s is required", field)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("policy: %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("policy: %s must be positive", field)
	}
	return parsed, nil
}

// Quote looks up the cost for an action kind. Unknown kinds fail with
// UnknownActionKind — the kernel never invents a price.
func (p *Policy) Quote(kind schema.ActionKind) (int64, error) {
	cost, ok := p.Costs[kind]
	if !ok {
		return 0, schema.NewError(schema.CodeUnknownActionKind, "no cost configured for action kind %q", kind)
	}
	return cost, nil
}
