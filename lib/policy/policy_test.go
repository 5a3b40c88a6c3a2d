// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/substrate-foundation/substrate/lib/schema"
)

func TestDefaultPolicyParses(t *testing.T) {
	p := Default()

	if p.Arbiter.ThrashWindow != time.Minute {
		t.Errorf("ThrashWindow = %v, want 1m", p.Arbiter.ThrashWindow)
	}
	if p.Arbiter.ThrashLimit != 3 {
		t.Errorf("ThrashLimit = %d, want 3", p.Arbiter.ThrashLimit)
	}
	if p.Budget.VelocityWindow != 3*time.Second {
		t.Errorf("VelocityWindow = %v, want 3s", p.Budget.VelocityWindow)
	}
	if p.Guardian.ReviewDeadline != 30*time.Second {
		t.Errorf("ReviewDeadline = %v, want 30s", p.Guardian.ReviewDeadline)
	}
	if got := p.Arbiter.EscalationPrivilege[schema.ModeDefend]; got != schema.ClassOperator {
		t.Errorf("defend privilege = %s, want operator", got)
	}
}

func TestParseAcceptsComments(t *testing.T) {
	data := []byte(`{
		// commented policy
		"costs": {"api_call": 3,}, /* trailing comma above */
		"arbiter": {
			"thrash_window": "30s",
			"thrash_limit": 2,
			"escalation_privilege": {
				"observe": "agent", "alert": "agent",
				"act": "operator", "defend": "operator",
			},
		},
		"budget": {"velocity_window": "1s", "velocity_limit": 1},
		"guardian": {
			"denial_streak_limit": 1,
			"rejection_streak_limit": 1,
			"evaluation_budget": "10ms",
			"review_deadline": "5s",
		},
	}`)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Arbiter.ThrashWindow != 30*time.Second {
		t.Errorf("ThrashWindow = %v, want 30s", p.Arbiter.ThrashWindow)
	}
}

func TestParseRejections(t *testing.T) {
	base := `{
		"costs": {"api_call": COST},
		"arbiter": {
			"thrash_window": "WINDOW",
			"thrash_limit": LIMIT,
			"escalation_privilege": PRIV
		},
		"budget": {"velocity_window": "1s", "velocity_limit": 1},
		"guardian": {
			"denial_streak_limit": 1,
			"rejection_streak_limit": 1,
			"evaluation_budget": "10ms",
			"review_deadline": "5s"
		}
	}`
	fullPrivilege := `{"observe": "agent", "alert": "agent", "act": "operator", "defend": "operator"}`

	build := func(cost, window, limit, priv string) []byte {
		out := strings.NewReplacer(
			"COST", cost,
			"WINDOW", window,
			"LIMIT", limit,
			"PRIV", priv,
		).Replace(base)
		return []byte(out)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"negative cost", build("-1", "1m", "3", fullPrivilege)},
		{"bad duration", build("3", "not-a-duration", "3", fullPrivilege)},
		{"zero thrash limit", build("3", "1m", "0", fullPrivilege)},
		{"missing privilege entry", build("3", "1m", "3", `{"observe": "agent"}`)},
		{"unknown mode in privilege", build("3", "1m", "3", `{"observe": "agent", "alert": "agent", "act": "operator", "defend": "operator", "panic": "operator"}`)},
	}

	for _, tc := range cases {
		if _, err := Parse(tc.data); err == nil {
			t.Errorf("%s: Parse should fail", tc.name)
		}
	}
}

func TestQuote(t *testing.T) {
	p := Default()

	cost, err := p.Quote("api_call")
	if err != nil {
		t.Fatalf("Quote(api_call): %v", err)
	}
	if cost != 3 {
		t.Errorf("Quote(api_call) = %d, want 3", cost)
	}

	_, err = p.Quote("teleport")
	if !schema.IsCode(err, schema.CodeUnknownActionKind) {
		t.Errorf("Quote(teleport) error = %v, want UnknownActionKind", err)
	}
}
