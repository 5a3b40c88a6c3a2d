// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/schema"
)

func statusCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "status",
		Summary: "show mode, registered agents, and budgets",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var mode schema.ModeState
			if err := s.call("mode.current", nil, &mode); err != nil {
				return err
			}
			var agents []schema.Agent
			if err := s.call("agent.list", nil, &agents); err != nil {
				return err
			}
			accounts := make(map[string]schema.Account)
			if err := s.call("budget.summary", nil, &accounts); err != nil {
				return err
			}

			if s.asJSON {
				return cli.WriteJSON(struct {
					Mode     schema.ModeState          `json:"mode"`
					Agents   []schema.Agent            `json:"agents"`
					Accounts map[string]schema.Account `json:"accounts"`
				}{mode, agents, accounts})
			}

			fmt.Printf("mode: %s (entered %s, %d recent transitions)\n\n",
				mode.Mode, mode.EnteredAt.Format("2006-01-02 15:04:05"), mode.RecentTransitions)

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tKIND\tSTATUS\tALLOCATED\tCONSUMED\tREMAINING")
			sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
			for _, agent := range agents {
				account := accounts[agent.ID]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					agent.ID, agent.Kind, agent.Status,
					account.Allocated, account.Consumed, account.Remaining())
			}
			return tw.Flush()
		},
	}
}

func registerCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "register",
		Summary: "register an agent",
		Usage:   "substrate register <agent-id> <kind> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "substrate register <agent-id> <kind>"); err != nil {
				return err
			}
			var agent schema.Agent
			err := s.call("agent.register", map[string]any{
				"agent_id": args[0],
				"kind":     args[1],
			}, &agent)
			if err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(agent)
			}
			fmt.Printf("registered %s (%s)\n", agent.ID, agent.Kind)
			return nil
		},
	}
}
