// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/schema"
)

func quarantineCommand() *cli.Command {
	var s session
	var reason string
	return &cli.Command{
		Name:    "quarantine",
		Summary: "quarantine an agent",
		Usage:   "substrate quarantine <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("quarantine", pflag.ContinueOnError)
			s.bind(flagSet)
			flagSet.StringVar(&reason, "reason", "", "explanation recorded with the quarantine")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "substrate quarantine <agent-id>"); err != nil {
				return err
			}
			var record schema.QuarantineRecord
			err := s.call("guardian.quarantine", map[string]any{
				"agent_id": args[0],
				"reason":   reason,
			}, &record)
			if err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(record)
			}
			fmt.Printf("quarantined %s: %s (ledger seq %d)\n",
				record.AgentID, record.Reason, record.LedgerSeq)
			return nil
		},
	}
}

func releaseCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "release",
		Summary: "release an agent from quarantine",
		Usage:   "substrate release <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("release", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "substrate release <agent-id>"); err != nil {
				return err
			}
			if err := s.call("guardian.release", map[string]any{"agent_id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("released %s\n", args[0])
			return nil
		},
	}
}

func terminateCommand() *cli.Command {
	var s session
	var reason string
	return &cli.Command{
		Name:    "terminate",
		Summary: "terminate an agent permanently",
		Usage:   "substrate terminate <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("terminate", pflag.ContinueOnError)
			s.bind(flagSet)
			flagSet.StringVar(&reason, "reason", "", "explanation recorded with the termination")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "substrate terminate <agent-id>"); err != nil {
				return err
			}
			err := s.call("guardian.terminate", map[string]any{
				"agent_id": args[0],
				"reason":   reason,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("terminated %s\n", args[0])
			return nil
		},
	}
}
