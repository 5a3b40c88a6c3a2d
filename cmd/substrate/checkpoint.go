// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/schema"
)

func checkpointCommand() *cli.Command {
	var s session
	var description string
	return &cli.Command{
		Name:    "checkpoint",
		Summary: "create a ledger checkpoint",
		Usage:   "substrate checkpoint [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("checkpoint", pflag.ContinueOnError)
			s.bind(flagSet)
			flagSet.StringVar(&description, "description", "", "human-readable label")
			return flagSet
		},
		Run: func(args []string) error {
			var checkpoint schema.Checkpoint
			err := s.call("checkpoint.create", map[string]any{
				"description": description,
			}, &checkpoint)
			if err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(checkpoint)
			}
			fmt.Printf("checkpoint %s at ledger seq %d\n", checkpoint.ID, checkpoint.Sequence)
			return nil
		},
	}
}

func rollbackCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "rollback",
		Summary: "designate a checkpoint as the authoritative state",
		Usage:   "substrate rollback <checkpoint-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rollback", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "substrate rollback <checkpoint-id>"); err != nil {
				return err
			}
			if err := s.call("checkpoint.rollback", map[string]any{"checkpoint_id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("rolled back to checkpoint %s\n", args[0])
			return nil
		},
	}
}
