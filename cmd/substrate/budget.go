// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/schema"
)

func allocateCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "allocate",
		Summary: "grant credits to an agent's budget",
		Usage:   "substrate allocate <agent-id> <amount> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("allocate", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "substrate allocate <agent-id> <amount>"); err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing amount %q: %w", args[1], err)
			}

			var result struct {
				Account   schema.Account `cbor:"account" json:"account"`
				LedgerSeq uint64         `cbor:"ledger_seq" json:"ledger_seq"`
			}
			err = s.call("budget.allocate", map[string]any{
				"agent_id": args[0],
				"amount":   amount,
			}, &result)
			if err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(result)
			}
			fmt.Printf("%s: allocated %d, remaining %d (ledger seq %d)\n",
				args[0], result.Account.Allocated, result.Account.Remaining(), result.LedgerSeq)
			return nil
		},
	}
}
