// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/schema"
)

func modeCommand() *cli.Command {
	return &cli.Command{
		Name:    "mode",
		Summary: "show or change the operational mode",
		Subcommands: []*cli.Command{
			modeShowCommand(),
			modeRequestCommand(),
		},
	}
}

func modeShowCommand() *cli.Command {
	var s session
	return &cli.Command{
		Name:    "show",
		Summary: "show the current mode",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			s.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var mode schema.ModeState
			if err := s.call("mode.current", nil, &mode); err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(mode)
			}
			fmt.Printf("%s (entered %s, %d recent transitions)\n",
				mode.Mode, mode.EnteredAt.Format("2006-01-02 15:04:05"), mode.RecentTransitions)
			return nil
		},
	}
}

func modeRequestCommand() *cli.Command {
	var s session
	var justification string
	return &cli.Command{
		Name:    "request",
		Summary: "request a mode transition",
		Usage:   "substrate mode request <target> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
			s.bind(flagSet)
			flagSet.StringVar(&justification, "justification", "", "reason for the request")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "substrate mode request <target>"); err != nil {
				return err
			}
			var request schema.ModeChangeRequest
			err := s.call("mode.request", map[string]any{
				"target":        args[0],
				"justification": justification,
			}, &request)
			if err != nil {
				return err
			}
			if s.asJSON {
				return cli.WriteJSON(request)
			}
			fmt.Printf("%s: %s -> %s (ledger seq %d)\n",
				request.Resolution, request.From, request.Target, request.LedgerSeq)
			return nil
		},
	}
}
