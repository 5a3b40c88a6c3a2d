// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// The substrate CLI is the operator and auditor surface over the
// kernel socket: inspect state, allocate budget, drive mode changes,
// manage quarantine, and verify or export the ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/cmd/substrate/cli"
	"github.com/substrate-foundation/substrate/lib/config"
	"github.com/substrate-foundation/substrate/lib/process"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/service"
	"github.com/substrate-foundation/substrate/lib/version"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "substrate",
		Summary: "operator CLI for the substrate kernel",
		Subcommands: []*cli.Command{
			statusCommand(),
			registerCommand(),
			allocateCommand(),
			modeCommand(),
			quarantineCommand(),
			releaseCommand(),
			terminateCommand(),
			checkpointCommand(),
			rollbackCommand(),
			rangeCommand(),
			verifyCommand(),
			exportCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			version.Print("substrate")
			return nil
		},
	}
}

// session carries the connection flags shared by every command that
// talks to the kernel socket.
type session struct {
	socket string
	caller string
	class  string
	asJSON bool
}

// bind registers the shared connection flags on a command's flag set.
func (s *session) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.socket, "socket", "", "kernel socket path (default from SUBSTRATE_CONFIG)")
	flagSet.StringVar(&s.caller, "caller", "operator/cli", "caller identity")
	flagSet.StringVar(&s.class, "class", "operator", "caller class: agent, operator, auditor")
	flagSet.BoolVar(&s.asJSON, "json", false, "output as JSON")
}

// client resolves the socket path and builds a kernel client.
func (s *session) client() (*service.Client, error) {
	class, err := schema.ParseCallerClass(s.class)
	if err != nil {
		return nil, err
	}

	socketPath := s.socket
	if socketPath == "" {
		cfg := config.Default()
		if os.Getenv("SUBSTRATE_CONFIG") != "" {
			cfg, err = config.Load()
			if err != nil {
				return nil, err
			}
		}
		socketPath = cfg.SocketPath()
	}

	return service.NewClient(socketPath, schema.Caller{ID: s.caller, Class: class}), nil
}

// callTimeout bounds every CLI request.
const callTimeout = 30 * time.Second

// call performs one request against the kernel socket.
func (s *session) call(action string, fields map[string]any, result any) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return client.Call(ctx, action, fields, result)
}

// requireArgs enforces an exact positional argument count.
func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
