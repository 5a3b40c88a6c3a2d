// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
	"github.com/substrate-foundation/substrate/lib/testutil"
)

// startServer runs a SocketServer with the given handlers and returns
// its socket path. The server is shut down when the test completes.
func startServer(t *testing.T, register func(*SocketServer)) string {
	t.Helper()

	socketPath := filepath.Join(testutil.SocketDir(t), "kernel.sock")
	server := NewSocketServer(socketPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server shutdown")
	})

	waitForSocket(t, socketPath)
	return socketPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("socket never became reachable")
}

func TestCallRoundtrip(t *testing.T) {
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				Message string `cbor:"message"`
				Caller  string `cbor:"caller"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return map[string]string{
				"message": request.Message,
				"caller":  request.Caller,
			}, nil
		})
	})

	client := NewClient(socketPath, schema.Caller{ID: "task/indexer", Class: schema.ClassAgent})

	var result struct {
		Message string `cbor:"message"`
		Caller  string `cbor:"caller"`
	}
	err := client.Call(context.Background(), "echo", map[string]any{"message": "hello"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Message != "hello" {
		t.Errorf("message = %q, want hello", result.Message)
	}
	if result.Caller != "task/indexer" {
		t.Errorf("caller = %q, want task/indexer (client injects identity)", result.Caller)
	}
}

func TestUnknownActionIsError(t *testing.T) {
	socketPath := startServer(t, func(server *SocketServer) {})

	client := NewClient(socketPath, schema.Caller{ID: "op", Class: schema.ClassOperator})
	err := client.Call(context.Background(), "no.such.action", nil, nil)
	if err == nil {
		t.Fatal("unknown action should fail")
	}
}

func TestKernelErrorTravelsStructured(t *testing.T) {
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("always.rejects", func(ctx context.Context, raw []byte) (any, error) {
			return nil, schema.NewLoggedError(schema.CodeAgentQuarantined, 42, "agent is quarantined")
		})
	})

	client := NewClient(socketPath, schema.Caller{ID: "task/x", Class: schema.ClassAgent})
	err := client.Call(context.Background(), "always.rejects", nil, nil)

	if !schema.IsCode(err, schema.CodeAgentQuarantined) {
		t.Fatalf("error = %v, want AgentQuarantined code to survive the wire", err)
	}
	if got := schema.ErrSeq(err); got != 42 {
		t.Errorf("ledger seq = %d, want 42", got)
	}
}
