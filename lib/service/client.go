// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
)

// dialTimeout is the maximum time to wait for a connection to the
// kernel socket. Covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
// Matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// Client sends CBOR requests to the kernel socket. Each Call opens a
// new connection (matching the server's one-request-per-connection
// model), sends the request, reads the response, and closes the
// connection.
//
// Every request carries the caller identity; the kernel performs its
// single capability check ("does this caller hold the privilege
// required by this operation") against the caller class.
type Client struct {
	socketPath string
	caller     schema.Caller
}

// NewClient creates a client that identifies as the given caller.
func NewClient(socketPath string, caller schema.Caller) *Client {
	return &Client{
		socketPath: socketPath,
		caller:     caller,
	}
}

// Call sends a request for the named action and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action", "caller", and "caller_class"
// automatically. Pass nil for actions that take no additional
// parameters.
//
// On success (response ok=true), if result is non-nil and the response
// contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns the reconstructed
// *schema.KernelError when the server sent a structured code, or a
// plain error otherwise.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+3)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	request["caller"] = c.caller.ID
	request["caller_class"] = string(c.caller.Class)

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		if response.ErrorCode != "" {
			return &schema.KernelError{
				Code:      schema.ErrorCode(response.ErrorCode),
				Reason:    response.Error,
				LedgerSeq: response.LedgerSeq,
			}
		}
		return fmt.Errorf("kernel error on %q: %s", action, response.Error)
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// send performs one connect-write-read cycle.
func (c *Client) send(ctx context.Context, request map[string]any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(responseReadTimeout))
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
