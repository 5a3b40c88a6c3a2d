// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the kernel daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - SUBSTRATE_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery, and environment
// variables do not override file values. This ensures deterministic,
// auditable configuration with no hidden overrides — the same
// property the kernel enforces for everything else.
//
// Kernel policy parameters (cost table, thresholds, privileges) are
// NOT part of this file; they live in a separate JSONC policy file
// referenced by the policy_file field and parsed by lib/policy. The
// split keeps operational wiring (paths, sockets, log levels) apart
// from enforcement parameters that auditors review.
package config
