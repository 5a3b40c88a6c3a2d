// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy provides parsing and validation for kernel policy
// parameters: the action cost table, the Arbiter's transition
// privileges and anti-thrash window, the Budget Register's velocity
// threshold, and the Guardian's rule configuration.
//
// Policy files are JSONC (JSON with // comments, /* blocks */, and
// trailing commas) so deployed policies can document themselves.
// Durations are strings in time.ParseDuration syntax ("3s", "1m").
//
// None of these parameters have guessed constants baked into kernel
// code. Every threshold the kernel enforces arrives through a Policy
// value, and [Default] documents the shipped defaults in one place
// (the embedded default.jsonc).
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Policy
//  2. resolve: duration parsing and range checks (done by Parse)
//  3. hand the Policy to kernel.New
package policy
