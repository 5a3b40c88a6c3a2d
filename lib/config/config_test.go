// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "substrate.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: development
paths:
  data: /var/lib/substrate
  run: /run/substrate
kernel:
  database_file: kernel.db
  socket_file: kernel.sock
  log_level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DatabasePath() != "/var/lib/substrate/kernel.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}
	if cfg.SocketPath() != "/run/substrate/kernel.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath())
	}
	if cfg.Kernel.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Kernel.LogLevel)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  data: /home/dev/substrate
  run: /tmp/substrate
production:
  paths:
    data: /var/lib/substrate
    run: /run/substrate
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Data != "/var/lib/substrate" {
		t.Errorf("production override not applied: data = %q", cfg.Paths.Data)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown environment", "environment: staging-ish\n"},
		{"unknown log level", `
environment: development
kernel:
  log_level: chatty
`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.content)
		if _, err := LoadFile(path); err == nil {
			t.Errorf("%s: LoadFile should fail", tc.name)
		}
	}
}

func TestLoadRequiresEnvVariable(t *testing.T) {
	t.Setenv("SUBSTRATE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without SUBSTRATE_CONFIG should fail")
	}
}
