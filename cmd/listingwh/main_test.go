// Package main provides tests for the listingwh CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/listingwh/internal/cli"
)

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("version command error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "listingwh") {
		t.Errorf("version output should contain 'listingwh', got: %s", output)
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	expectedCommands := []string{"run", "dag", "runs", "query", "version", "completion"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestDAGCommand_WithConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "listingwh.yaml")
	cfg := "target:\n  type: duckdb\n  database: \":memory:\"\nstate_path: state.db\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"dag", "--config", cfgPath, "--format", "md"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("dag command error = %v, output: %s", err, buf.String())
	}

	output := buf.String()
	for _, stage := range []string{"refresh_source", "finalize_suburb", "build_datamart"} {
		if !strings.Contains(output, stage) {
			t.Errorf("dag output should contain %q, got: %s", stage, output)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "state.db")); err != nil {
		t.Errorf("state database should be created next to the config: %v", err)
	}
}

func TestUnknownTargetType(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "listingwh.yaml")
	if err := os.WriteFile(cfgPath, []byte("target:\n  type: mysql\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"dag", "--config", cfgPath})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "mysql") {
		t.Errorf("expected unknown adapter error, got %v", err)
	}
}
