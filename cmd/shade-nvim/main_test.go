package main

import (
	"strings"
	"testing"

	"github.com/megalithic/shade-sub001/internal/config"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{
		"--socket", "/tmp/nvim.sock",
		"--wait",
		"--eval", "1+1",
		"--log-level", "debug",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.socket != "/tmp/nvim.sock" || !f.wait || f.evalExpr != "1+1" || f.logLevel != "debug" {
		t.Fatalf("flags = %+v", f)
	}
}

func TestParseFlagsRejectsPositionalArgs(t *testing.T) {
	if _, err := parseFlags([]string{"--serve", "stray"}); err == nil {
		t.Fatal("parseFlags accepted positional arguments")
	}
}

func TestMergeFlagsOverridesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Socket = "/tmp/from-config.sock"

	merged, err := mergeFlags(cfg, cliFlags{
		socket:   "/tmp/from-flag.sock",
		wait:     true,
		logLevel: "warn",
	})
	if err != nil {
		t.Fatalf("mergeFlags: %v", err)
	}
	if merged.Socket != "/tmp/from-flag.sock" {
		t.Fatalf("socket = %q", merged.Socket)
	}
	if !merged.WaitForSocket || merged.LogLevel != "warn" {
		t.Fatalf("merged = %+v", merged)
	}
}

func TestMergeFlagsKeepsConfigWhenUnset(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Socket = "/tmp/from-config.sock"
	cfg.WaitForSocket = true

	merged, err := mergeFlags(cfg, cliFlags{})
	if err != nil {
		t.Fatalf("mergeFlags: %v", err)
	}
	if merged != cfg {
		t.Fatalf("merged = %+v, want unchanged %+v", merged, cfg)
	}
}

func TestMergeFlagsValidation(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := mergeFlags(cfg, cliFlags{socket: "not-absolute.sock"}); err == nil {
		t.Fatal("mergeFlags accepted a relative socket path")
	}
	if _, err := mergeFlags(cfg, cliFlags{logLevel: "shouty"}); err == nil {
		t.Fatal("mergeFlags accepted an unknown log level")
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	err := run([]string{"--socket", "relative.sock"})
	if err == nil || !strings.Contains(err.Error(), "socket") {
		t.Fatalf("run error = %v, want socket validation failure", err)
	}
}
