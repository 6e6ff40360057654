package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoArgs(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.P2PListen != defaultP2PListen {
		t.Fatalf("expected default p2p listen %q, got %q", defaultP2PListen, cfg.P2PListen)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", defaultLogLevel, cfg.LogLevel)
	}
}

func TestLoadCommandLineOverridesDefaults(t *testing.T) {
	cfg, err := Load([]string{"--p2plisten=:40404", "--chainid=7"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.P2PListen != ":40404" {
		t.Fatalf("expected overridden p2p listen, got %q", cfg.P2PListen)
	}
	if cfg.ChainID != 7 {
		t.Fatalf("expected overridden chain id 7, got %d", cfg.ChainID)
	}
}

func TestLoadReadsIniFileBeforeFlags(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "tosd.conf")
	contents := "p2plisten = :50505\nchainid = 42\n"
	if err := os.WriteFile(confPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing ini file: %v", err)
	}

	cfg, err := Load([]string{"--config=" + confPath})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.P2PListen != ":50505" {
		t.Fatalf("expected ini-file p2p listen, got %q", cfg.P2PListen)
	}
	if cfg.ChainID != 42 {
		t.Fatalf("expected ini-file chain id 42, got %d", cfg.ChainID)
	}

	// command-line flags still win over the ini file
	cfg, err = Load([]string{"--config=" + confPath, "--chainid=99"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChainID != 99 {
		t.Fatalf("expected command-line chain id to override ini file, got %d", cfg.ChainID)
	}
}
