package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfigAndResolveRelativeLedgerPath(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
reader:
  index: 0
  escape: false
ledger:
  path: "tags.csv"
sdm:
  base_url: "https://example.com/tap"
  uid_placeholder: "00000000000000"
  ctr_placeholder: "000000"
  mac_placeholder: "0000000000000000"
runtime:
  log_format: "json"
  verbose: true
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	wantLedger := filepath.Join(tmp, "tags.csv")
	if cfg.Ledger.Path != wantLedger {
		t.Fatalf("expected resolved ledger path %q, got %q", wantLedger, cfg.Ledger.Path)
	}
	if cfg.Reader.Index == nil || *cfg.Reader.Index != 0 {
		t.Fatalf("expected reader.index=0, got %v", cfg.Reader.Index)
	}
	if !cfg.Runtime.Verbose {
		t.Fatalf("expected runtime.verbose=true")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("bogus_field: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for unknown field, got nil")
	}
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Runtime.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid log_format")
	}
}

func TestValidateRejectsRelativeBaseURL(t *testing.T) {
	cfg := Default()
	cfg.SDM.BaseURL = "example.com/tap"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-absolute base_url")
	}
}
