package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Risk.HighResourceThreshold != 10 {
		t.Errorf("threshold = %d, want 10", cfg.Risk.HighResourceThreshold)
	}
	if cfg.Approval.TTL.Std() != 24*time.Hour {
		t.Errorf("ttl = %v, want 24h", cfg.Approval.TTL.Std())
	}
	if cfg.Events.SubscriberBuffer != 256 {
		t.Errorf("buffer = %d, want 256", cfg.Events.SubscriberBuffer)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  path: /var/lib/specmut/records.db
risk:
  high_resource_threshold: 25
approval:
  ttl: 2h30m
events:
  subscriber_buffer: 16
  retention: 48h
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Store.Path != "/var/lib/specmut/records.db" {
		t.Errorf("path = %q", cfg.Store.Path)
	}
	if cfg.Risk.HighResourceThreshold != 25 {
		t.Errorf("threshold = %d, want 25", cfg.Risk.HighResourceThreshold)
	}
	if cfg.Approval.TTL.Std() != 2*time.Hour+30*time.Minute {
		t.Errorf("ttl = %v, want 2h30m", cfg.Approval.TTL.Std())
	}
	if cfg.Events.Retention.Std() != 48*time.Hour {
		t.Errorf("retention = %v, want 48h", cfg.Events.Retention.Std())
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("risk:\n  high_resource_threshold: 3\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Risk.HighResourceThreshold != 3 {
		t.Errorf("threshold = %d, want 3", cfg.Risk.HighResourceThreshold)
	}
	if cfg.Events.SubscriberBuffer != 256 {
		t.Errorf("buffer = %d, want default 256", cfg.Events.SubscriberBuffer)
	}
}

func TestEmptyFileIsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("approvals:\n  ttl: 1h\n"))
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected unknown-key error, got %v", err)
	}
}

func TestBadDurationRejected(t *testing.T) {
	_, err := Parse([]byte("approval:\n  ttl: tomorrow\n"))
	if err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestValidation(t *testing.T) {
	cases := []string{
		"risk:\n  high_resource_threshold: 0\n",
		"events:\n  subscriber_buffer: 0\n",
		"store:\n  path: \"\"\n",
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected validation error", in)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specmut.yaml")
	if err := os.WriteFile(path, []byte("approval:\n  ttl: 1h\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Approval.TTL.Std() != time.Hour {
		t.Errorf("ttl = %v, want 1h", cfg.Approval.TTL.Std())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
