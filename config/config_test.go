package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moisson.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	if len(c.Fetch.TierWorkers) == 0 {
		t.Fatal("no default tier worker ceilings")
	}
	if c.Checkpoint.Dir != "checkpoints" {
		t.Fatalf("Checkpoint.Dir = %q", c.Checkpoint.Dir)
	}
	if c.Sink.QueueCapacity != 64 {
		t.Fatalf("Sink.QueueCapacity = %d", c.Sink.QueueCapacity)
	}
	if c.Fetch.Browser.NavTimeout != 30*time.Second {
		t.Fatalf("Browser.NavTimeout = %v", c.Fetch.Browser.NavTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
pace:
  max_concurrent: 4
  requests_per_second: 2
breaker:
  failure_threshold: 3
  recovery_timeout: 90s
orchestrate:
  workers: 2
  call_timeout: 10s
fetch:
  min_content_length: 150
  tier_workers: [8, 4, 2]
  unlock:
    - name: unlocker
      endpoint: https://unlock.example/v1
      api_key: ${UNLOCK_KEY}
sink:
  sqlite_path: results.db
  stdout: true
admin:
  addr: 127.0.0.1:9090
`)

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if c.Pace.MaxConcurrent != 4 {
		t.Fatalf("Pace.MaxConcurrent = %d", c.Pace.MaxConcurrent)
	}
	if c.Breaker.RecoveryTimeout != 90*time.Second {
		t.Fatalf("Breaker.RecoveryTimeout = %v", c.Breaker.RecoveryTimeout)
	}
	if c.Orchestrate.CallTimeout != 10*time.Second {
		t.Fatalf("Orchestrate.CallTimeout = %v", c.Orchestrate.CallTimeout)
	}
	if c.Fetch.MinContentLength != 150 {
		t.Fatalf("Fetch.MinContentLength = %d", c.Fetch.MinContentLength)
	}
	if len(c.Fetch.TierWorkers) != 3 || c.Fetch.TierWorkers[0] != 8 {
		t.Fatalf("Fetch.TierWorkers = %v", c.Fetch.TierWorkers)
	}
	if len(c.Fetch.Unlock) != 1 || c.Fetch.Unlock[0].Endpoint != "https://unlock.example/v1" {
		t.Fatalf("Fetch.Unlock = %+v", c.Fetch.Unlock)
	}
	if !c.Sink.Stdout || c.Sink.SQLitePath != "results.db" {
		t.Fatalf("Sink = %+v", c.Sink)
	}
	if c.Admin.Addr != "127.0.0.1:9090" {
		t.Fatalf("Admin.Addr = %q", c.Admin.Addr)
	}

	// Unset sections still get their defaults.
	if c.Checkpoint.Dir != "checkpoints" {
		t.Fatalf("Checkpoint.Dir = %q", c.Checkpoint.Dir)
	}
}

func TestLoadFile_EmptyIsValid(t *testing.T) {
	path := writeConfig(t, "")
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Sink.QueueCapacity != 64 {
		t.Fatal("defaults not applied to empty file")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "pace: [not a map")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
