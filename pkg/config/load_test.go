package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tdp.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	// An empty dir guarantees no tdp.yml is picked up.
	t.Chdir(t.TempDir())

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DBPath != "tdp.db" {
		t.Errorf("expected default db path tdp.db, got %s", s.DBPath)
	}
	if s.Retry.MaxRetries != 2 {
		t.Errorf("expected default 2 retries, got %d", s.Retry.MaxRetries)
	}
	if s.Retry.BaseDelay.Std() != time.Second {
		t.Errorf("expected default base delay 1s, got %s", s.Retry.BaseDelay.Std())
	}
	if s.Telemetry.LogLevel != "info" || s.Telemetry.LogFormat != "console" {
		t.Errorf("expected default info/console logging, got %s/%s",
			s.Telemetry.LogLevel, s.Telemetry.LogFormat)
	}
	if s.Executor.SSH.Port != 22 {
		t.Errorf("expected default ssh port 22, got %d", s.Executor.SSH.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/tdp/tdp.db
collection_paths:
  - /opt/collections/core
  - /opt/collections/extras
run_dir: /var/lib/tdp/run
executor:
  binary: ansible-playbook-2.9
  inventory: /etc/tdp/hosts.ini
  extra_args: ["--forks", "20"]
retry:
  max_retries: 4
  base_delay: 500ms
  max_delay: 45
parallel: true
max_parallel: 8
policy:
  dir: /etc/tdp/policies
  protected_services: [zookeeper, hdfs]
  max_plan_steps: 100
telemetry:
  log_level: debug
  log_format: json
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DBPath != "/var/lib/tdp/tdp.db" {
		t.Errorf("expected db path from file, got %s", s.DBPath)
	}
	if len(s.CollectionPaths) != 2 || s.CollectionPaths[1] != "/opt/collections/extras" {
		t.Errorf("expected 2 collection paths, got %v", s.CollectionPaths)
	}
	if s.Executor.Binary != "ansible-playbook-2.9" {
		t.Errorf("expected executor binary override, got %s", s.Executor.Binary)
	}
	if len(s.Executor.ExtraArgs) != 2 || s.Executor.ExtraArgs[0] != "--forks" {
		t.Errorf("expected extra args, got %v", s.Executor.ExtraArgs)
	}
	if s.Retry.MaxRetries != 4 {
		t.Errorf("expected 4 retries, got %d", s.Retry.MaxRetries)
	}
	if s.Retry.BaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("expected base delay 500ms, got %s", s.Retry.BaseDelay.Std())
	}
	// Bare numbers are seconds.
	if s.Retry.MaxDelay.Std() != 45*time.Second {
		t.Errorf("expected max delay 45s, got %s", s.Retry.MaxDelay.Std())
	}
	if !s.Parallel || s.MaxParallel != 8 {
		t.Errorf("expected parallel 8, got %v/%d", s.Parallel, s.MaxParallel)
	}
	if s.Policy.Dir != "/etc/tdp/policies" || len(s.Policy.ProtectedServices) != 2 {
		t.Errorf("expected policy settings, got %+v", s.Policy)
	}
	if s.Telemetry.LogLevel != "debug" || s.Telemetry.LogFormat != "json" {
		t.Errorf("expected debug/json logging, got %s/%s",
			s.Telemetry.LogLevel, s.Telemetry.LogFormat)
	}
	// Untouched groups keep their defaults.
	if s.Telemetry.TracingExporter != "none" {
		t.Errorf("expected default tracing exporter, got %s", s.Telemetry.TracingExporter)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config, got nil")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "db_path: [this is\n  not: valid yaml\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadConfigEnvPath(t *testing.T) {
	path := writeConfig(t, "db_path: /from/env/config.db\n")
	t.Setenv("TDP_CONFIG", path)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DBPath != "/from/env/config.db" {
		t.Errorf("expected db path from TDP_CONFIG file, got %s", s.DBPath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
db_path: /file/tdp.db
collection_paths: [/file/collections]
telemetry:
  log_level: warn
`)
	sep := string(os.PathListSeparator)
	t.Setenv("TDP_DB_PATH", "/env/tdp.db")
	t.Setenv("TDP_COLLECTION_PATH", "/env/core"+sep+"/env/extras")
	t.Setenv("TDP_RUN_DIR", "/env/run")
	t.Setenv("TDP_LOG_LEVEL", "debug")
	t.Setenv("TDP_DRY_RUN", "true")
	t.Setenv("TDP_METRICS_LISTEN", ":9100")
	t.Setenv("TDP_SSH_PASSWORD", "hunter2")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DBPath != "/env/tdp.db" {
		t.Errorf("expected env db path to win, got %s", s.DBPath)
	}
	if len(s.CollectionPaths) != 2 || s.CollectionPaths[0] != "/env/core" {
		t.Errorf("expected env collection paths, got %v", s.CollectionPaths)
	}
	if s.RunDir != "/env/run" {
		t.Errorf("expected env run dir, got %s", s.RunDir)
	}
	if s.Telemetry.LogLevel != "debug" {
		t.Errorf("expected env log level to win, got %s", s.Telemetry.LogLevel)
	}
	if !s.Executor.DryRun {
		t.Error("expected dry run from env")
	}
	if !s.Telemetry.MetricsEnabled || s.Telemetry.MetricsListen != ":9100" {
		t.Errorf("expected TDP_METRICS_LISTEN to enable metrics on :9100, got %v/%s",
			s.Telemetry.MetricsEnabled, s.Telemetry.MetricsListen)
	}
	if s.Executor.SSH.Password != "hunter2" {
		t.Error("expected ssh password from env")
	}
}

func TestLoadBadEnvBool(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TDP_DRY_RUN", "definitely")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for bad TDP_DRY_RUN, got nil")
	}
	if !strings.Contains(err.Error(), "TDP_DRY_RUN") {
		t.Errorf("expected the variable named in the error, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{
			name:   "empty db path",
			mutate: func(s *Settings) { s.DBPath = "" },
		},
		{
			name:   "unknown log level",
			mutate: func(s *Settings) { s.Telemetry.LogLevel = "loud" },
		},
		{
			name:   "unknown log format",
			mutate: func(s *Settings) { s.Telemetry.LogFormat = "xml" },
		},
		{
			name:   "unknown tracing exporter",
			mutate: func(s *Settings) { s.Telemetry.TracingExporter = "jaeger" },
		},
		{
			name:   "ssh port out of range",
			mutate: func(s *Settings) { s.Executor.SSH.Port = 70000 },
		},
		{
			name:   "negative retries",
			mutate: func(s *Settings) { s.Retry.MaxRetries = -1 },
		},
		{
			name:   "remote without host",
			mutate: func(s *Settings) { s.Executor.Remote = true },
		},
		{
			name:   "sampling above one",
			mutate: func(s *Settings) { s.Telemetry.TracingSampling = 2 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}
