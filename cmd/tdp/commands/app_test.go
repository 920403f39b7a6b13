package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExtraVarsEmpty(t *testing.T) {
	vars, err := loadExtraVars("")
	if err != nil {
		t.Fatalf("loadExtraVars: %v", err)
	}
	if vars != nil {
		t.Errorf("expected nil vars for empty path, got %v", vars)
	}
}

func TestLoadExtraVarsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yml")
	content := "java_home: /usr/lib/jvm/java-11\nheap_mb: 2048\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	vars, err := loadExtraVars(path)
	if err != nil {
		t.Fatalf("loadExtraVars: %v", err)
	}
	if vars["java_home"] != "/usr/lib/jvm/java-11" {
		t.Errorf("expected java_home, got %v", vars["java_home"])
	}
	if vars["heap_mb"] != 2048 {
		t.Errorf("expected heap_mb 2048, got %v", vars["heap_mb"])
	}
}

func TestLoadExtraVarsDirMerge(t *testing.T) {
	dir := t.TempDir()
	writeVars := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeVars("10-defaults.yml", "heap_mb: 1024\nrealm: TDP\n")
	writeVars("20-site.yaml", "heap_mb: 4096\n")
	writeVars("notes.txt", "ignored\n")

	vars, err := loadExtraVars(dir)
	if err != nil {
		t.Fatalf("loadExtraVars: %v", err)
	}
	// Later files override earlier ones, name order.
	if vars["heap_mb"] != 4096 {
		t.Errorf("expected site override to win, got %v", vars["heap_mb"])
	}
	if vars["realm"] != "TDP" {
		t.Errorf("expected earlier key preserved, got %v", vars["realm"])
	}
}

func TestLoadExtraVarsErrors(t *testing.T) {
	if _, err := loadExtraVars(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected error for missing path, got nil")
	}

	bad := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(bad, []byte("key: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadExtraVars(bad); err == nil {
		t.Error("expected error for malformed YAML, got nil")
	}
}

func TestDefinitionFile(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"services/zookeeper.yml", true},
		{"services/hdfs.yaml", true},
		{"generators/topology.star", true},
		{"playbooks/README.md", false},
		{"services/.zookeeper.yml.swp", false},
	}
	for _, tc := range cases {
		if got := definitionFile(tc.name); got != tc.want {
			t.Errorf("definitionFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
