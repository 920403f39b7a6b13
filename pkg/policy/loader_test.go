package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "rules"), "one.rego", "package one\n\nimport rego.v1\n")
	writePolicy(t, filepath.Join(dir, "rules"), "two.rego", "package two\n\nimport rego.v1\n")
	single := writePolicy(t, dir, "three.rego", "package three\n\nimport rego.v1\n")

	policies, err := NewLoader().LoadFromPaths([]string{filepath.Join(dir, "rules"), single})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(policies))
	}

	want := []string{"one", "two", "three"}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
	}
	if policies[2].Source != single {
		t.Errorf("expected source %s, got %s", single, policies[2].Source)
	}
}

func TestLoaderLoadsRecursively(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "top.rego", "package top\n")
	writePolicy(t, filepath.Join(dir, "nested", "deeper"), "leaf.rego", "package leaf\n")

	policies, err := NewLoader().LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
}

func TestLoaderSkipsNonRegoFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "rule.rego", "package rule\n")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rule.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	policies, err := NewLoader().LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "rule" {
		t.Errorf("expected policy rule, got %s", policies[0].Name)
	}
}

func TestLoaderMissingPath(t *testing.T) {
	_, err := NewLoader().LoadFromPaths([]string{"/does/not/exist"})
	if err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestLoaderRejectsNonRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.txt")
	if err := os.WriteFile(path, []byte("not rego"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewLoader().LoadFromPaths([]string{path})
	if err == nil {
		t.Fatal("expected an error for a non-rego file")
	}
}

func TestLoaderExtractDescription(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "single comment line",
			content: "# Blocks weekend deploys\npackage p\n",
			want:    "Blocks weekend deploys",
		},
		{
			name:    "multi line header",
			content: "# Blocks weekend deploys\n# outside the change window\npackage p\n",
			want:    "Blocks weekend deploys outside the change window",
		},
		{
			name:    "no comments",
			content: "package p\n\ndeny contains msg if { false; msg := \"x\" }\n",
			want:    "",
		},
		{
			name:    "empty comment lines skipped",
			content: "# First\n#\n# Second\npackage p\n",
			want:    "First Second",
		},
		{
			name:    "comments after code ignored",
			content: "package p\n\n# inline note\n",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loader.extractDescription(tt.content)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoaderWatchTriggersReload(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	loader := NewLoader()
	err := loader.Watch(ctx, []string{dir}, func() error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writePolicy(t, dir, "late.rego", "package late\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a reload after writing a policy file")
	}
}

func TestLoaderWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	loader := NewLoader()
	err := loader.Watch(ctx, []string{dir}, func() error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("expected no reload for a non-rego file")
	case <-time.After(1 * time.Second):
	}
}

func TestLoaderCloseWithoutWatch(t *testing.T) {
	if err := NewLoader().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
