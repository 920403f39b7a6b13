package defs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGeneratorEmitsServices(t *testing.T) {
	dir := coreCollection(t)
	writeFile(t, filepath.Join(dir, "generators", "exporters.star"), `
def generate(ctx):
    services = []
    for svc in ctx["services"]:
        services.append({
            "name": svc["name"] + "-exporter",
            "components": [{
                "name": "agent",
                "depends_on": [svc["name"]] if "operations" in svc else [],
                "operations": [
                    {"kind": "install"},
                    {"kind": "config"},
                    {"kind": "start"},
                ],
            }],
        })
    return services
`)

	bundle, err := NewLoader().Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Services) != 4 {
		t.Fatalf("expected 4 services, got %d", len(bundle.Services))
	}
	// Generators run after the collection's YAML files and see them in
	// merged order.
	if bundle.Services[2].Name != "hdfs-exporter" || bundle.Services[3].Name != "zookeeper-exporter" {
		t.Errorf("unexpected generated services: %s, %s", bundle.Services[2].Name, bundle.Services[3].Name)
	}

	exporter := bundle.Services[3]
	if len(exporter.Components) != 1 || exporter.Components[0].Name != "agent" {
		t.Fatalf("unexpected exporter components: %+v", exporter.Components)
	}
	// Only zookeeper declares service-level operations, so only its
	// exporter picks up the component reference.
	if got := exporter.Components[0].DependsOn; len(got) != 1 || got[0] != "zookeeper" {
		t.Errorf("expected exporter agent to depend on zookeeper, got %v", got)
	}
	if len(bundle.SourceFiles) != 3 {
		t.Errorf("expected 3 source files, got %d", len(bundle.SourceFiles))
	}
}

func TestGeneratorSeesCollectionName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    return [{
        "name": ctx["collection"] + "-agent",
        "operations": [{"kind": "install"}, {"kind": "config"}, {"kind": "start"}],
    }]
`)

	bundle, err := NewLoader().Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Services) != 1 || bundle.Services[0].Name != "metrics-agent" {
		t.Fatalf("expected metrics-agent service, got %+v", bundle.Services)
	}
}

func TestGeneratorOutputValidated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bad")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    return [{"name": "agent", "operations": [{"kind": "deploy"}]}]
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected validation error for generated service")
	}
	if !strings.Contains(err.Error(), "bad/generators/svc.star") {
		t.Errorf("expected error to name the generator, got %v", err)
	}
}

func TestGeneratorMissingFunction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bad")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `x = 1
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for missing generate function")
	}
	if !strings.Contains(err.Error(), "does not define generate") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGeneratorBadReturn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bad")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    return 42
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for non-list return")
	}
	if !strings.Contains(err.Error(), "must return a list") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGeneratorScriptError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bad")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    return [undefined_variable]
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for failing script")
	}
}

func TestGeneratorTimeout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "slow")
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    n = 0
    for i in range(100000000):
        n += i
    return []
`)

	loader := NewLoader()
	loader.genTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := loader.Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "did not finish") {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
}

func TestGeneratorDuplicateAgainstYAML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "clash")
	writeFile(t, filepath.Join(dir, "services", "kafka.yml"), `name: kafka
components:
  - name: broker
    operations:
      - kind: install
`)
	writeFile(t, filepath.Join(dir, "generators", "svc.star"), `
def generate(ctx):
    return [{
        "name": "kafka",
        "components": [{"name": "broker", "operations": [{"kind": "install"}]}],
    }]
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected duplicate node error")
	}
	if !strings.Contains(err.Error(), "kafka_broker_install") {
		t.Errorf("expected error to name the node, got %v", err)
	}
	if !strings.Contains(err.Error(), "clash/generators/svc.star") {
		t.Errorf("expected error to name the generator source, got %v", err)
	}
}
