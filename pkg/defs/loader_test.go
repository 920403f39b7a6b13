package defs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

const zookeeperYAML = `name: zookeeper
components:
  - name: server
    operations:
      - kind: install
      - kind: config
      - kind: start
operations:
  - kind: install
    noop: true
    depends_on: [zookeeper_server_install]
  - kind: config
    noop: true
    depends_on: [zookeeper_server_config]
  - kind: start
    noop: true
    depends_on: [zookeeper_server_start]
`

const hdfsYAML = `name: hdfs
components:
  - name: namenode
    depends_on: [zookeeper/server]
    operations:
      - kind: install
      - kind: config
      - kind: start
  - name: datanode
    depends_on: [hdfs/namenode]
    operations:
      - kind: install
      - kind: config
      - kind: start
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// coreCollection writes the canonical two-service collection and
// returns its path.
func coreCollection(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "core")
	writeFile(t, filepath.Join(dir, "services", "zookeeper.yml"), zookeeperYAML)
	writeFile(t, filepath.Join(dir, "services", "hdfs.yml"), hdfsYAML)
	return dir
}

func TestLoaderLoad(t *testing.T) {
	bundle, err := NewLoader().Load(context.Background(), []string{coreCollection(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(bundle.Services))
	}
	// Service files load in sorted order within a collection.
	if bundle.Services[0].Name != "hdfs" || bundle.Services[1].Name != "zookeeper" {
		t.Errorf("unexpected service order: %s, %s", bundle.Services[0].Name, bundle.Services[1].Name)
	}

	zk := bundle.Services[1]
	if len(zk.Operations) != 3 {
		t.Errorf("expected 3 service-level operations, got %d", len(zk.Operations))
	}
	if !zk.Operations[0].Noop {
		t.Error("expected service-level install to be noop")
	}
	if len(zk.Components) != 1 || zk.Components[0].Name != "server" {
		t.Errorf("unexpected zookeeper components: %+v", zk.Components)
	}

	if len(bundle.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %d", len(bundle.SourceFiles))
	}
	if bundle.LoadedAt.IsZero() {
		t.Error("expected LoadedAt to be set")
	}
	if len(bundle.Playbooks) != 0 {
		t.Errorf("expected no playbooks, got %d", len(bundle.Playbooks))
	}
}

func TestLoaderLoadMergesCollections(t *testing.T) {
	core := coreCollection(t)

	extras := filepath.Join(t.TempDir(), "extras")
	writeFile(t, filepath.Join(extras, "services", "zookeeper.yml"), `name: zookeeper
components:
  - name: client
    depends_on: [zookeeper/server]
    operations:
      - kind: install
      - kind: config
`)
	writeFile(t, filepath.Join(extras, "services", "kafka.yml"), `name: kafka
components:
  - name: broker
    depends_on: [zookeeper/server]
    operations:
      - kind: install
      - kind: config
      - kind: start
`)

	bundle, err := NewLoader().Load(context.Background(), []string{core, extras})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(bundle.Services))
	}

	var zk *Service
	for i := range bundle.Services {
		if bundle.Services[i].Name == "zookeeper" {
			zk = &bundle.Services[i]
		}
	}
	if zk == nil {
		t.Fatal("zookeeper service missing after merge")
	}
	if len(zk.Components) != 2 {
		t.Fatalf("expected zookeeper to gain the client component, got %d components", len(zk.Components))
	}
	if zk.Components[0].Name != "server" || zk.Components[1].Name != "client" {
		t.Errorf("unexpected component order: %s, %s", zk.Components[0].Name, zk.Components[1].Name)
	}
}

func TestLoaderLoadExtendsComponent(t *testing.T) {
	core := filepath.Join(t.TempDir(), "core")
	writeFile(t, filepath.Join(core, "services", "kafka.yml"), `name: kafka
components:
  - name: broker
    operations:
      - kind: install
`)
	extras := filepath.Join(t.TempDir(), "extras")
	writeFile(t, filepath.Join(extras, "services", "kafka.yml"), `name: kafka
components:
  - name: broker
    depends_on: [zookeeper]
    operations:
      - kind: config
      - kind: start
`)

	bundle, err := NewLoader().Load(context.Background(), []string{core, extras})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(bundle.Services))
	}
	broker := bundle.Services[0].Components[0]
	if len(broker.Operations) != 3 {
		t.Errorf("expected broker to end up with 3 operations, got %d", len(broker.Operations))
	}
	if len(broker.DependsOn) != 1 || broker.DependsOn[0] != "zookeeper" {
		t.Errorf("expected broker depends_on to gain zookeeper, got %v", broker.DependsOn)
	}
}

func TestLoaderLoadDuplicateNode(t *testing.T) {
	core := coreCollection(t)

	extras := filepath.Join(t.TempDir(), "extras")
	writeFile(t, filepath.Join(extras, "services", "zookeeper.yml"), `name: zookeeper
components:
  - name: server
    operations:
      - kind: install
`)

	_, err := NewLoader().Load(context.Background(), []string{core, extras})
	if err == nil {
		t.Fatal("expected duplicate node error")
	}
	if !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "zookeeper_server_install") {
		t.Errorf("expected error to name the node, got %v", err)
	}
	if !strings.Contains(err.Error(), "core/services/zookeeper.yml") ||
		!strings.Contains(err.Error(), "extras/services/zookeeper.yml") {
		t.Errorf("expected error to name both sources, got %v", err)
	}
}

func TestLoaderLoadRejectsMalformedYAML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "broken")
	writeFile(t, filepath.Join(dir, "services", "bad.yml"), "::::\n")

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoaderLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "undeclarable kind",
			yaml: `name: zookeeper
operations:
  - kind: deploy
`,
		},
		{
			name: "unknown field",
			yaml: `name: zookeeper
dependson: [hdfs]
operations:
  - kind: start
`,
		},
		{
			name: "service name with underscore",
			yaml: `name: zoo_keeper
operations:
  - kind: start
`,
		},
		{
			name: "missing name",
			yaml: `components:
  - name: server
    operations:
      - kind: start
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "broken")
			writeFile(t, filepath.Join(dir, "services", "svc.yml"), tt.yaml)

			_, err := NewLoader().Load(context.Background(), []string{dir})
			if err == nil {
				t.Fatal("expected schema violation error")
			}
			if !strings.Contains(err.Error(), "broken/services/svc.yml") {
				t.Errorf("expected error to name the source file, got %v", err)
			}
		})
	}
}

func TestLoaderLoadRejectsEmptyService(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sparse")
	writeFile(t, filepath.Join(dir, "services", "solo.yml"), "name: solo\n")

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for service without operations or components")
	}
	if !strings.Contains(err.Error(), "declares no operations or components") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoaderLoadRejectsEmptyOperationsList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sparse")
	writeFile(t, filepath.Join(dir, "services", "solo.yml"), `name: solo
components:
  - name: node
    operations: []
`)

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for component with empty operations")
	}
}

func TestLoaderLoadEmptyCollection(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoader().Load(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("expected error for empty collection")
	}
	if !strings.Contains(err.Error(), "no service definitions") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoaderLoadMissingCollection(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), []string{"/nonexistent/collection"})
	if err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestLoaderLoadNoPaths(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for empty path list")
	}
}

func TestLoaderLoadPlaybooks(t *testing.T) {
	core := coreCollection(t)
	writeFile(t, filepath.Join(core, "playbooks", "zookeeper_server_install.yml"), "---\n")
	writeFile(t, filepath.Join(core, "playbooks", "zookeeper_server_config.yml"), "---\n")

	extras := filepath.Join(t.TempDir(), "extras")
	writeFile(t, filepath.Join(extras, "services", "kafka.yml"), `name: kafka
components:
  - name: broker
    operations:
      - kind: install
`)
	writeFile(t, filepath.Join(extras, "playbooks", "zookeeper_server_config.yml"), "---\n")
	writeFile(t, filepath.Join(extras, "playbooks", "kafka_broker_install.yml"), "---\n")

	bundle, err := NewLoader().Load(context.Background(), []string{core, extras})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Playbooks) != 3 {
		t.Fatalf("expected 3 playbooks, got %d", len(bundle.Playbooks))
	}
	if got := bundle.Playbooks["zookeeper_server_install"]; !strings.HasPrefix(got, core) {
		t.Errorf("expected core playbook for zookeeper_server_install, got %s", got)
	}
	// Later collections override earlier playbooks.
	if got := bundle.Playbooks["zookeeper_server_config"]; !strings.HasPrefix(got, extras) {
		t.Errorf("expected extras playbook to override zookeeper_server_config, got %s", got)
	}
}

func TestBundleServiceDefs(t *testing.T) {
	bundle, err := NewLoader().Load(context.Background(), []string{coreCollection(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	graph, err := engine.BuildGraph(bundle.ServiceDefs())
	if err != nil {
		t.Fatalf("failed to build graph from bundle: %v", err)
	}

	// Three operations each for zookeeper/server, hdfs/namenode and
	// hdfs/datanode, plus three service-level zookeeper nodes.
	if graph.Len() != 12 {
		t.Errorf("expected 12 graph nodes, got %d", graph.Len())
	}

	node, ok := graph.Node("zookeeper_install")
	if !ok {
		t.Fatal("expected service-level zookeeper_install node")
	}
	if node.Component != "" || !node.Noop {
		t.Errorf("unexpected service-level node: %+v", node)
	}

	deps := graph.Dependencies("hdfs_namenode_start")
	want := []string{"hdfs_namenode_config", "zookeeper_server_start"}
	if len(deps) != len(want) || deps[0] != want[0] || deps[1] != want[1] {
		t.Errorf("expected dependencies %v, got %v", want, deps)
	}
}
