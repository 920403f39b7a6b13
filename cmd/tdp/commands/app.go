package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/ansible"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/config"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/defs"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/policy"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/stores"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/telemetry"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/transports"
	sshtransport "github.com/bridgecrew-perf6/tdp-lib/pkg/transports/ssh"
)

// app wires the tdp stack for one command invocation: settings first,
// telemetry on top, then definitions, store, gate and executor on
// demand. Commands take only the pieces they need, so a status query
// never loads collections and a plan never opens the database.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
}

// newApp loads settings and boots telemetry. Every command starts here
// so logging behaves the same everywhere.
func newApp() (*app, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		settings.Telemetry.LogLevel = logLevel
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = cliVersion
	tcfg.Logging.Level = settings.Telemetry.LogLevel
	tcfg.Logging.Format = settings.Telemetry.LogFormat
	tcfg.Metrics.Enabled = settings.Telemetry.MetricsEnabled
	tcfg.Metrics.ListenAddress = settings.Telemetry.MetricsListen
	tcfg.Tracing.Enabled = settings.Telemetry.TracingEnabled
	tcfg.Tracing.Exporter = settings.Telemetry.TracingExporter
	tcfg.Tracing.Endpoint = settings.Telemetry.TracingEndpoint
	tcfg.Tracing.SamplingRate = settings.Telemetry.TracingSampling

	tel, err := telemetry.New(tcfg)
	if err != nil {
		return nil, err
	}
	tel.Logger.InstallGlobal()

	return &app{settings: settings, tel: tel}, nil
}

// close flushes telemetry under its own timeout so a hung exporter
// cannot wedge process exit.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("telemetry shutdown failed")
	}
}

// loadBundle loads and merges the configured collections.
func (a *app) loadBundle(ctx context.Context) (*defs.Bundle, error) {
	if len(a.settings.CollectionPaths) == 0 {
		return nil, fmt.Errorf("no collection paths configured (set collection_paths or TDP_COLLECTION_PATH)")
	}
	return defs.NewLoader().Load(ctx, a.settings.CollectionPaths)
}

// buildGraph loads collections and derives the dependency graph.
func (a *app) buildGraph(ctx context.Context) (*defs.Bundle, *engine.Graph, error) {
	bundle, err := a.loadBundle(ctx)
	if err != nil {
		return nil, nil, err
	}
	graph, err := engine.BuildGraph(bundle.ServiceDefs())
	if err != nil {
		return nil, nil, err
	}
	log.Debug().
		Int("nodes", graph.Len()).
		Int("services", len(graph.Services())).
		Msg("dependency graph built")
	return bundle, graph, nil
}

// openStore opens the run database, migrating it to the current
// schema. The caller owns the returned store and must close it.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.settings.DBPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newGate builds the policy gate: built-in rules from the configured
// limits plus any .rego files under the policy directory.
func (a *app) newGate(ctx context.Context) (*policy.Gate, error) {
	gate, err := policy.NewGate(policy.Limits{
		ProtectedServices: a.settings.Policy.ProtectedServices,
		Frozen:            a.settings.Policy.Frozen,
		MaxPlanSteps:      a.settings.Policy.MaxPlanSteps,
	})
	if err != nil {
		return nil, err
	}
	if dir := a.settings.Policy.Dir; dir != "" {
		if err := gate.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, err
		}
	}
	return gate, nil
}

// newExecutor builds the ansible executor over the configured
// transport. The returned cleanup closes the transport.
func (a *app) newExecutor(ctx context.Context, bundle *defs.Bundle, dryRun bool) (engine.Executor, func(), error) {
	transport, err := a.newTransport(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := transport.Close(); err != nil {
			log.Debug().Err(err).Msg("transport close failed")
		}
	}

	extraVars, err := loadExtraVars(a.settings.VarsPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	exec := a.settings.Executor
	executor, err := ansible.NewExecutor(ansible.Config{
		Playbooks:   bundle.Playbooks,
		PlaybookDir: exec.PlaybookDir,
		RunDir:      a.settings.RunDir,
		Inventory:   exec.Inventory,
		ExtraVars:   extraVars,
		ExtraArgs:   exec.ExtraArgs,
		Binary:      exec.Binary,
		DryRun:      dryRun,
	}, transport)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return executor, cleanup, nil
}

// newTransport picks the control-node transport: local exec by
// default, SSH when the executor is configured remote. The SSH
// connection is established here so dial and authentication problems
// surface before any run is created.
func (a *app) newTransport(ctx context.Context) (transports.Transport, error) {
	if !a.settings.Executor.Remote {
		return transports.NewLocal(), nil
	}

	s := a.settings.Executor.SSH
	cfg := sshtransport.DefaultConfig(s.Host, s.User)
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if s.AuthMethod != "" {
		cfg.AuthMethod = sshtransport.AuthMethod(s.AuthMethod)
	}
	cfg.Password = s.Password
	if s.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = s.PrivateKeyPath
	}
	cfg.PrivateKeyPassphrase = s.PrivateKeyPassphrase
	if s.KnownHostsPath != "" {
		cfg.KnownHostsPath = s.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = s.StrictHostKey
	if d := s.ConnectTimeout.Std(); d > 0 {
		cfg.ConnectTimeout = d
	}

	client, err := sshtransport.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("host", cfg.Address()).Msg("connected to control node")
	return client, nil
}

// runnerOptions translates settings and per-command overrides into the
// engine's execution options.
func (a *app) runnerOptions(parallel bool, maxParallel int) engine.RunnerOptions {
	workers := 1
	if parallel {
		workers = maxParallel
		if workers < 2 {
			workers = 2
		}
	}
	return engine.RunnerOptions{
		Retry: engine.RetryPolicy{
			MaxRetries: a.settings.Retry.MaxRetries,
			BaseDelay:  a.settings.Retry.BaseDelay.Std(),
			MaxDelay:   a.settings.Retry.MaxDelay.Std(),
		},
		MaxParallel: workers,
		Sink:        a.tel.EventSink(),
	}
}

// loadExtraVars reads extra variables from a YAML file, or from every
// .yml/.yaml file in a directory, merged in name order with later
// top-level keys overriding earlier ones.
func loadExtraVars(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("vars path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files = nil
		for _, pattern := range []string{"*.yml", "*.yaml"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
	}

	vars := make(map[string]interface{})
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("vars file %s: %w", file, err)
		}
		doc := make(map[string]interface{})
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("vars file %s: %w", file, err)
		}
		for k, v := range doc {
			vars[k] = v
		}
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}
