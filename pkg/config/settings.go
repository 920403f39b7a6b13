package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file Load falls back to when neither
// an explicit path nor TDP_CONFIG names one.
const DefaultConfigFile = "tdp.yml"

// Settings is the runtime configuration of a tdp process, loaded from
// YAML with TDP_* environment overrides on top.
type Settings struct {
	// DBPath is the SQLite database file holding runs and state.
	DBPath string `yaml:"db_path" validate:"required"`

	// CollectionPaths are the collection directories definitions are
	// loaded from, in override order.
	CollectionPaths []string `yaml:"collection_paths" validate:"dive,required"`

	// RunDir is the working directory the executor is launched in.
	// Empty keeps the transport's default directory.
	RunDir string `yaml:"run_dir"`

	// VarsPath is an optional YAML file, or directory of YAML files,
	// of extra variables passed to every executor invocation. Files in
	// a directory merge in name order, later keys overriding earlier
	// ones.
	VarsPath string `yaml:"vars_path"`

	// Executor configures the ansible-playbook adapter.
	Executor ExecutorSettings `yaml:"executor"`

	// Retry bounds per-step retries.
	Retry RetrySettings `yaml:"retry"`

	// Parallel enables level-batch execution; off means strictly
	// sequential runs.
	Parallel bool `yaml:"parallel"`

	// MaxParallel caps concurrent steps within one dependency level
	// when Parallel is on.
	MaxParallel int `yaml:"max_parallel" validate:"min=0"`

	// Policy configures the plan gate.
	Policy PolicySettings `yaml:"policy"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// ExecutorSettings configures how plan steps are executed.
type ExecutorSettings struct {
	// Binary overrides the ansible-playbook executable.
	Binary string `yaml:"binary"`

	// PlaybookDir resolves playbooks for nodes no collection ships one
	// for, as <node id>.yml.
	PlaybookDir string `yaml:"playbook_dir"`

	// Inventory is passed to every invocation via -i when non-empty.
	Inventory string `yaml:"inventory"`

	// ExtraArgs are appended verbatim to every invocation.
	ExtraArgs []string `yaml:"extra_args"`

	// DryRun makes every step succeed without invoking the tool.
	DryRun bool `yaml:"dry_run"`

	// Remote runs the tool on a remote control node over SSH instead
	// of locally.
	Remote bool `yaml:"remote"`

	// SSH configures the control-node connection when Remote is on.
	SSH SSHSettings `yaml:"ssh"`
}

// SSHSettings configures the SSH transport to the control node.
// Secrets may be left out of the file and supplied through
// TDP_SSH_PASSWORD / TDP_SSH_PASSPHRASE instead.
type SSHSettings struct {
	Host                 string   `yaml:"host"`
	Port                 int      `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User                 string   `yaml:"user"`
	AuthMethod           string   `yaml:"auth_method" validate:"omitempty,oneof=key password"`
	Password             string   `yaml:"password"`
	PrivateKeyPath       string   `yaml:"private_key_path"`
	PrivateKeyPassphrase string   `yaml:"private_key_passphrase"`
	KnownHostsPath       string   `yaml:"known_hosts_path"`
	StrictHostKey        bool     `yaml:"strict_host_key"`
	ConnectTimeout       Duration `yaml:"connect_timeout"`
}

// RetrySettings bounds per-step retries. Fields mirror the engine's
// retry policy.
type RetrySettings struct {
	MaxRetries int      `yaml:"max_retries" validate:"min=0"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// PolicySettings configures the plan gate: where custom rules load
// from and the limits the built-in rules enforce.
type PolicySettings struct {
	// Dir is scanned recursively for .rego policy files; empty
	// disables custom policies.
	Dir string `yaml:"dir"`

	// ProtectedServices may not be stopped.
	ProtectedServices []string `yaml:"protected_services"`

	// Frozen components ("service" or "service/component") may not be
	// restarted.
	Frozen []string `yaml:"frozen"`

	// MaxPlanSteps rejects larger plans; zero means unlimited.
	MaxPlanSteps int `yaml:"max_plan_steps" validate:"min=0"`
}

// TelemetrySettings configures the observability stack.
type TelemetrySettings struct {
	LogLevel        string  `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string  `yaml:"log_format" validate:"omitempty,oneof=console json"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	MetricsListen   string  `yaml:"metrics_listen"`
	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	TracingSampling float64 `yaml:"tracing_sampling" validate:"min=0,max=1"`
}

// DefaultSettings returns the settings a process runs with before the
// file and environment are applied.
func DefaultSettings() *Settings {
	return &Settings{
		DBPath:      "tdp.db",
		MaxParallel: 4,
		Executor: ExecutorSettings{
			SSH: SSHSettings{
				Port:           22,
				AuthMethod:     "key",
				StrictHostKey:  true,
				ConnectTimeout: Duration(30 * time.Second),
			},
		},
		Retry: RetrySettings{
			MaxRetries: 2,
			BaseDelay:  Duration(time.Second),
			MaxDelay:   Duration(time.Minute),
		},
		Telemetry: TelemetrySettings{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsListen:   ":9090",
			TracingExporter: "none",
			TracingSampling: 1.0,
		},
	}
}

// Workers translates the parallel settings into the runner's worker
// cap: 1 means strictly sequential.
func (s *Settings) Workers() int {
	if !s.Parallel {
		return 1
	}
	if s.MaxParallel < 2 {
		return 2
	}
	return s.MaxParallel
}

// Duration is a time.Duration that unmarshals from YAML either as a
// duration string ("30s", "5m") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration value %q", value.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
