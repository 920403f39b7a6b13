package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load builds Settings from defaults, the YAML file, and TDP_*
// environment overrides, in that order. An empty path falls back to
// TDP_CONFIG and then to tdp.yml; only an explicitly named file is
// required to exist.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("TDP_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("config file loaded")
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := settings.applyEnv(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// applyEnv layers TDP_* variables over the loaded settings. Lists use
// the platform's path list separator, like PATH.
func (s *Settings) applyEnv() error {
	if v, ok := os.LookupEnv("TDP_DB_PATH"); ok {
		s.DBPath = v
	}
	if v, ok := os.LookupEnv("TDP_COLLECTION_PATH"); ok {
		s.CollectionPaths = filepath.SplitList(v)
	}
	if v, ok := os.LookupEnv("TDP_RUN_DIR"); ok {
		s.RunDir = v
	}
	if v, ok := os.LookupEnv("TDP_VARS"); ok {
		s.VarsPath = v
	}
	if v, ok := os.LookupEnv("TDP_INVENTORY"); ok {
		s.Executor.Inventory = v
	}
	if v, ok := os.LookupEnv("TDP_DRY_RUN"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TDP_DRY_RUN value %q: %w", v, err)
		}
		s.Executor.DryRun = parsed
	}
	if v, ok := os.LookupEnv("TDP_PARALLEL"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TDP_PARALLEL value %q: %w", v, err)
		}
		s.Parallel = parsed
	}
	if v, ok := os.LookupEnv("TDP_LOG_LEVEL"); ok {
		s.Telemetry.LogLevel = v
	}
	if v, ok := os.LookupEnv("TDP_LOG_FORMAT"); ok {
		s.Telemetry.LogFormat = v
	}
	if v, ok := os.LookupEnv("TDP_METRICS_LISTEN"); ok {
		s.Telemetry.MetricsListen = v
		s.Telemetry.MetricsEnabled = true
	}
	if v, ok := os.LookupEnv("TDP_POLICY_DIR"); ok {
		s.Policy.Dir = v
	}
	if v, ok := os.LookupEnv("TDP_SSH_PASSWORD"); ok {
		s.Executor.SSH.Password = v
	}
	if v, ok := os.LookupEnv("TDP_SSH_PASSPHRASE"); ok {
		s.Executor.SSH.PrivateKeyPassphrase = v
	}
	return nil
}

// Validate checks the settings' validator tags plus the cross-field
// constraints the tags cannot express.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if s.Executor.Remote && s.Executor.SSH.Host == "" {
		return fmt.Errorf("invalid configuration: executor.ssh.host is required when executor.remote is set")
	}
	return nil
}
