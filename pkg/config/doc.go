// Package config loads the runtime settings of a tdp process.
//
// Settings come from three layers, later layers winning: built-in
// defaults, a YAML file (tdp.yml by default, or the path named by
// --config / TDP_CONFIG), and TDP_* environment variables.
//
// Environment overrides:
//
//	TDP_CONFIG           config file path
//	TDP_DB_PATH          SQLite database file
//	TDP_COLLECTION_PATH  collection directories, path-list separated
//	TDP_RUN_DIR          executor working directory
//	TDP_VARS             extra vars YAML file
//	TDP_INVENTORY        ansible inventory
//	TDP_DRY_RUN          dry-run default (bool)
//	TDP_PARALLEL         parallel batch execution (bool)
//	TDP_LOG_LEVEL        log level
//	TDP_LOG_FORMAT       console or json
//	TDP_METRICS_LISTEN   metrics listen address (implies enabled)
//	TDP_POLICY_DIR       custom policy directory
//	TDP_SSH_PASSWORD     control node SSH password
//	TDP_SSH_PASSPHRASE   private key passphrase
//
// The SSH secrets exist so credentials can stay out of config files.
//
// A minimal tdp.yml:
//
//	db_path: /var/lib/tdp/tdp.db
//	collection_paths:
//	  - /opt/tdp/collections/core
//	  - /opt/tdp/collections/extras
//	run_dir: /var/lib/tdp/run
//	executor:
//	  inventory: /etc/tdp/hosts.ini
//	retry:
//	  max_retries: 2
//	  base_delay: 1s
//	  max_delay: 1m
//	policy:
//	  protected_services: [zookeeper]
//
// Durations accept Go duration strings ("30s", "5m") or bare numbers
// of seconds.
package config
