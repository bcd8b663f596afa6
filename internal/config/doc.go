// Package config handles configuration loading for ember storage hosts.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; running without a
// config file at all is supported through Default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EMBER_CONFIG environment variable
//  2. ./ember.yaml (current directory)
//  3. ~/.config/ember/ember.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	storage:
//	  data_dir: "${EMBER_DATA_DIR}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	locks:
//	  waiting_threshold: "2s"
//	  slow_threshold: "10s"
//	  acquire_timeout: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Storage:
//
//	storage:
//	  data_dir: "/var/lib/ember"
//	  backend: "flat"   # flat | tree; stored settings win once present
//
// Locks (all advisory; acquire_timeout opts into failing instead of
// waiting):
//
//	locks:
//	  waiting_threshold: "2s"
//	  slow_threshold: "10s"
//
// Logging:
//
//	logging:
//	  level: "info"    # debug | info | warn | error
//	  format: "text"   # text | json
//
// Diagnostics ring size:
//
//	diag:
//	  capacity: 256
package config
