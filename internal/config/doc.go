// Package config loads the ingestion service configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing.
// Load returns the raw file; LoadWithDefaults fills unset fields;
// LoadAndValidate additionally rejects inconsistent values.
package config
