// Package config loads runtime configuration for the portal agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJSON) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the clinic backend
//	-d string   path of the local SQLite database file
//	-p string   patient identifier for this installation
//	-i int      online status check interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "30s" or integer nanoseconds:
//
//	{
//	  "api_base_url": "https://portal.clinic.example",
//	  "database_path": "/var/lib/portal/portal.db",
//	  "patient_id": "pat-42",
//	  "online_check_interval": "30s"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
