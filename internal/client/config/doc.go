// Package config loads runtime configuration for the zonemedia client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. The .env file (env_file, default ".env") and ZONEMEDIA_* environment
//     variables, e.g. ZONEMEDIA_LIBRARY_DIR.
//  4. Command-line flags (see parseFlags).
//
// The result is checked with (*Config).Validate.
//
// # JSON schema
//
// Durations accept strings like "3s" or integer nanoseconds:
//
//	{
//	  "manifest_endpoint": "https://zones.example/api/media",
//	  "manifest_transport": "http",
//	  "library_dir": "/var/lib/zonemedia/library",
//	  "download_concurrency": 4,
//	  "resume_interval": "1m",
//	  "match_mode": "exact"
//	}
package config
