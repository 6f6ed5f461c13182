// Package config loads runtime configuration for the surveyctl client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJSON) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Flags are filtered out of the full argument list with flagx, so they may
// appear anywhere on the surveyctl command line; Split returns the
// arguments left for the command tree.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "5s"
// or integer nanoseconds:
//
//	{
//	  "server_url": "https://survey.example.org/api",
//	  "db_path": "/data/fieldsync.db",
//	  "online_check_interval": "10s",
//	  "storage_quota": 536870912,
//	  "log_level": "debug",
//	  "s3_bucket": "survey-photos"
//	}
//
// Environment variables are not read; AWS credentials fall back to the SDK's
// default chain when s3_access_key is empty.
package config
