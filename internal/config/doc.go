// Package config loads runtime configuration for the journal core.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-s int      session duration (minutes)
//	-m int      maximum session lifetime (minutes)
//	-x int      default extension (minutes)
//	-p string   extension policy: truncate | reject
//	-n int      maximum concurrent sessions
//	-w int      expiry sweep interval (seconds)
//	-f int      failed proof threshold
//	-b string   storage backend: sqlite | postgres | s3 | memory
//	-d string   database DSN
//	-r string   redis address for shared failed-proof tracking
//	-g string   device fingerprint
//	-l string   log level: debug | info | warn | error
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "15m" or
// integer nanoseconds:
//
//	{
//	  "session_duration": "15m",
//	  "max_session_lifetime": "4h",
//	  "extension_policy": "truncate",
//	  "storage_backend": "sqlite",
//	  "database_dsn": "journal.db"
//	}
package config
