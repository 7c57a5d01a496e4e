// Package config defines the configuration structure for docjobs.
//
// Configuration is organized into sections (Scheduler, Engine, History).
// Defaults come from `default` struct tags applied by creasty/defaults.
//
// # Configuration Structure
//
//	Configuration
//	├── Scheduler      - Worker pool settings
//	├── Engine         - PDF engine settings
//	├── History        - Job history database
//	├── LogFormat      - Logging format
//	└── LogLevel       - Logging verbosity
//
// # Scheduler Configuration
//
//	┌──────────────────┬─────────┬────────────────────────────────────────┐
//	│ Field            │ Default │ Description                            │
//	├──────────────────┼─────────┼────────────────────────────────────────┤
//	│ Workers          │ 1       │ Number of scheduler workers            │
//	│ FontsBatchSize   │ 20      │ Pages scanned per fonts job run        │
//	└──────────────────┴─────────┴────────────────────────────────────────┘
//
// With one worker every job is serialized. More workers let jobs on
// different documents run in parallel; jobs on one document never overlap.
//
// # Engine Configuration
//
//	┌──────────────────┬─────────┬────────────────────────────────────────┐
//	│ Field            │ Default │ Description                            │
//	├──────────────────┼─────────┼────────────────────────────────────────┤
//	│ TempDir          │ ""      │ Temporary files, os.TempDir() if empty │
//	│ ExportDPI        │ 150     │ Resolution of printed sheets           │
//	└──────────────────┴─────────┴────────────────────────────────────────┘
//
// # History Configuration
//
//	┌─────────┬──────────────────┬────────────────────────────────────────┐
//	│ Field   │ Default          │ Description                            │
//	├─────────┼──────────────────┼────────────────────────────────────────┤
//	│ Enabled │ true             │ Record terminal jobs                   │
//	│ Path    │ "docjobs.duckdb" │ DuckDB file, ":memory:" for in-memory  │
//	└─────────┴──────────────────┴────────────────────────────────────────┘
//
// # Usage Example
//
//	cfg := config.NewConfigurationWithOptionsAndDefaults(
//	    config.WithScheduler(config.Scheduler{Workers: 4, FontsBatchSize: 20}),
//	    config.WithLogLevel("debug"),
//	)
//
// The CLI binds every field to a flag and to a DOCJOBS_* environment
// variable.
//
// # Debug Logging
//
// All fields are tagged with `debugmap:"visible"` allowing safe logging
// of configuration values via DebugMap():
//
//	log.Info("configuration loaded", zap.Any("config", cfg.DebugMap()))
package config
