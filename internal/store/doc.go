// Package store implements the job history for docjobs.
//
// History lives in a DuckDB database, in memory or on disk. The Session
// records every job that reaches a terminal state; the CLI reads it back.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Store (facade)                          │
//	├─────────────────────────────────────────────────────────────────┤
//	│                           JobStore                              │
//	│                              ▼                                  │
//	│                     QueryInterceptor (debug log)                │
//	│                              ▼                                  │
//	│                      jobs, schema_migrations                    │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Tables
//
// Tables created by migrations (internal/store/migrations/sql/):
//
//	┌────────────────────┬─────────────────────────────────────────────┐
//	│  Table             │  Purpose                                    │
//	├────────────────────┼─────────────────────────────────────────────┤
//	│  jobs              │  One row per job id, last run wins          │
//	│  schema_migrations │  Migration version tracking                 │
//	└────────────────────┴─────────────────────────────────────────────┘
//
// # Initialization Flow
//
//	db, _ := store.NewDB(path)
//	migrations.Run(ctx, db)
//	s := store.NewStore(db)
//
// # JobStore
//
// Methods:
//   - Record(ctx, rec) → error (UPSERT on id)
//   - Get(ctx, id) → *models.JobRecord, NotFoundError when missing
//   - List(ctx, opts...) → []models.JobRecord
//   - Count(ctx, opts...) → int
//   - Prune(ctx, before) → rows deleted
//
// List and Count take ListOption functions, each modifying a
// squirrel.SelectBuilder:
//
//	records, err := s.Jobs().List(ctx,
//	    store.ByKind("render", "thumbnail"),
//	    store.ByState(models.JobStateFailed),
//	    store.WithSort([]store.SortParam{{Field: "finishedAt", Desc: true}}),
//	    store.WithLimit(50),
//	)
//
// Sort Field Mapping:
//
//	┌──────────────┬─────────────────────────────┐
//	│  Field       │  Database Column            │
//	├──────────────┼─────────────────────────────┤
//	│  kind        │  kind                       │
//	│  state       │  state                      │
//	│  priority    │  priority                   │
//	│  startedAt   │  started_at                 │
//	│  finishedAt  │  finished_at                │
//	│  createdAt   │  created_at                 │
//	└──────────────┴─────────────────────────────┘
//
// The id column is always appended as tie-breaker.
package store
