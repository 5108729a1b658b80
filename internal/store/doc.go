// Package store provides meal persistence for the gateway.
//
// # Architecture
//
// Store is the single interface the nutrition engine depends on. SQLStore
// implements it over database/sql with one dialect per driver:
//
//   - sqlite: modernc.org/sqlite, pure Go (default)
//   - sqlite3: github.com/mattn/go-sqlite3, requires cgo
//   - mysql: github.com/go-sql-driver/mysql
//
// # Data Model
//
// A Meal row mirrors the tracker's meals table: name, calories, macros
// (proteins, fats, carbs, fiber), water, meal type, healthiness score and
// optional notes. created_at is stored as fixed-width UTC text so range
// queries compare lexicographically on every backend.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// ":memory:" databases are pinned to a single connection.
//
// # Migrations
//
// Columns added after the first schema (fiber, water_ml, healthiness_score,
// notes) are added on open when missing. Safe to run repeatedly.
//
// # Testing
//
// Use NewMockStore() for unit tests; SetError injects failures.
// Use NewSQLiteStore on a t.TempDir() path for integration tests.
package store
