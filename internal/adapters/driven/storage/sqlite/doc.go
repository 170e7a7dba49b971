// Package sqlite provides a SQLite-backed implementation of driven.Store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. Versions, change sets and the audit trail share one
// database so a Store.Update maps onto a single SQL transaction.
//
// # Schema
//
// The schema is managed through numbered migrations in migrations/. Applied
// versions are recorded in schema_migrations.
//
// # Concurrency
//
// Every row carries a revision. Updates match on it and a zero-row update is
// reported as a ConcurrencyConflictError. The (entity type, entity ID,
// number) unique index turns two racing drafts into a conflict as well.
//
// # Data Location
//
// By default the database is stored at ~/.ratebook/data/ratebook.db.
package sqlite
