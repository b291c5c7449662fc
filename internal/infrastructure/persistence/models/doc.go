// Package models holds the GORM models for the inventory engine tables.
// Domain types in internal/domain/inventory carry no ORM tags; each model
// here has a ToDomain method and a ...FromDomain constructor.
//
//   - base.go: entity, aggregate and audited aggregate columns
//   - inventory.go: items and units, stock batches, the current stock
//     ledger, usage records, their lines and allocation details
//
// The SQL migrations under migrations/ are authoritative for PostgreSQL.
// AllModels feeds AutoMigrate for SQLite-backed tests.
package models
