package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported SQL backends.
// Queries use $N placeholders, which both drivers accept as long as each
// number first appears in ascending order.
type Dialect struct {
	Name   string
	Driver string
	// schemas is false when the backend has no schemas; tables are then
	// prefixed with the schema name instead.
	schemas bool
}

var (
	Postgres = Dialect{Name: "postgres", Driver: "postgres", schemas: true}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite3"}
)

func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
	}
}

// Table returns the qualified name of schema.name.
func (d Dialect) Table(schema, name string) string {
	if d.schemas {
		return schema + "." + name
	}
	return schema + "_" + name
}

func (d Dialect) migrationTableDDL() string {
	if d.schemas {
		return `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	}
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
}

func (d Dialect) migrationTable() string {
	if d.schemas {
		return "public.schema_migrations"
	}
	return "schema_migrations"
}

// Open opens a connection pool for d. SQLite gets a single connection so
// writers never contend on the database lock.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d == SQLite {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
