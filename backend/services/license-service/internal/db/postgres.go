package db

import (
	"database/sql"
	"embed"

	libdb "cuehall/backend/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPostgres connects to Postgres using shared library helper.
func NewPostgres(dsn string) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn)
}

// Migrate brings the orders schema up to date.
func Migrate(dsn string) error {
	return libdb.Migrate(dsn, migrations, "migrations")
}
