package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var schema embed.FS

// Run brings db up to the latest challenge-engine schema. Safe to call on
// every start; goose skips versions already applied.
func Run(db *sql.DB) error {
	goose.SetBaseFS(schema)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
