// Command migrate applies the SQL files under migrations/ to the configured
// Postgres database. The service itself only runs db.AutoMigrate in
// development (see cmd/fluxpay-engine); production schema changes, including
// the row-level-security policies in 0002_tenant_row_level_security, go
// through this tool instead.
package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/jsoonworld/fluxpay-engine/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "up or down")
	steps := flag.Int("steps", 0, "number of steps to apply (0 = all)")
	sourceDir := flag.String("source", "migrations", "path to the migrations directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := migrate.New("file://"+*sourceDir, cfg.DB.URL()+"&x-migrations-table=schema_migrations")
	if err != nil {
		log.Fatalf("failed to initialize migrator: %v", err)
	}

	switch *direction {
	case "up":
		err = applySteps(db, *steps, true)
	case "down":
		err = applySteps(db, *steps, false)
	default:
		log.Fatalf("unknown direction %q, expected up or down", *direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("migration %s complete", *direction)
}

func applySteps(m *migrate.Migrate, steps int, up bool) error {
	if steps == 0 {
		if up {
			return m.Up()
		}
		return m.Down()
	}
	if up {
		return m.Steps(steps)
	}
	return m.Steps(-steps)
}
