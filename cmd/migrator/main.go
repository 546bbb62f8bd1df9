package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/infra/pgutils"
	"github.com/fastprodman/balancesync/pkg/envconf"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

//go:embed test_data/*.sql
var seedFS embed.FS

type migratorConfig struct {
	DSN      string     `env:"PG_DSN"`
	LogLevel slog.Level `env:"APP_LOG_LEVEL" default:"INFO"`
	AppEnv   string     `env:"APP_ENV" default:"PROD"`
}

// migrationSet is one independently versioned group of migrations.
type migrationSet struct {
	name  string
	fsys  fs.FS
	dir   string
	table string
}

var (
	schema = migrationSet{name: "schema", fsys: schemaFS, dir: "migrations", table: postgres.DefaultMigrationsTable}
	// seeds keep their own version table so they never collide with schema versions
	seeds = migrationSet{name: "dev seeds", fsys: seedFS, dir: "test_data", table: "schema_migrations_test_data"}
)

func main() {
	down := flag.Int("down", 0, "Roll back this many schema migrations instead of migrating up")
	flag.Parse()

	err := run(context.Background(), *down)
	if err != nil {
		slog.Error("migration run failed", logging.Err(err))
		os.Exit(1)
	}

	slog.Info("migration run finished successfully")
}

func run(ctx context.Context, down int) error {
	// a missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	cfg := new(migratorConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	db, err := sql.Open(pgutils.DriverName, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	//nolint:errcheck
	defer db.Close()

	err = db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	sets := []migrationSet{schema}
	if cfg.AppEnv == "DEV" {
		sets = append(sets, seeds)
	}

	if down > 0 {
		// seeds reference schema rows, so they go first
		for i := len(sets) - 1; i >= 0; i-- {
			steps := down
			if sets[i].name == seeds.name {
				steps = -1
			}

			err = sets[i].migrate(db, steps)
			if err != nil {
				return err
			}
		}

		return nil
	}

	for _, set := range sets {
		err = set.migrate(db, 0)
		if err != nil {
			return err
		}
	}

	return nil
}

// migrate applies every pending up migration when down is 0, rolls back
// down steps when positive, and rolls back everything when negative.
func (s migrationSet) migrate(db *sql.DB, down int) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: s.table})
	if err != nil {
		return fmt.Errorf("%s: init postgres driver: %w", s.name, err)
	}

	src, err := iofs.New(s.fsys, s.dir)
	if err != nil {
		return fmt.Errorf("%s: iofs source: %w", s.name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("%s: migrate instance: %w", s.name, err)
	}

	switch {
	case down > 0:
		err = m.Steps(-down)
	case down < 0:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: migrate: %w", s.name, err)
	}

	slog.Info("migrations applied", slog.String("set", s.name), slog.Int("down", down))

	return nil
}
